package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/lexical"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

// MemoryClient is an in-process DbClient for local runs and tests.
type MemoryClient struct {
	mu            sync.RWMutex
	sources       map[string]*models.KnowledgeSource
	chunks        map[string][]models.DocumentChunk // source id -> all generations
	workspaces    map[string]*models.Workspace
	links         map[string]map[string]bool // workspace id -> source id -> enabled
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	scorer        lexical.Scorer
	now           func() time.Time
}

var _ core.DbClient = (*MemoryClient)(nil)

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		sources:       make(map[string]*models.KnowledgeSource),
		chunks:        make(map[string][]models.DocumentChunk),
		workspaces:    make(map[string]*models.Workspace),
		links:         make(map[string]map[string]bool),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		scorer:        lexical.NewScorer(),
		now:           time.Now,
	}
}

func (c *MemoryClient) Close() error { return nil }

func (c *MemoryClient) CreateSource(_ context.Context, src *models.KnowledgeSource) error {
	if src == nil {
		return fmt.Errorf("nil source")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sources[src.ID]; ok {
		return fmt.Errorf("source %s already exists", src.ID)
	}
	cp := *src
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = c.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	c.sources[src.ID] = &cp
	return nil
}

func (c *MemoryClient) GetSourceByID(_ context.Context, id string) (*models.KnowledgeSource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src, ok := c.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, core.ErrNotFound)
	}
	cp := *src
	return &cp, nil
}

func (c *MemoryClient) ListSourcesByOwner(_ context.Context, ownerID string) ([]models.KnowledgeSource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.KnowledgeSource
	for _, src := range c.sources {
		if src.OwnerID == ownerID {
			out = append(out, *src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// transition applies from -> to under the write lock, mirroring the conditional UPDATEs
// of the Postgres client.
func (c *MemoryClient) transition(id string, to models.SourceStatus, mutate func(*models.KnowledgeSource)) error {
	src, ok := c.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, core.ErrNotFound)
	}
	if !models.CanTransition(src.Status, to) {
		return fmt.Errorf("source %s %s -> %s: %w", id, src.Status, to, core.ErrInvalidTransition)
	}
	src.Status = to
	src.UpdatedAt = c.now()
	if mutate != nil {
		mutate(src)
	}
	return nil
}

func (c *MemoryClient) MarkSourceProcessing(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transition(id, models.StatusProcessing, nil)
}

func (c *MemoryClient) MarkSourceFailed(_ context.Context, id string, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transition(id, models.StatusError, func(s *models.KnowledgeSource) {
		s.ErrorMessage = &msg
	})
}

func (c *MemoryClient) MarkStaleSourceFailed(_ context.Context, id string, msg string, cutoff time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, core.ErrNotFound)
	}
	if src.Status == models.StatusProcessing && !src.UpdatedAt.Before(cutoff) {
		return fmt.Errorf("source %s is still processing: %w", id, core.ErrInvalidTransition)
	}
	return c.transition(id, models.StatusError, func(s *models.KnowledgeSource) {
		s.ErrorMessage = &msg
	})
}

func (c *MemoryClient) ResetSourceForReingest(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, core.ErrNotFound)
	}
	if !src.Status.Terminal() {
		return fmt.Errorf("source %s is %s: %w", id, src.Status, core.ErrInvalidTransition)
	}
	return c.transition(id, models.StatusPending, func(s *models.KnowledgeSource) {
		s.ErrorMessage = nil
	})
}

func (c *MemoryClient) CommitChunks(_ context.Context, sourceID string, chunks []models.DocumentChunk, processedAt time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src, ok := c.sources[sourceID]
	if !ok {
		return 0, fmt.Errorf("source %s: %w", sourceID, core.ErrNotFound)
	}
	if src.Status != models.StatusProcessing {
		return 0, fmt.Errorf("source %s is %s: %w", sourceID, src.Status, core.ErrInvalidTransition)
	}

	gen := src.CurrentGeneration + 1
	next := make([]models.DocumentChunk, len(chunks))
	for i, ch := range chunks {
		ch.SourceID = sourceID
		ch.Generation = gen
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = processedAt
		}
		next[i] = ch
	}

	c.chunks[sourceID] = next
	src.CurrentGeneration = gen
	src.Status = models.StatusReady
	src.ChunkCount = len(next)
	src.ErrorMessage = nil
	at := processedAt
	src.LastProcessedAt = &at
	src.UpdatedAt = c.now()
	return gen, nil
}

func (c *MemoryClient) GetChunksBySource(_ context.Context, sourceID string) ([]models.DocumentChunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := append([]models.DocumentChunk(nil), c.chunks[sourceID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (c *MemoryClient) CreateWorkspace(_ context.Context, ws *models.Workspace) error {
	if ws == nil {
		return fmt.Errorf("nil workspace")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *ws
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = c.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	c.workspaces[ws.ID] = &cp
	return nil
}

func (c *MemoryClient) GetWorkspace(_ context.Context, id string) (*models.Workspace, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ws, ok := c.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, core.ErrNotFound)
	}
	cp := *ws
	return &cp, nil
}

func (c *MemoryClient) SetWorkspaceSource(_ context.Context, link models.WorkspaceSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.workspaces[link.WorkspaceID]; !ok {
		return fmt.Errorf("workspace %s: %w", link.WorkspaceID, core.ErrNotFound)
	}
	if _, ok := c.sources[link.SourceID]; !ok {
		return fmt.Errorf("source %s: %w", link.SourceID, core.ErrNotFound)
	}
	if c.links[link.WorkspaceID] == nil {
		c.links[link.WorkspaceID] = make(map[string]bool)
	}
	c.links[link.WorkspaceID][link.SourceID] = link.Enabled
	return nil
}

func (c *MemoryClient) EnabledSourceIDs(_ context.Context, workspaceID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, enabled := range c.links[workspaceID] {
		if enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SearchChunks scores every current chunk of the scoped sources with BM25.
func (c *MemoryClient) SearchChunks(_ context.Context, query string, sourceIDs []string, limit int) ([]models.RetrievedChunk, error) {
	terms := lexical.QueryTerms(query)
	if len(terms) == 0 || len(sourceIDs) == 0 {
		return []models.RetrievedChunk{}, nil
	}

	c.mu.RLock()
	var (
		candidates []models.RetrievedChunk
		docs       [][]string
	)
	for _, id := range sourceIDs {
		src, ok := c.sources[id]
		if !ok {
			continue
		}
		for _, ch := range c.chunks[id] {
			if ch.Generation != src.CurrentGeneration {
				continue
			}
			docs = append(docs, lexical.Tokenize(ch.Content))
			candidates = append(candidates, models.RetrievedChunk{
				ChunkID:    ch.ID,
				SourceID:   id,
				SourceName: src.Name,
				ChunkIndex: ch.ChunkIndex,
				Content:    ch.Content,
			})
		}
	}
	c.mu.RUnlock()

	st := lexical.CollectStats(terms, docs)
	return c.scorer.Rank(terms, candidates, st, limit), nil
}

func (c *MemoryClient) CreateConversation(_ context.Context, conv *models.Conversation) error {
	if conv == nil {
		return fmt.Errorf("nil conversation")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *conv
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = c.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	c.conversations[conv.ID] = &cp
	return nil
}

func (c *MemoryClient) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
	}
	cp := *conv
	return &cp, nil
}

func (c *MemoryClient) ListConversations(_ context.Context, workspaceID string) ([]models.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.Conversation
	for _, conv := range c.conversations {
		if conv.WorkspaceID == workspaceID {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (c *MemoryClient) AppendMessage(_ context.Context, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[msg.ConversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, core.ErrNotFound)
	}
	cp := *msg
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = c.now()
	}
	cp.Citations = append([]models.Citation(nil), msg.Citations...)
	c.messages[msg.ConversationID] = append(c.messages[msg.ConversationID], cp)
	conv.UpdatedAt = cp.CreatedAt
	return nil
}

func (c *MemoryClient) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Message(nil), c.messages[conversationID]...), nil
}
