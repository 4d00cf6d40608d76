package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/Sourcebook/internal/config"
	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/lexical"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

type DatabaseClient struct {
	db     *sql.DB
	scorer lexical.Scorer
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return NewDatabaseClientFromDB(db), nil
}

// NewDatabaseClientFromDB wraps an already opened and bootstrapped handle.
func NewDatabaseClientFromDB(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db, scorer: lexical.NewScorer()}
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Knowledge sources

const sourceColumns = `id, owner_id, name, type, status, storage_path, origin_url, media_type, byte_size,
	chunk_count, current_generation, last_processed_at, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*models.KnowledgeSource, error) {
	var (
		s         models.KnowledgeSource
		processed sql.NullTime
		errMsg    sql.NullString
	)
	if err := row.Scan(
		&s.ID, &s.OwnerID, &s.Name, &s.Type, &s.Status, &s.StoragePath, &s.OriginURL, &s.MediaType, &s.ByteSize,
		&s.ChunkCount, &s.CurrentGeneration, &processed, &errMsg, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if processed.Valid {
		t := processed.Time
		s.LastProcessedAt = &t
	}
	if errMsg.Valid {
		m := errMsg.String
		s.ErrorMessage = &m
	}
	return &s, nil
}

func (c *DatabaseClient) CreateSource(ctx context.Context, src *models.KnowledgeSource) error {
	if src == nil {
		return errors.New("nil source")
	}
	const q = `
		INSERT INTO knowledge_sources
			(id, owner_id, name, type, status, storage_path, origin_url, media_type, byte_size, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()), COALESCE($10, now()))
	`
	var created any
	if !src.CreatedAt.IsZero() {
		created = src.CreatedAt
	}
	_, err := c.db.ExecContext(ctx, q,
		src.ID, src.OwnerID, src.Name, src.Type, src.Status, src.StoragePath, src.OriginURL, src.MediaType, src.ByteSize, created)
	return err
}

func (c *DatabaseClient) GetSourceByID(ctx context.Context, id string) (*models.KnowledgeSource, error) {
	q := `SELECT ` + sourceColumns + ` FROM knowledge_sources WHERE id = $1`
	src, err := scanSource(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (c *DatabaseClient) ListSourcesByOwner(ctx context.Context, ownerID string) ([]models.KnowledgeSource, error) {
	q := `SELECT ` + sourceColumns + ` FROM knowledge_sources WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KnowledgeSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

// checkTransition turns a zero-row conditional UPDATE into ErrNotFound or ErrInvalidTransition.
func (c *DatabaseClient) checkTransition(ctx context.Context, res sql.Result, id string, to models.SourceStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var current models.SourceStatus
	err = c.db.QueryRowContext(ctx, `SELECT status FROM knowledge_sources WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("source %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("source %s %s -> %s: %w", id, current, to, core.ErrInvalidTransition)
}

func (c *DatabaseClient) MarkSourceProcessing(ctx context.Context, id string) error {
	const q = `
		UPDATE knowledge_sources
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	return c.checkTransition(ctx, res, id, models.StatusProcessing)
}

func (c *DatabaseClient) MarkSourceFailed(ctx context.Context, id string, msg string) error {
	const q = `
		UPDATE knowledge_sources
		SET status = 'error', error_message = $2, updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	res, err := c.db.ExecContext(ctx, q, id, msg)
	if err != nil {
		return err
	}
	return c.checkTransition(ctx, res, id, models.StatusError)
}

func (c *DatabaseClient) MarkStaleSourceFailed(ctx context.Context, id string, msg string, cutoff time.Time) error {
	const q = `
		UPDATE knowledge_sources
		SET status = 'error', error_message = $2, updated_at = now()
		WHERE id = $1 AND status = 'processing' AND updated_at < $3
	`
	res, err := c.db.ExecContext(ctx, q, id, msg, cutoff)
	if err != nil {
		return err
	}
	return c.checkTransition(ctx, res, id, models.StatusError)
}

func (c *DatabaseClient) ResetSourceForReingest(ctx context.Context, id string) error {
	const q = `
		UPDATE knowledge_sources
		SET status = 'pending', error_message = NULL, updated_at = now()
		WHERE id = $1 AND status IN ('ready', 'error')
	`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	return c.checkTransition(ctx, res, id, models.StatusPending)
}

// CommitChunks writes chunks as a new generation, repoints the source at it, marks the
// source ready and drops older generations, all in one transaction. Retrieval only reads
// the current generation, so readers see either the old set or the new one.
func (c *DatabaseClient) CommitChunks(ctx context.Context, sourceID string, chunks []models.DocumentChunk, processedAt time.Time) (int64, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status models.SourceStatus
		gen    int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, current_generation FROM knowledge_sources WHERE id = $1 FOR UPDATE`, sourceID,
	).Scan(&status, &gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("source %s: %w", sourceID, core.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	if status != models.StatusProcessing {
		return 0, fmt.Errorf("source %s is %s: %w", sourceID, status, core.ErrInvalidTransition)
	}
	next := gen + 1

	const insertQ = `
		INSERT INTO document_chunks
			(id, source_id, generation, chunk_index, content, token_count, term_count, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
	`
	stmt, err := tx.PrepareContext(ctx, insertQ)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encode chunk metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, sourceID, next, ch.ChunkIndex, ch.Content, ch.TokenCount, ch.TermCount, string(meta), processedAt,
		); err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
		}
	}

	const swapQ = `
		UPDATE knowledge_sources
		SET current_generation = $2, status = 'ready', chunk_count = $3, last_processed_at = $4,
		    error_message = NULL, updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, swapQ, sourceID, next, len(chunks), processedAt); err != nil {
		return 0, fmt.Errorf("swap generation: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE source_id = $1 AND generation < $2`, sourceID, next,
	); err != nil {
		return 0, fmt.Errorf("drop old generations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func (c *DatabaseClient) GetChunksBySource(ctx context.Context, sourceID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT c.id, c.source_id, c.generation, c.chunk_index, c.content, c.token_count, c.term_count, c.metadata, c.created_at
		FROM document_chunks c
		JOIN knowledge_sources s ON s.id = c.source_id AND c.generation = s.current_generation
		WHERE c.source_id = $1
		ORDER BY c.chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch   models.DocumentChunk
			meta []byte
		)
		if err := rows.Scan(
			&ch.ID, &ch.SourceID, &ch.Generation, &ch.ChunkIndex, &ch.Content, &ch.TokenCount, &ch.TermCount, &meta, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ch.Metadata); err != nil {
				return nil, fmt.Errorf("decode chunk metadata: %w", err)
			}
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Workspaces

func (c *DatabaseClient) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	if ws == nil {
		return errors.New("nil workspace")
	}
	settings, err := json.Marshal(ws.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	const q = `
		INSERT INTO workspaces (id, owner_id, name, mode, color, settings)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`
	_, err = c.db.ExecContext(ctx, q, ws.ID, ws.OwnerID, ws.Name, ws.Mode, ws.Color, string(settings))
	return err
}

func (c *DatabaseClient) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	const q = `
		SELECT id, owner_id, name, mode, color, settings, created_at, updated_at
		FROM workspaces WHERE id = $1
	`
	var (
		ws       models.Workspace
		settings []byte
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&ws.ID, &ws.OwnerID, &ws.Name, &ws.Mode, &ws.Color, &settings, &ws.CreatedAt, &ws.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workspace %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &ws.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	return &ws, nil
}

func (c *DatabaseClient) SetWorkspaceSource(ctx context.Context, link models.WorkspaceSource) error {
	const q = `
		INSERT INTO workspace_sources (workspace_id, source_id, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, source_id) DO UPDATE SET enabled = EXCLUDED.enabled
	`
	_, err := c.db.ExecContext(ctx, q, link.WorkspaceID, link.SourceID, link.Enabled)
	return err
}

func (c *DatabaseClient) EnabledSourceIDs(ctx context.Context, workspaceID string) ([]string, error) {
	const q = `
		SELECT source_id FROM workspace_sources
		WHERE workspace_id = $1 AND enabled
		ORDER BY source_id
	`
	rows, err := c.db.QueryContext(ctx, q, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Search

const scopedChunks = `
	WITH scoped AS (
		SELECT c.id, c.source_id, s.name AS source_name, c.chunk_index, c.content, c.term_count, c.content_tsv
		FROM document_chunks c
		JOIN knowledge_sources s ON s.id = c.source_id AND c.generation = s.current_generation
		WHERE c.source_id = ANY($1::text[])
	)
`

// SearchChunks ranks current-generation chunks of sourceIDs with BM25. Postgres returns
// every chunk matching at least one query term through the GIN index and supplies corpus
// statistics; all matches are scored in Go, so every store returns the same top k.
func (c *DatabaseClient) SearchChunks(ctx context.Context, query string, sourceIDs []string, limit int) ([]models.RetrievedChunk, error) {
	terms := lexical.QueryTerms(query)
	if len(terms) == 0 || len(sourceIDs) == 0 {
		return []models.RetrievedChunk{}, nil
	}

	st := lexical.Stats{DocFreq: make(map[string]int, len(terms))}
	err := c.db.QueryRowContext(ctx,
		scopedChunks+`SELECT count(*), COALESCE(avg(term_count), 0)::float8 FROM scoped`, sourceIDs,
	).Scan(&st.Docs, &st.AvgDocLen)
	if err != nil {
		return nil, fmt.Errorf("scope stats: %w", err)
	}
	if st.Docs == 0 {
		return []models.RetrievedChunk{}, nil
	}

	dfRows, err := c.db.QueryContext(ctx, scopedChunks+`
		SELECT t.term, count(s.id)
		FROM unnest($2::text[]) AS t(term)
		LEFT JOIN scoped s ON s.content_tsv @@ to_tsquery('simple', t.term)
		GROUP BY t.term
	`, sourceIDs, terms)
	if err != nil {
		return nil, fmt.Errorf("document frequencies: %w", err)
	}
	for dfRows.Next() {
		var (
			term string
			df   int
		)
		if err := dfRows.Scan(&term, &df); err != nil {
			dfRows.Close()
			return nil, err
		}
		st.DocFreq[term] = df
	}
	dfRows.Close()
	if err := dfRows.Err(); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, scopedChunks+`
		SELECT s.id, s.source_id, s.source_name, s.chunk_index, s.content
		FROM scoped s
		WHERE s.content_tsv @@ to_tsquery('simple', $2)
	`, sourceIDs, lexical.TSQuery(terms))
	if err != nil {
		return nil, fmt.Errorf("candidate search: %w", err)
	}
	defer rows.Close()

	var candidates []models.RetrievedChunk
	for rows.Next() {
		var r models.RetrievedChunk
		if err := rows.Scan(&r.ChunkID, &r.SourceID, &r.SourceName, &r.ChunkIndex, &r.Content); err != nil {
			return nil, err
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return c.scorer.Rank(terms, candidates, st, limit), nil
}

// Conversations

func (c *DatabaseClient) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("nil conversation")
	}
	const q = `
		INSERT INTO conversations (id, workspace_id, title)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`
	return c.db.QueryRowContext(ctx, q, conv.ID, conv.WorkspaceID, conv.Title).Scan(&conv.CreatedAt, &conv.UpdatedAt)
}

func (c *DatabaseClient) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	const q = `SELECT id, workspace_id, title, created_at, updated_at FROM conversations WHERE id = $1`
	var conv models.Conversation
	err := c.db.QueryRowContext(ctx, q, id).Scan(&conv.ID, &conv.WorkspaceID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *DatabaseClient) ListConversations(ctx context.Context, workspaceID string) ([]models.Conversation, error) {
	const q = `
		SELECT id, workspace_id, title, created_at, updated_at
		FROM conversations
		WHERE workspace_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.WorkspaceID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	citations := msg.Citations
	if citations == nil {
		citations = []models.Citation{}
	}
	raw, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("encode citations: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO messages (id, conversation_id, role, content, citations)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING created_at
	`
	if err := tx.QueryRowContext(ctx, q, msg.ID, msg.ConversationID, msg.Role, msg.Content, string(raw)).Scan(&msg.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, msg.ConversationID); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *DatabaseClient) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	const q = `
		SELECT id, conversation_id, role, content, citations, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`
	rows, err := c.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m   models.Message
			raw []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &raw, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &m.Citations); err != nil {
				return nil, fmt.Errorf("decode citations: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
