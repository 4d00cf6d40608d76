package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/markdave123-py/Sourcebook/internal/logger"
	"github.com/markdave123-py/Sourcebook/internal/metrics"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

const DefaultMaxResults = 5

// Store is the slice of core.DbClient retrieval needs.
type Store interface {
	EnabledSourceIDs(ctx context.Context, workspaceID string) ([]string, error)
	SearchChunks(ctx context.Context, query string, sourceIDs []string, limit int) ([]models.RetrievedChunk, error)
}

type Engine struct {
	store      Store
	maxResults int
}

func NewEngine(store Store, defaultMax int) *Engine {
	if defaultMax <= 0 {
		defaultMax = DefaultMaxResults
	}
	return &Engine{store: store, maxResults: defaultMax}
}

// Retrieve ranks the chunks of the workspace's enabled sources against query.
// A workspace without enabled sources yields an empty slice and no search.
func (e *Engine) Retrieve(ctx context.Context, query, workspaceID string, maxResults int) ([]models.RetrievedChunk, error) {
	if maxResults <= 0 {
		maxResults = e.maxResults
	}

	ids, err := e.store.EnabledSourceIDs(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolve scope for workspace %s: %w", workspaceID, err)
	}
	if len(ids) == 0 {
		logger.Debug("retrieval skipped, no enabled sources", zap.String("workspace_id", workspaceID))
		metrics.RetrievalResults.Observe(0)
		return []models.RetrievedChunk{}, nil
	}

	hits, err := e.store.SearchChunks(ctx, query, ids, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if hits == nil {
		hits = []models.RetrievedChunk{}
	}
	metrics.RetrievalResults.Observe(float64(len(hits)))
	logger.Debug("retrieved chunks",
		zap.String("workspace_id", workspaceID),
		zap.Int("sources", len(ids)),
		zap.Int("hits", len(hits)),
	)
	return hits, nil
}
