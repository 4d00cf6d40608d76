package services

import (
	"context"
	"fmt"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/ingestion_engine"
	"github.com/markdave123-py/Sourcebook/internal/core/upload"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

type SourceService struct {
	db       core.DbClient
	storage  core.ObjectClient
	ingestor ingestion_engine.Ingestor
	bucket   string
	policy   upload.Policy
}

func NewSourceService(db core.DbClient, storage core.ObjectClient, ing ingestion_engine.Ingestor, bucket string, policy upload.Policy) *SourceService {
	return &SourceService{db: db, storage: storage, ingestor: ing, bucket: bucket, policy: policy}
}

// Upload stores files for ownerID and queues each created source for ingestion.
func (s *SourceService) Upload(ctx context.Context, ownerID string, files []upload.File) *upload.Batch {
	c := upload.NewCoordinator(s.db, s.storage, s.bucket, s.policy, s.ingestor.Enqueue)
	return c.Upload(ctx, ownerID, files)
}

// Get returns the source if ownerID owns it. Foreign sources look missing.
func (s *SourceService) Get(ctx context.Context, ownerID, id string) (*models.KnowledgeSource, error) {
	src, err := s.db.GetSourceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if src.OwnerID != ownerID {
		return nil, fmt.Errorf("source %s: %w", id, core.ErrNotFound)
	}
	return src, nil
}

func (s *SourceService) ListByOwner(ctx context.Context, ownerID string) ([]models.KnowledgeSource, error) {
	out, err := s.db.ListSourcesByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.KnowledgeSource{}
	}
	return out, nil
}

// Process runs ingestion for an owned source synchronously.
func (s *SourceService) Process(ctx context.Context, ownerID, id string) (*ingestion_engine.ProcessResult, error) {
	if id == "" {
		return nil, core.NewValidationError("sourceId", "is required")
	}
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.ingestor.ProcessSource(ctx, id)
}

func (s *SourceService) IngestWebsite(ctx context.Context, req ingestion_engine.WebsiteRequest) (*ingestion_engine.WebsiteResult, error) {
	return s.ingestor.IngestWebsite(ctx, req)
}
