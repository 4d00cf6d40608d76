package ingestion_engine

import "context"

type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, sourceID string) error
	ProcessSource(ctx context.Context, sourceID string) (*ProcessResult, error)
	IngestWebsite(ctx context.Context, req WebsiteRequest) (*WebsiteResult, error)
}

var _ Ingestor = (*DocumentIngestor)(nil)
