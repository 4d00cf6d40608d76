package ingestion_engine

import (
	"context"
	"sync"
	"time"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/crawler"
)

// IngestConfig tunes the pipeline.
//
// ChunkSize:      target characters per chunk (default 1000).
// ChunkOverlap:   characters shared by consecutive chunks (default 200).
// Bucket:         object-store bucket that holds uploaded files.
// ProcessTimeout: upper bound for one source, extraction included.
type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	Bucket         string
	ProcessTimeout time.Duration
}

func (c *IngestConfig) withDefaults() *IngestConfig {
	out := IngestConfig{}
	if c != nil {
		out = *c
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = DefaultChunkSize
	}
	if out.ChunkOverlap < 0 || out.ChunkOverlap >= out.ChunkSize {
		out.ChunkOverlap = DefaultChunkOverlap
	}
	if out.ProcessTimeout <= 0 {
		out.ProcessTimeout = 5 * time.Minute
	}
	return &out
}

// WebFetcher returns the aggregated markdown of a page or a crawled site.
type WebFetcher interface {
	Fetch(ctx context.Context, url string, crawlSubpages, followSitemap bool) (*crawler.Result, error)
}

// DocumentIngestor drives sources through pending -> processing -> ready|error.
//
// db:        persistence for sources and chunks.
// obj:       object storage holding uploaded bytes.
// extractor: format-aware text extraction.
// web:       crawl service for website sources.
// queue:     pending source ids for the background workers.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	extractor core.DocumentExtractor
	web       WebFetcher
	queue     JobQueue
	cfg       *IngestConfig
	now       func() time.Time
	wg        sync.WaitGroup
}

type ProcessResult struct {
	SourceID   string `json:"sourceId"`
	ChunkCount int    `json:"chunkCount"`
	TextLength int    `json:"textLength"`
}

type WebsiteRequest struct {
	URL           string `json:"url"`
	CrawlSubpages bool   `json:"crawlSubpages"`
	FollowSitemap bool   `json:"followSitemap"`
	UserID        string `json:"userId"`
}

type WebsiteResult struct {
	SourceID   string `json:"sourceId"`
	ChunkCount int    `json:"chunkCount"`
	PageCount  int    `json:"pageCount"`
	TextLength int    `json:"textLength"`
}
