package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/lexical"
	"github.com/markdave123-py/Sourcebook/internal/logger"
	"github.com/markdave123-py/Sourcebook/internal/metrics"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

// NewDocumentIngestor constructs the ingestor. A nil queue gets an in-process channel queue.
func NewDocumentIngestor(db core.DbClient, obj core.ObjectClient, extractor core.DocumentExtractor, web WebFetcher, queue JobQueue, cfg *IngestConfig) *DocumentIngestor {
	if queue == nil {
		queue = NewChannelQueue(64)
	}
	return &DocumentIngestor{
		db: db, obj: obj, extractor: extractor, web: web, queue: queue,
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// Start runs numWorkers goroutines that pop source ids off the queue and process them.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		i.wg.Add(1)
		go func(w int) {
			defer i.wg.Done()
			for {
				sourceID, err := i.queue.Pop(ctx)
				if err != nil {
					if ctx.Err() != nil {
						logger.Info("ingestion worker shutting down", zap.Int("worker", w))
						return
					}
					logger.Error("ingestion queue pop failed", zap.Int("worker", w), zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
					continue
				}

				logger.Info("processing source", zap.String("source_id", sourceID), zap.Int("worker", w))
				if _, err := i.ProcessSource(ctx, sourceID); err != nil {
					logger.Error("processing source failed", zap.String("source_id", sourceID), zap.Error(err))
				}
			}
		}(w)
	}
}

// Wait blocks until every worker started by Start has returned.
func (i *DocumentIngestor) Wait() {
	i.wg.Wait()
}

// Enqueue schedules a source for background ingestion.
func (i *DocumentIngestor) Enqueue(ctx context.Context, sourceID string) error {
	return i.queue.Push(ctx, sourceID)
}

// ProcessSource ingests one uploaded source end to end. A ready or error source is
// reset to pending first, which is what makes a repeat call a re-ingestion request.
// Failures after the source reached processing are recorded on it as error; the
// chunks of the last good run stay in place.
func (i *DocumentIngestor) ProcessSource(ctx context.Context, sourceID string) (*ProcessResult, error) {
	src, err := i.db.GetSourceByID(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", sourceID, err)
	}

	// A processing row older than ProcessTimeout belongs to a run that died with its process.
	if src.Status == models.StatusProcessing && i.now().Sub(src.UpdatedAt) > i.cfg.ProcessTimeout {
		cutoff := i.now().Add(-i.cfg.ProcessTimeout)
		err := i.db.MarkStaleSourceFailed(ctx, sourceID, "processing interrupted", cutoff)
		if err != nil && !errors.Is(err, core.ErrInvalidTransition) {
			return nil, fmt.Errorf("recover source %s: %w", sourceID, err)
		}
		if err == nil {
			logger.Warn("recovered stale processing source", zap.String("source_id", sourceID), zap.Time("updated_at", src.UpdatedAt))
			src.Status = models.StatusError
		}
	}

	if src.Status.Terminal() {
		if err := i.db.ResetSourceForReingest(ctx, sourceID); err != nil && !errors.Is(err, core.ErrInvalidTransition) {
			return nil, fmt.Errorf("reset source %s: %w", sourceID, err)
		}
	}
	if err := i.db.MarkSourceProcessing(ctx, sourceID); err != nil {
		return nil, fmt.Errorf("start processing %s: %w", sourceID, err)
	}

	started := i.now()
	proctx, cancel := context.WithTimeout(ctx, i.cfg.ProcessTimeout)
	defer cancel()

	res, err := i.processFile(proctx, src)
	metrics.IngestDuration.WithLabelValues(string(src.Type)).Observe(time.Since(started).Seconds())
	if err != nil {
		i.fail(ctx, src, err)
		return nil, err
	}

	logger.Info("source ready",
		zap.String("source_id", sourceID),
		zap.Int("chunks", res.ChunkCount),
		zap.Int("text_length", res.TextLength),
	)
	return res, nil
}

func (i *DocumentIngestor) processFile(ctx context.Context, src *models.KnowledgeSource) (*ProcessResult, error) {
	if src.StoragePath == "" {
		return nil, &core.ExtractionError{Source: src.Name, Err: errors.New("source has no storage path")}
	}
	data, err := i.obj.GetFile(ctx, i.cfg.Bucket, src.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", src.StoragePath, err)
	}

	text, err := i.extractor.ExtractText(ctx, data, src.StoragePath, src.MediaType)
	if err != nil {
		return nil, err
	}
	return i.commit(ctx, src, text)
}

// commit sanitizes and chunks text, then swaps the chunk set in as one unit.
func (i *DocumentIngestor) commit(ctx context.Context, src *models.KnowledgeSource, text string) (*ProcessResult, error) {
	clean := Sanitize(text)
	if clean == "" {
		return nil, &core.ExtractionError{Source: src.Name, Err: errors.New("no text content after sanitizing")}
	}

	chunks := i.buildChunks(src.ID, clean)
	if len(chunks) == 0 {
		return nil, &core.ExtractionError{Source: src.Name, Err: errors.New("text produced no chunks")}
	}

	if _, err := i.db.CommitChunks(ctx, src.ID, chunks, i.now()); err != nil {
		if errors.Is(err, core.ErrInvalidTransition) {
			return nil, err
		}
		return nil, core.NewPersistenceError("commit chunks", err)
	}

	metrics.SourcesIngested.WithLabelValues(string(src.Type), string(models.StatusReady)).Inc()
	metrics.ChunksPerSource.Observe(float64(len(chunks)))
	return &ProcessResult{SourceID: src.ID, ChunkCount: len(chunks), TextLength: len([]rune(clean))}, nil
}

func (i *DocumentIngestor) buildChunks(sourceID, text string) []models.DocumentChunk {
	pieces := Chunk(text, i.cfg.ChunkSize, i.cfg.ChunkOverlap)
	out := make([]models.DocumentChunk, 0, len(pieces))
	for _, p := range pieces {
		content := Sanitize(p.Text)
		if content == "" {
			continue
		}
		out = append(out, models.DocumentChunk{
			ID:         uuid.NewString(),
			SourceID:   sourceID,
			ChunkIndex: len(out),
			Content:    content,
			TokenCount: approxTokens(content),
			TermCount:  len(lexical.Tokenize(content)),
			Metadata: models.ChunkMetadata{
				CharCount: len([]rune(content)),
				Position:  p.Start,
			},
		})
	}
	for k := range out {
		out[k].Metadata.TotalChunks = len(out)
	}
	return out
}

// fail records err on the source. It runs on a context detached from cancellation
// so that an aborted request still leaves the source in error.
func (i *DocumentIngestor) fail(ctx context.Context, src *models.KnowledgeSource, cause error) {
	metrics.SourcesIngested.WithLabelValues(string(src.Type), string(models.StatusError)).Inc()
	if errors.Is(cause, core.ErrInvalidTransition) {
		return
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := i.db.MarkSourceFailed(dctx, src.ID, cause.Error()); err != nil {
		logger.Error("failed to record source error",
			zap.String("source_id", src.ID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	logger.Warn("source failed", zap.String("source_id", src.ID), zap.Error(cause))
}
