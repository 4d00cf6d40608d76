package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/crawler"
	"github.com/markdave123-py/Sourcebook/internal/logger"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

// IngestWebsite creates a web source for req.URL and ingests it synchronously.
// On failure after the source was created the result still carries its id.
func (i *DocumentIngestor) IngestWebsite(ctx context.Context, req WebsiteRequest) (*WebsiteResult, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, core.NewValidationError("url", "is required")
	}
	if req.UserID == "" {
		return nil, core.NewValidationError("userId", "is required")
	}
	if i.web == nil {
		return nil, errors.New("no crawl service configured")
	}

	target := crawler.NormalizeURL(req.URL)
	srcType := models.SourceTypeLink
	if req.CrawlSubpages {
		srcType = models.SourceTypeWeb
	}

	now := i.now()
	src := &models.KnowledgeSource{
		ID:        uuid.NewString(),
		OwnerID:   req.UserID,
		Name:      siteName(target),
		Type:      srcType,
		Status:    models.StatusPending,
		OriginURL: target,
		MediaType: "text/markdown",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := i.db.CreateSource(ctx, src); err != nil {
		return nil, core.NewPersistenceError("create source", err)
	}
	result := &WebsiteResult{SourceID: src.ID}

	if err := i.db.MarkSourceProcessing(ctx, src.ID); err != nil {
		return result, fmt.Errorf("start processing %s: %w", src.ID, err)
	}

	proctx, cancel := context.WithTimeout(ctx, i.cfg.ProcessTimeout)
	defer cancel()

	page, err := i.web.Fetch(proctx, target, req.CrawlSubpages, req.FollowSitemap)
	if err != nil {
		i.fail(ctx, src, err)
		return result, err
	}
	result.PageCount = len(page.Pages)

	res, err := i.commit(proctx, src, page.Text)
	if err != nil {
		i.fail(ctx, src, err)
		return result, err
	}
	result.ChunkCount = res.ChunkCount
	result.TextLength = res.TextLength

	logger.Info("website ingested",
		zap.String("source_id", src.ID),
		zap.String("url", target),
		zap.Int("pages", result.PageCount),
		zap.Int("chunks", result.ChunkCount),
	)
	return result, nil
}

// siteName renders host plus path, e.g. "example.com/docs".
func siteName(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	name := u.Host + strings.TrimRight(u.Path, "/")
	return strings.TrimPrefix(name, "www.")
}
