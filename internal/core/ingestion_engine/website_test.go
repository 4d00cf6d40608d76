package ingestion_engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/crawler"
	db "github.com/markdave123-py/Sourcebook/internal/core/database"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

func newWebIngestor(fetcher WebFetcher) (*DocumentIngestor, *db.MemoryClient) {
	store := db.NewMemoryClient()
	return NewDocumentIngestor(store, newMemObjects(), NewExtractor(nil, false), fetcher, nil, nil), store
}

func TestIngestWebsiteCrawl(t *testing.T) {
	fetcher := &fakeFetcher{result: &crawler.Result{
		URL:  "https://www.example.com/docs",
		Text: "--- Page: https://example.com/docs ---\n\nIntro to graphs.\n\n--- Page: https://example.com/docs/bfs ---\n\nBreadth first search.",
		Pages: []crawler.Page{
			{URL: "https://example.com/docs", Markdown: "Intro to graphs."},
			{URL: "https://example.com/docs/bfs", Markdown: "Breadth first search."},
		},
	}}
	ing, store := newWebIngestor(fetcher)

	res, err := ing.IngestWebsite(context.Background(), WebsiteRequest{
		URL: "www.example.com/docs/", CrawlSubpages: true, UserID: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.PageCount)
	assert.Equal(t, 1, res.ChunkCount)
	assert.True(t, fetcher.subs)

	src, err := store.GetSourceByID(context.Background(), res.SourceID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceTypeWeb, src.Type)
	assert.Equal(t, models.StatusReady, src.Status)
	assert.Equal(t, "example.com/docs", src.Name)
	assert.Equal(t, "https://www.example.com/docs/", src.OriginURL)
	assert.Equal(t, "user-1", src.OwnerID)
}

func TestIngestWebsiteFailureKeepsSourceID(t *testing.T) {
	fetcher := &fakeFetcher{err: core.NewStatusError("crawl", 402, nil)}
	ing, store := newWebIngestor(fetcher)

	res, err := ing.IngestWebsite(context.Background(), WebsiteRequest{URL: "https://example.com", UserID: "user-1"})
	require.Error(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.SourceID)
	assert.Equal(t, 402, core.HTTPStatus(err))

	src, err := store.GetSourceByID(context.Background(), res.SourceID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceTypeLink, src.Type)
	assert.Equal(t, models.StatusError, src.Status)
}

func TestIngestWebsiteValidation(t *testing.T) {
	fetcher := &fakeFetcher{}
	ing, _ := newWebIngestor(fetcher)

	_, err := ing.IngestWebsite(context.Background(), WebsiteRequest{UserID: "user-1"})
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = ing.IngestWebsite(context.Background(), WebsiteRequest{URL: "example.com"})
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, fetcher.calls)
}
