package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/crawler"
)

type memObjects struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemObjects() *memObjects { return &memObjects{files: map[string][]byte{}} }

func (m *memObjects) UploadFile(_ context.Context, bucket, key string, body io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[bucket+"/"+key] = data
	return "mem://" + bucket + "/" + key, nil
}

func (m *memObjects) DeleteFile(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, bucket+"/"+key)
	return nil
}

func (m *memObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, core.ErrNotFound)
	}
	return bytes.Clone(data), nil
}

type extractFunc func(ctx context.Context, data []byte, path, mediaType string) (string, error)

func (f extractFunc) ExtractText(ctx context.Context, data []byte, path, mediaType string) (string, error) {
	return f(ctx, data, path, mediaType)
}

type fakeFetcher struct {
	result *crawler.Result
	err    error
	calls  int
	subs   bool
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, crawlSubpages, _ bool) (*crawler.Result, error) {
	f.calls++
	f.subs = crawlSubpages
	return f.result, f.err
}
