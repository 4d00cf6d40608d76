package upload

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Sourcebook/internal/core"
	objectclient "github.com/markdave123-py/Sourcebook/internal/core/object-client"
	"github.com/markdave123-py/Sourcebook/internal/logger"
	"github.com/markdave123-py/Sourcebook/internal/metrics"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

type FileStatus string

const (
	StatusRejected   FileStatus = "rejected"
	StatusQueued     FileStatus = "queued"
	StatusUploading  FileStatus = "uploading"
	StatusProcessing FileStatus = "processing"
	StatusComplete   FileStatus = "complete"
	StatusError      FileStatus = "error"
)

// Policy bounds what a single batch may contain.
type Policy struct {
	Extensions []string
	MaxFiles   int
	MaxBytes   int64
}

func DefaultPolicy() Policy {
	return Policy{
		Extensions: []string{"pdf", "docx", "txt", "md", "csv", "xlsx", "pptx", "epub"},
		MaxFiles:   10,
		MaxBytes:   20 << 20,
	}
}

func (p Policy) allows(ext string) bool {
	for _, e := range p.Extensions {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}

// File is one candidate. Open is only called for files that pass validation.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

type FileResult struct {
	Name     string     `json:"name"`
	Status   FileStatus `json:"status"`
	SourceID string     `json:"sourceId,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type Batch struct {
	Files     []FileResult `json:"files"`
	SourceIDs []string     `json:"sourceIds"`
}

// Trigger starts ingestion of a freshly created source.
type Trigger func(ctx context.Context, sourceID string) error

type SourceCreator interface {
	CreateSource(ctx context.Context, src *models.KnowledgeSource) error
}

type Coordinator struct {
	db      SourceCreator
	obj     core.ObjectClient
	bucket  string
	policy  Policy
	trigger Trigger

	// OnProgress observes every per-file status change. Calls are serialized.
	OnProgress func(index int, r FileResult)
	// OnComplete fires once per batch with the ids of the sources that were created.
	OnComplete func(sourceIDs []string)

	mu       sync.Mutex
	triggers sync.WaitGroup
	now      func() time.Time
}

func NewCoordinator(db SourceCreator, obj core.ObjectClient, bucket string, policy Policy, trigger Trigger) *Coordinator {
	return &Coordinator{db: db, obj: obj, bucket: bucket, policy: policy, trigger: trigger, now: time.Now}
}

// Validate classifies files without touching the network. Disallowed extensions and
// entries past MaxFiles are rejected; oversize files count toward the batch but are
// marked error and never uploaded. Accepted files are queued.
func (c *Coordinator) Validate(files []File) []FileResult {
	out := make([]FileResult, len(files))
	accepted := 0
	for k, f := range files {
		out[k] = FileResult{Name: f.Name}
		ext := extension(f.Name)

		switch {
		case !c.policy.allows(ext):
			out[k].Status = StatusRejected
			out[k].Error = core.NewValidationError("file", fmt.Sprintf("%s: extension %q is not supported", f.Name, ext)).Error()
		case c.policy.MaxFiles > 0 && accepted >= c.policy.MaxFiles:
			out[k].Status = StatusRejected
			out[k].Error = core.NewValidationError("files", fmt.Sprintf("%s: batch limit of %d files reached", f.Name, c.policy.MaxFiles)).Error()
		case c.policy.MaxBytes > 0 && f.Size > c.policy.MaxBytes:
			accepted++
			out[k].Status = StatusError
			out[k].Error = core.NewValidationError("file", fmt.Sprintf("%s is %d bytes, the limit is %d", f.Name, f.Size, c.policy.MaxBytes)).Error()
		default:
			accepted++
			out[k].Status = StatusQueued
		}
	}
	return out
}

// Upload validates files, uploads the accepted ones concurrently and creates a pending
// source for each. Ingestion is triggered in the background and not awaited.
func (c *Coordinator) Upload(ctx context.Context, ownerID string, files []File) *Batch {
	results := c.Validate(files)
	for k, r := range results {
		if r.Status != StatusQueued {
			metrics.Uploads.WithLabelValues(string(r.Status)).Inc()
			c.progress(k, r)
		}
	}

	var g errgroup.Group
	for k := range files {
		if results[k].Status != StatusQueued {
			continue
		}
		g.Go(func() error {
			res := c.uploadOne(ctx, k, ownerID, files[k])
			c.mu.Lock()
			results[k] = res
			c.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	batch := &Batch{Files: results, SourceIDs: []string{}}
	for _, r := range results {
		if r.SourceID != "" {
			batch.SourceIDs = append(batch.SourceIDs, r.SourceID)
		}
	}
	if c.OnComplete != nil {
		c.OnComplete(batch.SourceIDs)
	}
	return batch
}

// WaitTriggers blocks until every ingestion trigger launched so far has returned.
func (c *Coordinator) WaitTriggers() {
	c.triggers.Wait()
}

func (c *Coordinator) uploadOne(ctx context.Context, index int, ownerID string, f File) FileResult {
	res := FileResult{Name: f.Name, Status: StatusUploading}
	c.progress(index, res)

	failed := func(err error) FileResult {
		res.Status = StatusError
		res.Error = err.Error()
		metrics.Uploads.WithLabelValues(string(StatusError)).Inc()
		logger.Warn("upload failed", zap.String("file", f.Name), zap.Error(err))
		c.progress(index, res)
		return res
	}

	ext := extension(f.Name)
	srcType, ok := models.SourceTypeForExtension(ext)
	if !ok {
		return failed(core.NewValidationError("file", "no source type for extension "+ext))
	}

	body, err := f.Open()
	if err != nil {
		return failed(fmt.Errorf("open %s: %w", f.Name, err))
	}
	defer body.Close()

	key := objectclient.ObjectKey(ownerID, f.Name)
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := c.obj.UploadFile(ctx, c.bucket, key, body, f.Size, contentType); err != nil {
		return failed(err)
	}

	res.Status = StatusProcessing
	c.progress(index, res)

	now := c.now()
	src := &models.KnowledgeSource{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        f.Name,
		Type:        srcType,
		Status:      models.StatusPending,
		StoragePath: key,
		MediaType:   contentType,
		ByteSize:    f.Size,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.db.CreateSource(ctx, src); err != nil {
		if derr := c.obj.DeleteFile(context.WithoutCancel(ctx), c.bucket, key); derr != nil {
			logger.Warn("orphaned upload", zap.String("key", key), zap.Error(derr))
		}
		return failed(core.NewPersistenceError("create source", err))
	}

	if c.trigger != nil {
		c.triggers.Add(1)
		go func(id string) {
			defer c.triggers.Done()
			if err := c.trigger(context.WithoutCancel(ctx), id); err != nil {
				logger.Warn("ingestion trigger failed", zap.String("source_id", id), zap.Error(err))
			}
		}(src.ID)
	}

	res.Status = StatusComplete
	res.SourceID = src.ID
	metrics.Uploads.WithLabelValues(string(StatusComplete)).Inc()
	c.progress(index, res)
	return res
}

func (c *Coordinator) progress(index int, r FileResult) {
	if c.OnProgress == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OnProgress(index, r)
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}
