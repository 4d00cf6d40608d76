package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/Sourcebook/internal/models"
)

// DbClient defines all persistence operations the services need.
// Lookups of a missing row return an error matching ErrNotFound.
type DbClient interface {
	CreateSource(ctx context.Context, src *models.KnowledgeSource) error
	GetSourceByID(ctx context.Context, id string) (*models.KnowledgeSource, error)
	ListSourcesByOwner(ctx context.Context, ownerID string) ([]models.KnowledgeSource, error)

	// MarkSourceProcessing moves pending -> processing. Any other current status yields ErrInvalidTransition.
	MarkSourceProcessing(ctx context.Context, id string) error
	// MarkSourceFailed moves processing -> error with msg. Chunks and chunk_count are left alone.
	MarkSourceFailed(ctx context.Context, id string, msg string) error
	// MarkStaleSourceFailed moves processing -> error only when the row was last updated
	// before cutoff. A fresher processing row yields ErrInvalidTransition.
	MarkStaleSourceFailed(ctx context.Context, id string, msg string, cutoff time.Time) error
	// ResetSourceForReingest moves ready|error -> pending and clears the error in a single write.
	ResetSourceForReingest(ctx context.Context, id string) error
	// CommitChunks swaps in a new chunk generation and marks the source ready, atomically.
	CommitChunks(ctx context.Context, sourceID string, chunks []models.DocumentChunk, processedAt time.Time) (generation int64, err error)
	GetChunksBySource(ctx context.Context, sourceID string) ([]models.DocumentChunk, error)

	CreateWorkspace(ctx context.Context, ws *models.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	SetWorkspaceSource(ctx context.Context, link models.WorkspaceSource) error
	EnabledSourceIDs(ctx context.Context, workspaceID string) ([]string, error)

	SearchChunks(ctx context.Context, query string, sourceIDs []string, limit int) ([]models.RetrievedChunk, error)

	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, workspaceID string) ([]models.Conversation, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
