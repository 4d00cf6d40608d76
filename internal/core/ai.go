package core

import (
	"context"

	"github.com/markdave123-py/Sourcebook/internal/models"
)

// DocumentReader turns a binary document into text with a multimodal model.
type DocumentReader interface {
	ReadDocument(ctx context.Context, mimeType string, data []byte) (string, error)
}

type ChatMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// CompletionStream yields content deltas until io.EOF.
type CompletionStream interface {
	Recv() (string, error)
	Close() error
}

type ChatCompleter interface {
	StreamChat(ctx context.Context, systemPrompt string, history []ChatMessage) (CompletionStream, error)
}
