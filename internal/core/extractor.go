package core

import (
	"context"
)

// DocumentExtractor converts raw bytes into plain text.
// mediaType may be empty or wrong; the extension of path is used as a fallback.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, data []byte, path, mediaType string) (string, error)
}
