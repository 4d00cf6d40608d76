package objectclient

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	cfg "github.com/markdave123-py/Sourcebook/internal/config"
	"github.com/markdave123-py/Sourcebook/internal/core"
)

// New builds the object store selected by OBJECT_STORE.
func New(ctx context.Context, c *cfg.Config) (core.ObjectClient, error) {
	switch c.ObjectStore {
	case "minio":
		return NewMinioClient(ctx, c)
	case "s3", "":
		return NewS3Client(ctx, c)
	}
	return nil, fmt.Errorf("unknown object store %q", c.ObjectStore)
}

// ObjectKey lays out uploads as {ownerId}/{uuid}.{ext}.
func ObjectKey(ownerID, filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" {
		return ownerID + "/" + uuid.NewString()
	}
	return fmt.Sprintf("%s/%s.%s", ownerID, uuid.NewString(), ext)
}
