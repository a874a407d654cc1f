package storage

import (
	"context"
	"strings"

	appconfig "github.com/fedutinova/readnote/internal/config"
)

const (
	KindS3         = "s3"
	KindLocalStack = "localstack"
	KindLocal      = "local"
)

// NewStorage opens the image store selected by STORAGE_MODE. Anything that is
// not an S3 mode falls back to the local directory.
func NewStorage(ctx context.Context, cfg appconfig.Config) (Storage, error) {
	if Kind(cfg) == KindLocal {
		return NewLocalStorage(cfg.LocalStorageDir, cfg.LocalStorageURL)
	}
	return NewS3Storage(ctx, cfg)
}

func Kind(cfg appconfig.Config) string {
	switch strings.ToLower(cfg.StorageMode) {
	case "s3", "aws":
		if isLocalStack(cfg.S3Endpoint) {
			return KindLocalStack
		}
		return KindS3
	case "localstack":
		return KindLocalStack
	default:
		return KindLocal
	}
}

func isLocalStack(endpoint string) bool {
	return endpoint != "" && (strings.Contains(endpoint, "localstack") || strings.Contains(endpoint, ":4566"))
}
