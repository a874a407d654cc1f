package storage

import (
	"context"
	"io"
)

// Reader resolves an image reference that is not a plain URL into its bytes
// and content type. It is all the extraction worker needs.
type Reader interface {
	GetFile(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// Storage also accepts uploads; keys are the values UploadFile returns.
type Storage interface {
	Reader
	UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error)
}

type UploadResult struct {
	Key string
	URL string
}
