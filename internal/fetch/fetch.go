// Package fetch loads the image a job points at, either from an http(s) URL
// or from object storage, under a timeout and a size ceiling.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fedutinova/readnote/internal/provider"
	"github.com/fedutinova/readnote/internal/storage"
	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrTooLarge  = errors.New("image exceeds size limit")
	ErrNotImage  = errors.New("payload is not an image")
	ErrEmpty     = errors.New("image is empty")
	ErrBadStatus = errors.New("unexpected response status")
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 10 << 20
)

type Fetcher struct {
	client   *http.Client
	store    storage.Reader
	timeout  time.Duration
	maxBytes int64
}

// New returns a Fetcher. store may be nil, in which case only URLs resolve.
func New(store storage.Reader, timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		store:    store,
		timeout:  timeout,
		maxBytes: maxBytes,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, ref string) (provider.Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return provider.Image{}, errors.New("empty image reference")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var (
		data []byte
		err  error
	)
	if isURL(ref) {
		data, err = f.download(ctx, ref)
	} else {
		data, err = f.load(ctx, ref)
	}
	if err != nil {
		return provider.Image{}, err
	}

	if len(data) == 0 {
		return provider.Image{}, ErrEmpty
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return provider.Image{}, fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}

	slog.Debug("image fetched", "ref", ref, "content_type", mt.String(), "size_bytes", len(data))
	return provider.Image{Data: data, MIMEType: mt.String()}, nil
}

func (f *Fetcher) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "readnote-ocr/1.0")
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, resp.ContentLength, f.maxBytes)
	}

	return f.readLimited(resp.Body)
}

func (f *Fetcher) load(ctx context.Context, key string) ([]byte, error) {
	if f.store == nil {
		return nil, fmt.Errorf("no storage configured for key %q", key)
	}
	rc, _, err := f.store.GetFile(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	defer rc.Close()

	return f.readLimited(rc)
}

// readLimited reads at most maxBytes+1 so an oversized body is detected
// without buffering all of it.
func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	return data, nil
}

func isURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
