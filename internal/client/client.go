// Package client talks to the OCR HTTP API. A *Client is a poller.Source.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fedutinova/readnote/internal/common"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/fedutinova/readnote/internal/ocr"
	"github.com/google/uuid"
)

// APIError is a non-2xx answer of the API. It unwraps to the matching
// common sentinel so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api error: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return common.ErrBadRequest
	case http.StatusUnauthorized:
		return common.ErrUnauthorized
	case http.StatusForbidden:
		return common.ErrForbidden
	case http.StatusNotFound:
		return common.ErrNotFound
	case http.StatusConflict:
		return common.ErrConflict
	default:
		return common.ErrInternal
	}
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Submit(ctx context.Context, noteID uuid.UUID, imageRef string) (*ocr.SubmitResult, error) {
	body := map[string]string{"note_id": noteID.String(), "image_ref": imageRef}
	var res ocr.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/v1/ocr", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Retry(ctx context.Context, noteID uuid.UUID) (*ocr.SubmitResult, error) {
	var res ocr.SubmitResult
	if err := c.do(ctx, http.MethodPost, notePath(noteID, "/ocr/retry"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Get returns common.ErrJobNotFound when the note has no job yet.
func (c *Client) Get(ctx context.Context, noteID uuid.UUID) (*job.Job, error) {
	var j job.Job
	err := c.do(ctx, http.MethodGet, notePath(noteID, "/ocr"), nil, &j)
	if common.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %v", common.ErrJobNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Expire asks the API to fail the given attempt. A conflict means the
// attempt already settled or was replaced.
func (c *Client) Expire(ctx context.Context, noteID uuid.UUID, attempt int64) error {
	body := map[string]int64{"attempt": attempt}
	return c.do(ctx, http.MethodPost, notePath(noteID, "/ocr/timeout"), body, nil)
}

func notePath(noteID uuid.UUID, suffix string) string {
	return "/v1/notes/" + url.PathEscape(noteID.String()) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &payload) == nil {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}

	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}
