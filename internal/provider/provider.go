// Package provider wraps external text-extraction backends behind one
// contract so the worker does not care which backend is configured.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fedutinova/readnote/internal/config"
)

// ErrEmptyResult is returned when a backend answers without any text.
var ErrEmptyResult = errors.New("no text extracted")

type Image struct {
	Data     []byte
	MIMEType string
}

type Provider interface {
	Name() string
	Extract(ctx context.Context, img Image) (string, error)
}

// Error carries the backend and the failing step of an extraction.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(provider, op string, err error) error {
	return &Error{Provider: provider, Op: op, Err: err}
}

// nonEmpty trims a backend answer and maps blank output to ErrEmptyResult.
func nonEmpty(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", wrap(provider, "extract", ErrEmptyResult)
	}
	return text, nil
}

// New picks the backend named by cfg.OCRProvider.
func New(cfg config.Config) (Provider, error) {
	switch cfg.OCRProvider {
	case "openai", "":
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "cloudrun":
		if cfg.CloudRunOCRURL == "" {
			return nil, errors.New("CLOUD_RUN_OCR_URL is required for the cloudrun provider")
		}
		return NewCloudRun(cfg.CloudRunOCRURL, cfg.CloudRunOCRToken, cfg.OCRProviderTimeout), nil
	case "tesseract":
		return NewTesseract(cfg.TesseractLangs)
	default:
		return nil, fmt.Errorf("unknown OCR provider: %q", cfg.OCRProvider)
	}
}
