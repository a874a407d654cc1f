//go:build tesseract

package provider

import (
	"context"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract runs extraction locally through libtesseract.
type Tesseract struct {
	langs         []string
	clientFactory func() *gosseract.Client
}

func NewTesseract(langs []string) (Provider, error) {
	return &Tesseract{langs: langs, clientFactory: gosseract.NewClient}, nil
}

func (p *Tesseract) Name() string { return "tesseract" }

func (p *Tesseract) Extract(ctx context.Context, img Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", wrap(p.Name(), "extract", err)
	}

	c := p.clientFactory()
	if err := c.SetImageFromBytes(img.Data); err != nil {
		c.Close()
		return "", wrap(p.Name(), "set image", err)
	}
	if len(p.langs) > 0 {
		if err := c.SetLanguage(p.langs...); err != nil {
			c.Close()
			return "", wrap(p.Name(), "set languages", err)
		}
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	// the client is released by the recognizing goroutine, which may outlive ctx
	go func() {
		defer c.Close()
		text, err := c.Text()
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", wrap(p.Name(), "extract", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", wrap(p.Name(), "recognize text", r.err)
		}
		return nonEmpty(p.Name(), r.text)
	}
}
