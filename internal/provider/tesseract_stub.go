//go:build !tesseract

package provider

import "errors"

// ErrTesseractUnavailable is returned when the binary was built without the
// tesseract build tag (libtesseract is a cgo dependency).
var ErrTesseractUnavailable = errors.New("tesseract provider not compiled in; rebuild with -tags tesseract")

func NewTesseract(langs []string) (Provider, error) {
	return nil, ErrTesseractUnavailable
}
