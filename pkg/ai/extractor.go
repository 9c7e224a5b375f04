package ai

import (
	"context"
	"errors"
)

// ErrNoTextDetected indicates the OCR capability found no text regions
// in the image. Ingestion treats it as a terminal failure for the
// attempt; the caller may retry with a better photo.
var ErrNoTextDetected = errors.New("no text detected in image")

// TextExtractor produces plain text from image bytes via an external
// OCR capability.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}
