// Package tesseract recognizes page images with a local Tesseract installation
// through gosseract. Building it requires the libtesseract headers.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/Lllllllleong/paperlessflow/internal/ocr"
)

// Recognizer satisfies ocr.Recognizer.
type Recognizer struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// New returns a recognizer using the given language packs
// (for example "eng", "deu"). No languages means Tesseract's default.
func New(languages ...string) *Recognizer {
	return &Recognizer{
		languages:     append([]string(nil), languages...),
		clientFactory: gosseract.NewClient,
	}
}

// Factory builds a Recognizer for languages as an ocr.Recognizer.
func Factory(languages []string) ocr.Recognizer {
	return New(languages...)
}

// Recognize runs Tesseract on one image. gosseract clients are not safe for
// concurrent use, so each call gets its own.
func (r *Recognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := r.clientFactory()
	defer c.Close()

	if len(r.languages) > 0 {
		if err := c.SetLanguage(r.languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
