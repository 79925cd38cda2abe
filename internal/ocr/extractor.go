// Package ocr turns PDF bytes into plain text.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/paperlessflow/internal/metrics"
)

var (
	// ErrInvalidPDF is returned for input that pdfcpu cannot parse.
	ErrInvalidPDF = errors.New("document is not a readable PDF")
	// ErrNoPageImages is returned when nothing in the document could be
	// turned into an image for recognition.
	ErrNoPageImages = errors.New("document has no renderable pages")
)

// PageSeparator is placed between the text of consecutive pages.
const PageSeparator = "\n\n"

// Extractor produces the plain text of a PDF document.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// Recognizer turns a single raster image into text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// PageImage is a raster image of a PDF page: either the whole rendered page
// or one image embedded in it.
type PageImage struct {
	Page     int
	ObjectNr int
	FileType string
	Data     []byte
}

// ImageSource lists the raster images of a PDF in page order.
type ImageSource func(ctx context.Context, pdf []byte) ([]PageImage, error)

// PageImageExtractor OCRs the rendered pages of a PDF.
type PageImageExtractor struct {
	recognizer  Recognizer
	images      ImageSource
	concurrency int
}

// NewPageImageExtractor returns an extractor that renders pages with
// Ghostscript and recognizes up to concurrency of them at once.
func NewPageImageExtractor(r Recognizer, concurrency int) *PageImageExtractor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &PageImageExtractor{recognizer: r, images: NewGhostscript().PageImages, concurrency: concurrency}
}

// WithImageSource replaces how page images are pulled out of the PDF.
func (e *PageImageExtractor) WithImageSource(src ImageSource) *PageImageExtractor {
	e.images = src
	return e
}

// ExtractText recognizes every page image and joins the page texts in order.
// It returns ErrNoPageImages when the source yields nothing to recognize.
func (e *PageImageExtractor) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	start := time.Now()
	defer func() { metrics.OCRDuration.Observe(time.Since(start).Seconds()) }()

	images, err := e.images(ctx, pdf)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "", ErrNoPageImages
	}

	texts := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, img := range images {
		g.Go(func() error {
			text, err := e.recognizer.Recognize(gctx, img.Data)
			if err != nil {
				return fmt.Errorf("failed to recognize page %d image %d: %w", img.Page, img.ObjectNr, err)
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return joinPages(images, texts), nil
}

// joinPages concatenates image texts, newline-separated within a page and
// PageSeparator-separated between pages. Blank results are skipped.
func joinPages(images []PageImage, texts []string) string {
	var out strings.Builder
	lastPage := -1
	for i, img := range images {
		if texts[i] == "" {
			continue
		}
		if out.Len() > 0 {
			if img.Page != lastPage {
				out.WriteString(PageSeparator)
			} else {
				out.WriteString("\n")
			}
		}
		out.WriteString(texts[i])
		lastPage = img.Page
	}
	return out.String()
}

var disableConfigDir sync.Once

// ExtractPageImages pulls the raster images a recognizer can read (PNG, JPEG,
// TIFF) out of a PDF, ordered by page and object number. Text drawn with
// fonts or vector paths is not covered; use Ghostscript for whole pages.
func ExtractPageImages(ctx context.Context, pdf []byte) ([]PageImage, error) {
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.ExtractImagesRaw(bytes.NewReader(pdf), nil, conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}

	var out []PageImage
	for _, page := range pages {
		for _, img := range page {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			switch img.FileType {
			case "png", "jpg", "tif":
			default:
				slog.Debug("Skipping unsupported image.", "page", img.PageNr, "fileType", img.FileType)
				continue
			}
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("failed to read image on page %d: %w", img.PageNr, err)
			}
			out = append(out, PageImage{Page: img.PageNr, ObjectNr: img.ObjNr, FileType: img.FileType, Data: data})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].ObjectNr < out[j].ObjectNr
	})
	return out, nil
}
