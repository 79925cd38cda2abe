package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrRendererUnavailable is returned when the rasterizer binary is missing.
var ErrRendererUnavailable = errors.New("page renderer is not installed")

// DefaultDPI is the resolution pages are rasterized at.
const DefaultDPI = 300

// Ghostscript rasterizes every page of a PDF to PNG by running gs.
type Ghostscript struct {
	Binary string
	DPI    int
}

// NewGhostscript returns a renderer using the gs binary on PATH at DefaultDPI.
func NewGhostscript() *Ghostscript {
	return &Ghostscript{Binary: "gs", DPI: DefaultDPI}
}

// RenderPages renders one PNG per page, in page order.
func (g *Ghostscript) RenderPages(ctx context.Context, pdf []byte) ([]PageImage, error) {
	pages, err := pageCount(pdf)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "paperless-render-")
	if err != nil {
		return nil, fmt.Errorf("failed to create render directory: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage pdf: %w", err)
	}

	binary, dpi := g.Binary, g.DPI
	if binary == "" {
		binary = "gs"
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	cmd := exec.CommandContext(ctx, binary,
		"-dSAFER", "-dBATCH", "-dNOPAUSE", "-dQUIET",
		"-sDEVICE=pngalpha",
		fmt.Sprintf("-r%d", dpi),
		"-o", filepath.Join(dir, "page-%04d.png"),
		input,
	)
	cmd.WaitDelay = 5 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrRendererUnavailable, err)
		}
		return nil, fmt.Errorf("ghostscript failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	files, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, fmt.Errorf("failed to list rendered pages: %w", err)
	}
	sort.Strings(files)
	if len(files) != pages {
		slog.Warn("Rendered page count differs from document.", "rendered", len(files), "pages", pages)
	}

	out := make([]PageImage, 0, len(files))
	for i, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read rendered page %d: %w", i+1, err)
		}
		out = append(out, PageImage{Page: i + 1, FileType: "png", Data: data})
	}
	return out, nil
}

// PageImages renders whole pages and falls back to the PDF's embedded
// images when the renderer is not installed.
func (g *Ghostscript) PageImages(ctx context.Context, pdf []byte) ([]PageImage, error) {
	images, err := g.RenderPages(ctx, pdf)
	if errors.Is(err, ErrRendererUnavailable) {
		slog.Warn("Page renderer unavailable, using embedded images only.", "binary", g.Binary, "error", err)
		return ExtractPageImages(ctx, pdf)
	}
	return images, err
}

func pageCount(pdf []byte) (int, error) {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	n, err := api.PageCount(bytes.NewReader(pdf), conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	return n, nil
}
