package ocr

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/paperlessflow/internal/pipelinetest"
)

// echoRecognizer returns the image bytes as text.
type echoRecognizer struct {
	fail map[string]error
}

func (r echoRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := r.fail[string(image)]; err != nil {
		return "", err
	}
	return " " + string(image) + "\n", nil
}

func staticImages(images ...PageImage) ImageSource {
	return func(context.Context, []byte) ([]PageImage, error) { return images, nil }
}

func TestPageImageExtractorJoinsPagesInOrder(t *testing.T) {
	e := NewPageImageExtractor(echoRecognizer{}, 3).WithImageSource(staticImages(
		PageImage{Page: 1, ObjectNr: 4, Data: []byte("first")},
		PageImage{Page: 1, ObjectNr: 9, Data: []byte("second")},
		PageImage{Page: 2, ObjectNr: 12, Data: []byte("")},
		PageImage{Page: 3, ObjectNr: 15, Data: []byte("third")},
	))

	text, err := e.ExtractText(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond"+PageSeparator+"third", text)
}

func TestPageImageExtractorNoImages(t *testing.T) {
	e := NewPageImageExtractor(echoRecognizer{}, 1).WithImageSource(staticImages())
	text, err := e.ExtractText(context.Background(), []byte("%PDF"))
	assert.ErrorIs(t, err, ErrNoPageImages)
	assert.Empty(t, text)
}

func TestPageImageExtractorRecognizerFailure(t *testing.T) {
	boom := errors.New("engine crashed")
	e := NewPageImageExtractor(echoRecognizer{fail: map[string]error{"bad": boom}}, 2).WithImageSource(staticImages(
		PageImage{Page: 1, Data: []byte("good")},
		PageImage{Page: 2, Data: []byte("bad")},
	))

	_, err := e.ExtractText(context.Background(), []byte("%PDF"))
	assert.ErrorIs(t, err, boom)
}

func TestPageImageExtractorSourceFailure(t *testing.T) {
	e := NewPageImageExtractor(echoRecognizer{}, 1).WithImageSource(func(context.Context, []byte) ([]PageImage, error) {
		return nil, ErrInvalidPDF
	})
	_, err := e.ExtractText(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, ErrInvalidPDF)
}

func TestExtractPageImagesRejectsNonPDF(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"plain text", []byte("hello, this is not a pdf")},
		{"truncated header", []byte("%PDF-1.7\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractPageImages(context.Background(), tt.data)
			assert.ErrorIs(t, err, ErrInvalidPDF)
		})
	}
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// stripes is a 16x16 gray bitmap of alternating black and white rows.
func stripes() *pipelinetest.GrayImage {
	img := &pipelinetest.GrayImage{Width: 16, Height: 16, Pix: make([]byte, 16*16)}
	for y := range 16 {
		if y%2 == 0 {
			continue
		}
		for x := range 16 {
			img.Pix[y*16+x] = 0xff
		}
	}
	return img
}

// countingRecognizer reports how often it ran and answers with a fixed text.
type countingRecognizer struct {
	text  string
	calls atomic.Int32
}

func (r *countingRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	r.calls.Add(1)
	return r.text, nil
}

func TestExtractPageImagesReadsEmbeddedImages(t *testing.T) {
	tests := []struct {
		name  string
		pdf   []byte
		count int
	}{
		{"scanned page", pipelinetest.OnePagePDF("hello invoice", stripes()), 1},
		{"text only page", pipelinetest.OnePagePDF("hello invoice", nil), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			images, err := ExtractPageImages(context.Background(), tt.pdf)
			require.NoError(t, err)
			require.Len(t, images, tt.count)
			for _, img := range images {
				assert.Equal(t, 1, img.Page)
				assert.Equal(t, "png", img.FileType)
				assert.True(t, bytes.HasPrefix(img.Data, pngSignature))
			}
		})
	}
}

func TestExtractTextFromScannedPageWithoutRenderer(t *testing.T) {
	rec := &countingRecognizer{text: "hello invoice"}
	gs := &Ghostscript{Binary: "paperless-no-such-gs"}
	e := NewPageImageExtractor(rec, 1).WithImageSource(gs.PageImages)

	text, err := e.ExtractText(context.Background(), pipelinetest.OnePagePDF("hello invoice", stripes()))
	require.NoError(t, err)
	assert.Equal(t, "hello invoice", text)
	assert.EqualValues(t, 1, rec.calls.Load())
}

func TestExtractTextFailsWhenNothingRenders(t *testing.T) {
	rec := &countingRecognizer{text: "unused"}
	gs := &Ghostscript{Binary: "paperless-no-such-gs"}
	e := NewPageImageExtractor(rec, 1).WithImageSource(gs.PageImages)

	text, err := e.ExtractText(context.Background(), pipelinetest.OnePagePDF("hello invoice", nil))
	assert.ErrorIs(t, err, ErrNoPageImages)
	assert.Empty(t, text)
	assert.Zero(t, rec.calls.Load())
}
