package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/paperlessflow/internal/gcp"
	"github.com/Lllllllleong/paperlessflow/internal/metrics"
)

// refusalPhrases mark a model answer that is not a transcription.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// ContentGenerator is the part of *genai.GenerativeModel the extractor uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexExtractor transcribes a whole PDF with a Gemini model on Vertex AI.
type VertexExtractor struct {
	model ContentGenerator
}

// NewVertexExtractor uses the client's OCR model.
func NewVertexExtractor(client *gcp.VertexClient) *VertexExtractor {
	return &VertexExtractor{model: client.OCRModel}
}

// NewVertexExtractorWithModel uses any content generator.
func NewVertexExtractorWithModel(m ContentGenerator) *VertexExtractor {
	return &VertexExtractor{model: m}
}

// ExtractText sends the PDF inline and returns the model's transcription.
func (e *VertexExtractor) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	start := time.Now()
	defer func() { metrics.OCRDuration.Observe(time.Since(start).Seconds()) }()

	filePart := genai.Blob{MIMEType: "application/pdf", Data: pdf}
	resp, err := e.model.GenerateContent(ctx, filePart, genai.Text(gcp.OCRUserPrompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	text := extractText(resp)
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return "", fmt.Errorf("gemini response indicates refusal: %q", phrase)
		}
	}
	if text == "" {
		slog.Warn("No text extracted from response. Treating as empty document.")
	}
	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out.WriteString(string(txt))
		}
	}

	text := strings.TrimSpace(out.String())
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
