package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"recipesnap/pkg/ai"
	"recipesnap/pkg/domain"
)

// extractUpload turns an uploaded file into plain text. PDFs are parsed
// directly from the staged temp file; everything else is treated as an
// image and sent through OCR.
func (a *App) extractUpload(ctx context.Context, filename, path string, data []byte) (string, domain.RecipeSource, error) {
	if strings.ToLower(filepath.Ext(filename)) == ".pdf" {
		text, err := pdfText(path)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		if text == "" {
			return "", "", fmt.Errorf("%w: pdf contains no text", ErrExtractionFailed)
		}
		return text, domain.SourcePDF, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.aiTimeout)
	defer cancel()
	text, err := a.extractor.ExtractText(ctx, data)
	if errors.Is(err, ai.ErrNoTextDetected) {
		return "", "", fmt.Errorf("%w: no text detected in image", ErrExtractionFailed)
	}
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	text = normalizeText(text)
	if text == "" {
		return "", "", fmt.Errorf("%w: no text detected in image", ErrExtractionFailed)
	}
	return text, domain.SourceImage, nil
}

func pdfText(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	var sb strings.Builder
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return normalizeText(sb.String()), nil
}

// normalizeText strips control noise while keeping line structure, which
// carries meaning in recipes (one ingredient or step per line).
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
