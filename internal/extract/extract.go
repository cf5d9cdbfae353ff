// Package extract converts uploaded file bytes into plain text for the
// ingestion pipeline.
//
// Extraction never returns an error: failures are converted into sentinel
// placeholder text so the orchestrator always has some content string to
// persist, and decides from its length whether the document is worth
// embedding. The caller is responsible for fetching the bytes from object
// storage; this package is a pure transform.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Text extracts plain text from file bytes, dispatching on the file name's
// extension.
//
//   - .txt/.md: raw decoded text unchanged
//   - .pdf: all-pages text extraction; on failure a placeholder embedding
//     the error message
//   - .doc/.docx: placeholder naming the file (needs specialized processing)
//   - anything else: generic placeholder naming the unknown type
func Text(data []byte, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))

	switch ext {
	case ".txt", ".md":
		return string(data)
	case ".pdf":
		text, err := pdfText(data)
		if err != nil {
			return fmt.Sprintf("[PDF document %q: text extraction failed: %v]", fileName, err)
		}
		return text
	case ".doc", ".docx":
		return fmt.Sprintf("[Document %q is a Word file (%s); this format requires specialized processing before its text can be indexed]", fileName, ext)
	default:
		return fmt.Sprintf("[Document %q has unsupported type %q; its content cannot be extracted]", fileName, ext)
	}
}

// pdfText extracts the text of every page, concatenated in page order.
// The pdf library panics on some malformed inputs, so the recover guard
// is load-bearing, not defensive decoration.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}

	return sb.String(), nil
}
