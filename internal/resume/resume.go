// Package resume extracts plain text from uploaded résumé files so it can be
// stored on a candidate profile and folded into its embedding text.
package resume

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/jobmatch/internal/embedding"
)

// MaxFileSize bounds the résumé files we are willing to parse.
const MaxFileSize = 10 << 20 // 10MB

// ExtractFile returns the text content of a résumé. PDFs are parsed; .txt,
// .md and .html files are read as-is (HTML is stripped to text).
func ExtractFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("reading resume: %w", err)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("resume %s is %d bytes, limit is %d", path, info.Size(), MaxFileSize)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		f, r, err := pdf.Open(path)
		if err != nil {
			return "", fmt.Errorf("opening pdf: %w", err)
		}
		defer f.Close()
		return plainText(r)
	case ".txt", ".md", ".html", ".htm":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading resume: %w", err)
		}
		if !utf8.Valid(data) {
			return "", fmt.Errorf("resume %s is not valid UTF-8", path)
		}
		return embedding.StripHTML(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported resume format %q (want .pdf, .txt, .md or .html)", filepath.Ext(path))
	}
}

// ExtractPDF parses PDF bytes held in memory.
func ExtractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parsing pdf: %w", err)
	}
	return plainText(r)
}

func plainText(r *pdf.Reader) (string, error) {
	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rd); err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	text := embedding.StripHTML(buf.String())
	if text == "" {
		return "", fmt.Errorf("pdf has no extractable text")
	}
	return text, nil
}
