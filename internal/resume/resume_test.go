package resume

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractFilePlainText(t *testing.T) {
	path := writeFile(t, "cv.txt", []byte("Go developer\n\n  Kubernetes,   Postgres\n"))
	got, err := ExtractFile(path)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if got != "Go developer Kubernetes, Postgres" {
		t.Errorf("got %q", got)
	}
}

func TestExtractFileHTML(t *testing.T) {
	path := writeFile(t, "cv.html", []byte("<html><body><h1>Jane</h1><script>x()</script><p>Rust &amp; Go</p></body></html>"))
	got, err := ExtractFile(path)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if got != "Jane Rust & Go" {
		t.Errorf("got %q", got)
	}
}

func TestExtractFileErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		want string
	}{
		{"unsupported", "cv.docx", []byte("PK"), "unsupported resume format"},
		{"invalid utf8", "cv.txt", []byte{0xff, 0xfe, 0xfd}, "not valid UTF-8"},
		{"broken pdf", "cv.pdf", []byte("this is not a pdf"), "pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractFile(writeFile(t, tt.file, tt.data))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestExtractFileMissing(t *testing.T) {
	if _, err := ExtractFile(filepath.Join(t.TempDir(), "nope.pdf")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExtractPDFInvalid(t *testing.T) {
	if _, err := ExtractPDF([]byte("%PDF-1.4 truncated")); err == nil {
		t.Fatal("expected error for truncated pdf")
	}
}
