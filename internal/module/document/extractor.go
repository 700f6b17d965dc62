package document

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// Extractor turns an uploaded resume file into plain text. Parsers are
// selected by file extension; PDF and DOCX are supported.
type Extractor struct {
	maxFileSize int64
}

// Config contains extractor configuration.
type Config struct {
	// MaxFileSize bounds accepted uploads in bytes.
	MaxFileSize int64
}

// DefaultConfig returns the default extractor configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize: 10 * 1024 * 1024,
	}
}

// NewExtractor creates a document text extractor.
func NewExtractor(cfg *Config) *Extractor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Extractor{maxFileSize: cfg.MaxFileSize}
}

// Supported reports whether the filename has an extractable extension.
func (e *Extractor) Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".docx":
		return true
	}
	return false
}

// Validate checks the upload before any quota is consumed.
func (e *Extractor) Validate(filename string, size int64) error {
	if !e.Supported(filename) {
		return &ExtractionError{
			Filename: filename,
			Kind:     KindUnsupportedType,
			Message:  fmt.Sprintf("unsupported file type %q, only PDF and DOCX are accepted", filepath.Ext(filename)),
		}
	}
	if size > e.maxFileSize {
		return &ExtractionError{
			Filename: filename,
			Kind:     KindTooLarge,
			Message:  fmt.Sprintf("file exceeds the %d MB limit", e.maxFileSize/(1024*1024)),
		}
	}
	if size == 0 {
		return &ExtractionError{
			Filename: filename,
			Kind:     KindEmpty,
			Message:  "file is empty",
		}
	}
	return nil
}

// Extract returns the plain text of the document bytes.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	if err := e.Validate(filename, int64(len(data))); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		text, err = e.extractPDF(ctx, filename, data)
	case ".docx":
		text, err = e.extractDOCX(filename, data)
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", &ExtractionError{
			Filename: filename,
			Kind:     KindEmpty,
			Message:  "no readable text found in file",
		}
	}

	return text, nil
}

func (e *Extractor) extractPDF(ctx context.Context, filename string, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ExtractionError{
			Filename: filename,
			Kind:     KindCorrupt,
			Message:  "error reading PDF file, ensure it is not corrupted or password protected",
			Err:      err,
		}
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the document.
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n"), nil
}

func (e *Extractor) extractDOCX(filename string, data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ExtractionError{
			Filename: filename,
			Kind:     KindCorrupt,
			Message:  "error reading DOCX file, ensure it is a valid Word document",
			Err:      err,
		}
	}
	defer doc.Close()

	return wordXMLToText(doc.Editable().GetContent()), nil
}

// wordXMLToText flattens document.xml into plain text: <w:t> runs are kept,
// paragraph ends become newlines, everything else is dropped.
func wordXMLToText(content string) string {
	var b strings.Builder

	for i := 0; i < len(content); {
		open := strings.IndexByte(content[i:], '<')
		if open < 0 {
			b.WriteString(content[i:])
			break
		}
		b.WriteString(content[i : i+open])
		i += open

		close := strings.IndexByte(content[i:], '>')
		if close < 0 {
			break
		}
		tag := content[i+1 : i+close]
		if tag == "/w:p" {
			b.WriteByte('\n')
		}
		i += close + 1
	}

	return b.String()
}
