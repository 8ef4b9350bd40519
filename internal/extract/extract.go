// Package extract turns uploaded document bytes into cleaned plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	TypePDF  = "pdf"
	TypeDOCX = "docx"
	TypePPTX = "pptx"
	TypeTXT  = "txt"
)

var (
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrNoText          = errors.New("no text content could be extracted from the document")
	ErrExtractFailed   = errors.New("failed to process document")
)

// Extractor pulls raw text out of one document format.
type Extractor interface {
	Extract(data []byte) (string, error)
}

type ExtractorFunc func(data []byte) (string, error)

func (f ExtractorFunc) Extract(data []byte) (string, error) { return f(data) }

type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry returns a registry with the pdf, docx, pptx and txt extractors.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	r.Register(TypePDF, ExtractorFunc(extractPDF))
	r.Register(TypeDOCX, ExtractorFunc(extractDOCX))
	r.Register(TypePPTX, ExtractorFunc(extractPPTX))
	r.Register(TypeTXT, ExtractorFunc(extractTXT))
	return r
}

func (r *Registry) Register(docType string, e Extractor) {
	r.extractors[strings.ToLower(docType)] = e
}

func (r *Registry) Supports(docType string) bool {
	_, ok := r.extractors[strings.ToLower(docType)]
	return ok
}

// Types lists the registered document types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.extractors))
	for t := range r.extractors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Extract runs the extractor for docType and cleans its output. It returns
// ErrNoText when nothing but whitespace survives cleaning.
func (r *Registry) Extract(ctx context.Context, docType string, data []byte) (string, error) {
	e, ok := r.extractors[strings.ToLower(docType)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, docType)
	}

	raw, err := e.Extract(data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtractFailed, err)
	}

	text := Clean(raw)
	if text == "" {
		return "", ErrNoText
	}
	slog.InfoContext(ctx, "text extracted", "document_type", docType, "chars", utf8.RuneCountInString(text))
	return text, nil
}
