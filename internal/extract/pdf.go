package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dslipak/pdf"
)

// extractPDF emits each non-empty page behind a [Page N] marker so the
// chunker can use pages as section titles.
func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var parts []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("pdf page extraction failed", "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("\n[Page %d]\n%s", i, text))
	}
	return strings.Join(parts, "\n"), nil
}
