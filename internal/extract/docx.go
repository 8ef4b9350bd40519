package extract

import (
	"fmt"
	"strconv"
	"strings"
)

func extractDOCX(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		blocks, err := readZipBlocks(f)
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}

		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if level, ok := headingLevel(b.Style); ok && !b.Table {
				parts = append(parts, fmt.Sprintf("\n%s %s\n", strings.Repeat("#", level), b.Text))
				continue
			}
			parts = append(parts, b.Text)
		}
		return strings.Join(parts, "\n"), nil
	}
	return "", fmt.Errorf("word/document.xml not found")
}

// headingLevel maps Word style ids such as "Heading2" to a markdown level.
// Headings without a numeric level render as level 2.
func headingLevel(style string) (int, bool) {
	lower := strings.ToLower(style)
	if !strings.HasPrefix(lower, "heading") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(lower[len("heading"):]))
	if err != nil || n < 1 {
		return 2, true
	}
	return min(n, 6), true
}
