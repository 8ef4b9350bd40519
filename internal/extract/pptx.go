package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var slidePathRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPPTX emits each slide with content behind a [Slide N] marker.
// Slides are ordered by the number in their part name.
func extractPPTX(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}

	type slide struct {
		num  int
		text string
	}
	var slides []slide

	for _, f := range zr.File {
		m := slidePathRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])

		blocks, err := readZipBlocks(f)
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", f.Name, err)
		}
		if len(blocks) == 0 {
			continue
		}

		lines := []string{fmt.Sprintf("\n[Slide %d]\n", num)}
		for _, b := range blocks {
			lines = append(lines, b.Text)
		}
		slides = append(slides, slide{num: num, text: strings.Join(lines, "\n")})
	}

	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	parts := make([]string, len(slides))
	for i, s := range slides {
		parts[i] = s.text
	}
	return strings.Join(parts, "\n"), nil
}
