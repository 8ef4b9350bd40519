package text

import (
	"regexp"
	"strings"
)

var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^#{1,6}\s+(.+)$`),
	regexp.MustCompile(`^\[Page \d+\]$`),
	regexp.MustCompile(`^\[Slide \d+\]$`),
	regexp.MustCompile(`^[A-Z][A-Z\s]{5,50}$`),
	regexp.MustCompile(`^\d+\.\s+[A-Z]`),
	regexp.MustCompile(`^Chapter\s+\d+`),
	regexp.MustCompile(`^Section\s+\d+`),
}

// DetectHeading returns the title carried by line, or "" if the line is
// body text. Markdown headings yield their text without the hashes; other
// patterns yield the whole trimmed line.
func DetectHeading(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	for _, re := range headingPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
		return line
	}
	return ""
}

type section struct {
	title   string
	content string
}

// splitSections groups lines under the most recent heading. Heading lines
// themselves are not part of any section body.
func splitSections(text string) []section {
	var (
		out     []section
		title   string
		current []string
	)
	flush := func() {
		body := strings.TrimSpace(strings.Join(current, "\n"))
		if body != "" {
			out = append(out, section{title: title, content: body})
		}
		current = current[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		if h := DetectHeading(line); h != "" {
			flush()
			title = h
			continue
		}
		current = append(current, line)
	}
	flush()

	if len(out) == 0 && strings.TrimSpace(text) != "" {
		out = append(out, section{content: strings.TrimSpace(text)})
	}
	return out
}
