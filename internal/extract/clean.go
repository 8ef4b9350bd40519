package extract

import (
	"regexp"
	"strings"
)

var (
	noisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)Page \d+ of \d+`),
		regexp.MustCompile(`(?m)^\d+$`),
		regexp.MustCompile(`(?i)Confidential`),
		regexp.MustCompile(`(?i)All Rights Reserved`),
		regexp.MustCompile(`(?i)Copyright ©.*`),
	}
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
	spacesRe      = regexp.MustCompile(`[ \t]+`)
	trailingRe    = regexp.MustCompile(` +\n`)
	hyphenBreakRe = regexp.MustCompile(`(\w)-\n(\w)`)
)

// Clean strips headers, footers and page numbers, normalizes whitespace and
// rejoins words hyphenated across line breaks.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	for _, re := range noisePatterns {
		text = re.ReplaceAllString(text, "")
	}
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	text = spacesRe.ReplaceAllString(text, " ")
	text = trailingRe.ReplaceAllString(text, "\n")
	text = hyphenBreakRe.ReplaceAllString(text, "$1$2")
	return strings.TrimSpace(text)
}
