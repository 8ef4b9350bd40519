package text

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators run from paragraph breaks down to single characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", ""}

type Chunk struct {
	Index        int
	Total        int
	Content      string
	SectionTitle string
	CharCount    int
}

// Chunker splits documents into overlapping chunks of at most Size
// characters, preferring the earliest separator that still fits.
type Chunker struct {
	size       int
	overlap    int
	separators []string
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 512
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap, separators: DefaultSeparators}
}

// Split chunks text section by section. Indexes are contiguous from 0 in
// source order and every chunk carries the final total.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []Chunk
	for _, sec := range splitSections(text) {
		for _, piece := range c.splitText(sec.content, c.separators) {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Index:        len(chunks),
				Content:      piece,
				SectionTitle: sec.title,
				CharCount:    utf8.RuneCountInString(piece),
			})
		}
	}

	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	slog.Debug("text chunked", "chunks", len(chunks), "chars", utf8.RuneCountInString(text))
	return chunks
}

func (c *Chunker) splitText(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			sep = s
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var (
		out  []string
		good []string
	)
	for _, s := range splitKeepSeparator(text, sep) {
		if length(s) < c.size {
			good = append(good, s)
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, s)
		} else {
			out = append(out, c.splitText(s, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, c.merge(good)...)
	}
	return out
}

// merge packs splits into chunks no longer than size, carrying up to
// overlap characters of trailing splits into the next chunk.
func (c *Chunker) merge(splits []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, s := range splits {
		n := length(s)
		if total+n > c.size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				out = append(out, doc)
			}
			for len(current) > 0 && (total > c.overlap || total+n > c.size) {
				total -= length(current[0])
				current = current[1:]
			}
		}
		current = append(current, s)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

// splitKeepSeparator splits text on sep, attaching each separator to the
// start of the piece that follows it. An empty sep splits into runes.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
