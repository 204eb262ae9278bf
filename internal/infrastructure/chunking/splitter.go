package chunking

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order: paragraph, line, sentence, clause, word, rune.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", ""}

type Splitter struct {
	ChunkSize    int
	Overlap      int
	MinPageChars int
	Separators   []string
}

func NewSplitter(chunkSize, overlap, minPageChars int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 800
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	if minPageChars < 0 {
		minPageChars = 0
	}
	return &Splitter{
		ChunkSize:    chunkSize,
		Overlap:      overlap,
		MinPageChars: minPageChars,
		Separators:   DefaultSeparators,
	}
}

// SplitPage chunks one page. Pages below MinPageChars yield nothing; a page above
// the minimum always yields at least its trimmed text.
func (s *Splitter) SplitPage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || utf8.RuneCountInString(trimmed) < s.MinPageChars {
		return nil
	}
	chunks := s.Split(trimmed)
	if len(chunks) == 0 {
		return []string{trimmed}
	}
	return chunks
}

func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	separators := s.Separators
	if len(separators) == 0 {
		separators = DefaultSeparators
	}

	raw := s.split(text, separators)
	out := make([]string, 0, len(raw))
	for _, chunk := range raw {
		chunk = strings.TrimSpace(chunk)
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, candidate := range separators {
		if candidate == "" {
			separator = ""
			break
		}
		if strings.Contains(text, candidate) {
			separator = candidate
			next = separators[i+1:]
			break
		}
	}

	var out, pending []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if utf8.RuneCountInString(piece) < s.ChunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			out = append(out, s.merge(pending)...)
			pending = nil
		}
		if len(next) == 0 {
			out = append(out, piece)
			continue
		}
		out = append(out, s.split(piece, next)...)
	}
	if len(pending) > 0 {
		out = append(out, s.merge(pending)...)
	}
	return out
}

// merge packs small pieces into chunks of at most ChunkSize runes, carrying a tail
// of at most Overlap runes into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var out, window []string
	total := 0
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > s.ChunkSize && len(window) > 0 {
			out = appendJoined(out, window)
			for len(window) > 0 && (total > s.Overlap || (total+n > s.ChunkSize && total > 0)) {
				total -= utf8.RuneCountInString(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += n
	}
	return appendJoined(out, window)
}

func appendJoined(out, window []string) []string {
	joined := strings.TrimSpace(strings.Join(window, ""))
	if joined == "" {
		return out
	}
	return append(out, joined)
}

// splitKeepSeparator splits text so each piece after the first starts with sep.
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
	for i, part := range parts {
		if i > 0 {
			part = sep + part
		}
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
