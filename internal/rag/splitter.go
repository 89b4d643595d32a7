package rag

import "strings"

// Splitter cuts page text into overlapping chunks suitable for embedding.
// It prefers breaking on paragraph, then line, then word boundaries before
// falling back to a hard cut.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

var separators = []string{"\n\n", "\n", " "}

const fallbackChunkSize = 1000

// Split returns the chunks of text in document order. Empty input yields nil.
// A non-positive chunk size or an overlap that is not smaller than the chunk
// size falls back to safe values, so the splitter never spins on bad config.
func (s Splitter) Split(text string) []string {
	size := s.ChunkSize
	if size < 1 {
		size = fallbackChunkSize
	}
	overlap := s.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunk := strings.TrimSpace(text[start:])
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}
		cut := s.findCut(text, start, end)
		chunk := strings.TrimSpace(text[start:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// findCut looks backwards from end for the strongest separator inside the
// second half of the window, so chunks keep natural boundaries.
func (s Splitter) findCut(text string, start, end int) int {
	window := text[start:end]
	half := len(window) / 2
	for _, sep := range separators {
		if idx := strings.LastIndex(window, sep); idx > half {
			return start + idx + len(sep)
		}
	}
	return end
}
