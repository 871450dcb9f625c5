// Package chunker splits document text into bounded, overlapping segments
// suitable for embedding and retrieval.
package chunker

import "strings"

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators are tried in priority order: paragraph breaks first, then line
// breaks, sentence ends, spaces, and finally a hard character cut.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Split cuts text into segments of at most size characters, carrying overlap
// characters of trailing context into the next segment. The same input and
// parameters always produce the same output, and no segment is empty.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := splitRecursive(text, size, separators)
	merged := mergePieces(pieces, size, overlap)

	chunks := make([]string, 0, len(merged))
	for _, chunk := range merged {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitRecursive breaks text into pieces no longer than size, preferring the
// earliest separator in the priority list that appears in the text. Separators
// stay attached to the preceding piece so that concatenation is lossless.
func splitRecursive(text string, size int, seps []string) []string {
	if len(text) <= size {
		return []string{text}
	}

	sep := seps[0]
	rest := seps[1:]

	if sep == "" {
		return hardCut(text, size)
	}
	if !strings.Contains(text, sep) {
		return splitRecursive(text, size, rest)
	}

	parts := strings.SplitAfter(text, sep)
	pieces := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if len(part) <= size {
			pieces = append(pieces, part)
			continue
		}
		pieces = append(pieces, splitRecursive(part, size, rest)...)
	}
	return pieces
}

// mergePieces greedily packs pieces into chunks of at most size characters.
// When a chunk is emitted, trailing pieces totalling at most overlap
// characters are kept as the head of the next chunk.
func mergePieces(pieces []string, size, overlap int) []string {
	var chunks []string
	var current []string
	total := 0

	for _, piece := range pieces {
		if total > 0 && total+len(piece) > size {
			chunks = append(chunks, strings.Join(current, ""))
			for len(current) > 0 && (total > overlap || total+len(piece) > size) {
				total -= len(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += len(piece)
	}

	if total > 0 {
		chunks = append(chunks, strings.Join(current, ""))
	}
	return chunks
}

func hardCut(text string, size int) []string {
	pieces := make([]string, 0, len(text)/size+1)
	for len(text) > size {
		pieces = append(pieces, text[:size])
		text = text[size:]
	}
	if len(text) > 0 {
		pieces = append(pieces, text)
	}
	return pieces
}
