// Package chunker splits oversized conversation text into ordered chunks
// without breaking paragraphs or sentences where it can avoid it.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/rcliao/memory-relay/internal/model"
)

const DefaultMaxSize = 2000

// Split thresholds as fractions of the maximum chunk size. A boundary must lie
// past the threshold to be used, otherwise chunks would get too small.
const (
	paragraphThreshold = 0.5
	sentenceThreshold  = 0.5
	commaThreshold     = 0.7
)

const (
	sentenceEnders = "。！？.!?"
	commaMarks     = "，,、；;"
)

// Segment splits text into ordered chunks. Lengths are counted in Unicode
// code points. Text of at most maxSize is returned unchanged as the only
// element.
//
// Each cut prefers, in order: a paragraph break, a sentence end, a
// comma-class mark past 70% of maxSize, and finally a hard cut at maxSize.
// Paragraph and sentence breaks are taken from the window when one lies past
// half of it, otherwise the nearest one beyond the window is used, up to
// maxOverrun past maxSize. A chunk is therefore never longer than
// maxSize+maxOverrun(maxSize).
func Segment(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if utf8.RuneCountInString(text) <= maxSize {
		return []string{text}
	}

	var chunks []string
	add := func(r []rune) {
		if t := strings.TrimSpace(string(r)); t != "" {
			chunks = append(chunks, t)
		}
	}

	rest := []rune(text)
	for len(rest) > maxSize {
		cut := splitPoint(rest, maxSize)
		add(rest[:cut])
		rest = rest[cut:]
	}
	add(rest)

	return chunks
}

// maxOverrun is how far past maxSize a paragraph or sentence break is still
// preferred over cutting inside the window.
func maxOverrun(maxSize int) int {
	return maxSize / 2
}

// splitPoint returns how many runes of rest to take. rest is longer than
// maxSize. The result is in (maxSize/2, maxSize+maxOverrun], so every
// iteration of Segment makes progress.
func splitPoint(rest []rune, maxSize int) int {
	limit := float64(maxSize)
	window := rest[:maxSize]
	reach := rest[:min(len(rest), maxSize+maxOverrun(maxSize))]

	if i := lastParagraphBreak(window); i >= 0 && float64(i) > paragraphThreshold*limit {
		return i + 2
	}
	// A break straddling the window edge starts at maxSize-1.
	if i := nextParagraphBreak(reach, maxSize-1); i >= 0 {
		return i + 2
	}
	if i := lastRuneIn(window, sentenceEnders); i >= 0 && float64(i) > sentenceThreshold*limit {
		return i + 1
	}
	if i := nextRuneIn(reach, maxSize, sentenceEnders); i >= 0 {
		return i + 1
	}
	if i := lastRuneIn(window, commaMarks); i >= 0 && float64(i) > commaThreshold*limit {
		return i + 1
	}
	return maxSize
}

func lastParagraphBreak(r []rune) int {
	for i := len(r) - 2; i >= 0; i-- {
		if r[i] == '\n' && r[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func nextParagraphBreak(r []rune, from int) int {
	for i := from; i+1 < len(r); i++ {
		if r[i] == '\n' && r[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func nextRuneIn(r []rune, from int, set string) int {
	for i := from; i < len(r); i++ {
		if strings.ContainsRune(set, r[i]) {
			return i
		}
	}
	return -1
}

func lastRuneIn(r []rune, set string) int {
	for i := len(r) - 1; i >= 0; i-- {
		if strings.ContainsRune(set, r[i]) {
			return i
		}
	}
	return -1
}

// Tag turns the chunks of base.Content into records. Chunk metadata is only
// set when there is more than one chunk.
func Tag(base model.MemoryRecord, chunks []string) []model.MemoryRecord {
	records := make([]model.MemoryRecord, 0, len(chunks))
	total := len(chunks)
	for i, c := range chunks {
		rec := base
		rec.Content = c
		if total > 1 {
			rec.Metadata.ChunkIndex = i + 1
			rec.Metadata.ChunkTotal = total
			rec.Metadata.OriginalLength = utf8.RuneCountInString(base.Content)
		}
		records = append(records, rec)
	}
	return records
}
