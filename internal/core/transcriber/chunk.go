package transcriber

import (
	"math"
	"strings"
	"unicode"
)

// window is a frame range of the input buffer.
type window struct {
	start, end int
}

// splitWindows divides frames into windows of chunk seconds that overlap by
// overlap seconds. A non-positive chunk, or audio no longer than one chunk,
// yields a single window.
func splitWindows(frames, rate int, chunk, overlap float64) []window {
	size := int(math.Round(chunk * float64(rate)))
	if size <= 0 || frames <= size {
		return []window{{0, frames}}
	}
	step := size - int(math.Round(overlap*float64(rate)))
	if step <= 0 {
		step = size
	}

	var out []window
	for start := 0; start < frames; start += step {
		end := min(start+size, frames)
		out = append(out, window{start, end})
		if end == frames {
			break
		}
	}
	return out
}

// mergeTranscripts joins consecutive chunk transcripts, dropping the words at
// the start of each part that repeat the end of the text so far.
func mergeTranscripts(parts []string) string {
	var merged []string
	for _, part := range parts {
		words := strings.Fields(part)
		if len(words) == 0 {
			continue
		}
		n := wordOverlap(merged, words)
		merged = append(merged, words[n:]...)
	}
	return strings.Join(merged, " ")
}

// wordOverlap returns the length of the longest suffix of a that equals a
// prefix of b, comparing words case-insensitively without punctuation.
func wordOverlap(a, b []string) int {
	for n := min(len(a), len(b)); n > 0; n-- {
		match := true
		for i := 0; i < n; i++ {
			if normWord(a[len(a)-n+i]) != normWord(b[i]) {
				match = false
				break
			}
		}
		if match {
			return n
		}
	}
	return 0
}

func normWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	}))
}
