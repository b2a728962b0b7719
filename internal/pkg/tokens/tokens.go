// Package tokens provides a process-wide tiktoken-backed BPE counter, ported
// from the cl100k_base wiring both gliderlab's agent loop and gateway use for
// context-window accounting.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoding     *tiktoken.Tiktoken
	encodingErr  error
	encodingOnce sync.Once
)

func initEncoding() {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
}

// Count returns the BPE token count of s using cl100k_base, falling back to
// a whitespace-split approximation if the encoding tables failed to load
// (e.g. no network access to fetch the BPE rank file).
func Count(s string) int {
	initEncoding()
	if encoding == nil {
		return approximate(s)
	}
	return len(encoding.Encode(s, nil, nil))
}

// Truncate trims s to at most maxTokens BPE tokens, returning s unchanged if
// it already fits.
func Truncate(s string, maxTokens int) string {
	initEncoding()
	if encoding == nil {
		return truncateApprox(s, maxTokens)
	}
	toks := encoding.Encode(s, nil, nil)
	if len(toks) <= maxTokens {
		return s
	}
	return encoding.Decode(toks[:maxTokens])
}

func approximate(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if isSpace {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

func truncateApprox(s string, maxTokens int) string {
	words := 0
	for i, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			words++
			if words >= maxTokens {
				return s[:i]
			}
		}
	}
	return s
}
