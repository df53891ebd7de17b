package bot

import (
	"context"
	"strings"
	"unicode/utf8"
)

// splitMessage splits a message into chunks that fit within maxLen bytes,
// preferring to cut on a newline in the second half of a chunk.
func splitMessage(msg string, maxLen int) []string {
	return split(msg, func(s string) int {
		if len(s) <= maxLen {
			return len(s)
		}
		cut := maxLen
		// Do not split a multi-byte character
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			// not valid UTF-8, any cut will do
			cut = maxLen
		}
		return cut
	})
}

// splitMessageRunes is splitMessage for limits counted in characters
func splitMessageRunes(msg string, maxLen int) []string {
	return split(msg, func(s string) int {
		cut := 0
		for n := 0; n < maxLen && cut < len(s); n++ {
			_, size := utf8.DecodeRuneInString(s[cut:])
			cut += size
		}
		return cut
	})
}

// split cuts msg into pieces; window returns the byte length of the longest
// allowed prefix of its argument and must be positive for non-empty input.
func split(msg string, window func(string) int) []string {
	var chunks []string
	for {
		cut := window(msg)
		if cut >= len(msg) {
			return append(chunks, msg)
		}
		if idx := strings.LastIndex(msg[:cut], "\n"); idx > cut/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
}

// sendChunks sends the non-empty chunks in order and stops at the first failure
func sendChunks(ctx context.Context, chunks []string, send func(chunk string) error) error {
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if chunk == "" {
			continue
		}
		if err := send(chunk); err != nil {
			return err
		}
	}
	return nil
}
