// Package rag provides the text-side primitives of the retrieval pipeline:
// the deterministic overlapping-window chunker and the grouping of search
// hits into a labeled grounding context.
package rag

import "strings"

// Default chunking parameters. Exposed as config values via
// internal/config; these are only the fallbacks.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Split cuts text into overlapping windows of size runes, each window
// sharing overlap runes with its predecessor. Windows are trimmed and
// blank windows dropped, so empty or whitespace-only input yields nil.
//
// The split is deterministic: identical input and parameters always
// produce the identical chunk sequence, which makes re-ingestion of
// unchanged content idempotent in content.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	// Rune-based so multi-byte content (the portal has non-English
	// documents) never gets cut mid-character.
	runes := []rune(text)

	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}

		// Stop once the next window would not advance past the trailing
		// overlap region; a short remainder is already covered by the
		// current window.
		next := end - overlap
		if next <= start || next >= len(runes)-overlap {
			break
		}
		start = next
	}

	return chunks
}
