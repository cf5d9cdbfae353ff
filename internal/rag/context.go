package rag

import (
	"fmt"
	"strings"
)

// SourceChunk is one retrieved chunk attributed to its source document.
// The assistant maps store search hits into this shape before building
// the grounding context.
type SourceChunk struct {
	DocumentID string
	Title      string
	Content    string
}

// BuildContext folds ranked chunks into one labeled context block per
// source document, preserving the first-seen order of documents and the
// ranked order of chunks within a document. The first-seen title wins
// when chunks of the same document disagree.
//
// Two chunks from document A and one from document B therefore produce
// exactly two sections, with A's section containing both of its chunks.
func BuildContext(chunks []SourceChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	type section struct {
		title string
		parts []string
	}

	order := make([]string, 0, len(chunks))
	sections := make(map[string]*section, len(chunks))

	for _, c := range chunks {
		text := strings.TrimSpace(c.Content)
		if text == "" {
			continue
		}
		s, ok := sections[c.DocumentID]
		if !ok {
			s = &section{title: c.Title}
			sections[c.DocumentID] = s
			order = append(order, c.DocumentID)
		}
		s.parts = append(s.parts, text)
	}

	var b strings.Builder
	for _, id := range order {
		s := sections[id]
		title := s.title
		if title == "" {
			title = "Untitled document"
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", title, strings.Join(s.parts, "\n\n"))
	}

	return strings.TrimRight(b.String(), "\n")
}

// Preview returns at most n runes of content, appending an ellipsis when
// truncated. Used by the fallback path to bound context size when whole
// documents are stuffed into the prompt.
func Preview(content string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n]) + "…"
}
