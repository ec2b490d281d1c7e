// Package chunking splits note content into paragraph-sized chunks, the
// unit of embedding and retrieval.
package chunking

import (
	"regexp"
	"strings"
)

var blankLine = regexp.MustCompile(`\n\s*\n`)

// Split breaks content on one-or-more blank lines, trims each part, and
// drops empties. Order is preserved.
func Split(content string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	parts := blankLine.Split(content, -1)
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks
}

// Leading returns up to n leading paragraphs of content.
func Leading(content string, n int) []string {
	chunks := Split(content)
	if len(chunks) > n {
		chunks = chunks[:n]
	}
	return chunks
}
