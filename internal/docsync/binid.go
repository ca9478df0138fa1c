package docsync

import "strings"

// ExtractBinID reduces a pasted share URL or a bare token to the document id:
// the last non-empty path segment, without query or fragment. It is
// idempotent.
func ExtractBinID(input string) string {
	s := strings.TrimSpace(input)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
