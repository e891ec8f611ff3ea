// Package normalize canonicalizes user supplied strings before they are stored
// or compared.
package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// ID trims an opaque identifier received over the wire. Hex object ids are
// case-insensitive, so the result is lower-cased as well.
func ID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Content trims a chat message body and folds CRLF line endings to LF so the
// stored text is identical regardless of the sending platform.
func Content(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// Name collapses runs of whitespace in a display name.
func Name(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
