// Package fingerprint computes stable digests of extracted page text, used
// to detect content change between visits.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// sep separates items inside a list field; group separates the four fields.
// Two levels keep boundaries distinct both ways: an item moving between
// headings and paragraphs changes the digest, as does text moving between
// title and meta description.
const (
	sep   = "\x1f"
	group = "\x1e"
)

// Hash returns a lowercase hex sha256 digest over the title, meta
// description, headings, and paragraphs in order. The same input always
// produces the same digest, across process restarts.
func Hash(title, metaDescription string, headings, paragraphs []string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(group)
	b.WriteString(metaDescription)
	b.WriteString(group)
	b.WriteString(strings.Join(headings, sep))
	b.WriteString(group)
	b.WriteString(strings.Join(paragraphs, sep))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
