package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Fingerprint creates a SHA256 hex digest of the joined parts. Used for
// deduplication keys and for consistent, safe storage keys.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeURL resolves a possibly relative URL against base and strips the
// fragment. An empty base leaves relative URLs untouched.
func NormalizeURL(base, raw string) string {
	rel, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	if base != "" && !rel.IsAbs() {
		if b, err := url.Parse(base); err == nil {
			rel = b.ResolveReference(rel)
		}
	}
	rel.Fragment = ""
	return rel.String()
}
