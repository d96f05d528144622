package sigv4

import (
	"sort"
	"strings"
)

// Escape percent-encodes s using the RFC 3986 unreserved set. Every byte
// outside A-Z a-z 0-9 - _ . ~ becomes %XX with upper-case hex.
func Escape(s string) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// EncodeForm renders params as key=value pairs joined by '&', sorted by key,
// with both sides escaped by Escape.
func EncodeForm(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, Escape(k)+"="+Escape(params[k]))
	}
	return strings.Join(pairs, "&")
}
