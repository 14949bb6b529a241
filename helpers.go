package nostrkit

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/exp/constraints"
)

// Similar reports whether as and bs contain the same elements,
// regardless of order.
func Similar[E constraints.Ordered](as, bs []E) bool {
	if len(as) != len(bs) {
		return false
	}

	for _, a := range as {
		for _, b := range bs {
			if b == a {
				goto next
			}
		}
		// didn't find a B that corresponded to the current A
		return false

	next:
		continue
	}

	return true
}

// escapeString appends s to dst as a JSON string, escaping exactly the
// characters NIP-01 requires so the canonical serialization is byte-exact.
func escapeString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			dst = append(dst, '\\', '"')
		case c == '\\':
			dst = append(dst, '\\', '\\')
		case c == '\n':
			dst = append(dst, '\\', 'n')
		case c == '\r':
			dst = append(dst, '\\', 'r')
		case c == '\t':
			dst = append(dst, '\\', 't')
		case c == '\b':
			dst = append(dst, '\\', 'b')
		case c == '\f':
			dst = append(dst, '\\', 'f')
		case c < 0x20:
			const hexchars = "0123456789abcdef"
			dst = append(dst, '\\', 'u', '0', '0', hexchars[c>>4], hexchars[c&0xf])
		default:
			dst = append(dst, c)
		}
	}
	dst = append(dst, '"')
	return dst
}

// newSubscriptionID generates a random subscription id.
func newSubscriptionID() string {
	random := make([]byte, 7)
	rand.Read(random)
	return hex.EncodeToString(random)
}

func isLowerHex(s string) bool {
	for _, c := range s {
		if !(('0' <= c && c <= '9') || ('a' <= c && c <= 'f')) {
			return false
		}
	}
	return true
}
