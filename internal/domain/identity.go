package domain

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// NewPeerID derives a login identity from a display name:
// the sanitized name plus a 4-digit random suffix.
// Uniqueness is probabilistic, not negotiated.
func NewPeerID(displayName string) PeerID {
	name := sanitizeName(displayName)
	if name == "" {
		name = "guest"
	}
	return PeerID(fmt.Sprintf("%s-%04d", name, rand.IntN(10000)))
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
		if b.Len() >= MaxPeerIDLen-5 {
			break
		}
	}
	return b.String()
}
