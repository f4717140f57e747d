package crypto

import (
	"strings"

	"cipherlink/internal/domain"
)

// Fingerprint formats an Ed25519 key for display: the base64 key in groups
// of four characters.
func Fingerprint(key domain.Ed25519) domain.Fingerprint {
	s := key.String()
	var b strings.Builder
	for i := 0; i < len(s); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}
	return domain.Fingerprint(b.String())
}
