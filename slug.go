package auth

import "strings"

const (
	usernameMaxLength = 20
	usernameMinLength = 3
)

// SanitizeUsername turns a provider supplied username into a suggestion for
// a local username: every character outside [a-z0-9_] becomes "_", the
// result is lower cased, cut to 20 characters and right padded with "_" to
// at least 3.
func SanitizeUsername(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	for _, r := range strings.ToLower(raw) {
		if b.Len() >= usernameMaxLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	for b.Len() < usernameMinLength {
		b.WriteByte('_')
	}

	return b.String()
}
