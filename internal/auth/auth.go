// Package auth generates API keys and extracts the key from the
// Authorization header: the literal, case-sensitive "TOKEN " prefix
// followed by the key. Looking the key up to a user is left to the caller.
package auth

import (
	"crypto/rand"
	"encoding/base32"
	"strings"

	"forum/internal/common"
)

const (
	keyPrefix    = "xch_"
	headerPrefix = "TOKEN "
)

// GenerateAPIKey returns a new random key of the form "xch_<20 chars>".
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", common.Wrap(common.KindSystemError, err, "generating api key")
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return keyPrefix + strings.ToLower(enc)[:20], nil
}

// ExtractKey parses the Authorization header value. It returns ok=false if
// the header is empty or does not start with the literal, case-sensitive
// "TOKEN " prefix (including the single space).
func ExtractKey(header string) (key string, ok bool) {
	if !strings.HasPrefix(header, headerPrefix) {
		return "", false
	}
	key = strings.TrimPrefix(header, headerPrefix)
	if key == "" {
		return "", false
	}
	return key, true
}
