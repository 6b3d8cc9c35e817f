// Package token issues and checks bearer tokens.
//
// A token is Prefix followed by 43 characters of base64url-encoded random
// bytes. Servers keep only the hex SHA-256 of a token.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Prefix marks issued tokens, so log redaction and secret scanners can
// recognize them.
const Prefix = "mdmt_"

// DefaultLength is the default random part length in bytes.
const DefaultLength = 32

// New returns a fresh prefixed token.
func New() (string, error) {
	body, err := Generate(DefaultLength)
	if err != nil {
		return "", err
	}
	return Prefix + body, nil
}

// Generate returns length random bytes, base64url encoded without padding.
func Generate(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issued reports whether s has the shape of a token from New.
func Issued(s string) bool {
	body, ok := strings.CutPrefix(s, Prefix)
	if !ok || len(body) != base64.RawURLEncoding.EncodedLen(DefaultLength) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(body)
	return err == nil
}

// Hash returns the hex SHA-256 of a token.
func Hash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// Verify checks a token against a stored hash in constant time.
func Verify(token, expectedHash string) bool {
	actual := Hash(token)
	return subtle.ConstantTimeCompare([]byte(actual), []byte(strings.ToLower(expectedHash))) == 1
}
