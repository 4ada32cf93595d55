// Package internal holds random credential generation shared by the engine
// and its stores.
package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// CodeAlphabet is the session code charset. Uppercase plus digits keeps
	// rendered QR patterns compact in alphanumeric mode.
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// InvitationAlphabet is the invitation code charset.
	InvitationAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// NewCode returns a random string of the given length drawn from alphabet.
func NewCode(length int, alphabet string) (string, error) {
	if length <= 0 {
		return "", errors.New("invalid code length")
	}
	if len(alphabet) < 2 {
		return "", errors.New("invalid code alphabet")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}

	return b.String(), nil
}

// NewPIN returns a random numeric string of the given digit count. Leading
// zeros are preserved.
func NewPIN(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid pin digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	pin := b.String()
	if len(pin) != digits {
		return "", fmt.Errorf("invalid pin generation length")
	}
	return pin, nil
}

// NewURLToken returns a base64url-encoded random token of nbytes entropy,
// without padding.
func NewURLToken(nbytes int) (string, error) {
	if nbytes <= 0 {
		return "", errors.New("invalid token size")
	}

	raw := make([]byte, nbytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}
