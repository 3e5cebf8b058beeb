// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// TokenLength is the exact length of a pairing token. Tokens are the wire
// contract for QR-code and deep-link payloads, so length and alphabet are
// fixed and validated on every join attempt.
const TokenLength = 32

// TokenAlphabet is the fixed alphabet pairing tokens are drawn from.
const TokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrInvalidToken indicates a join input that is not a well-formed pairing
// token. User-correctable; raised before any store access.
var ErrInvalidToken = errors.New("invalid pairing token")

// GenerateToken returns a new random pairing token.
//
// crypto/rand is used directly rather than a uuid: the wire contract
// requires exactly 32 uppercase-alphanumeric characters, which no id
// library in use produces.
func GenerateToken() (string, error) {
	buf := make([]byte, TokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	var b strings.Builder
	b.Grow(TokenLength)
	for _, c := range buf {
		b.WriteByte(TokenAlphabet[int(c)%len(TokenAlphabet)])
	}
	return b.String(), nil
}

// ValidateToken checks length and alphabet. It returns ErrInvalidToken
// (wrapped) for any malformed input.
func ValidateToken(token string) error {
	if len(token) != TokenLength {
		return fmt.Errorf("token length %d: %w", len(token), ErrInvalidToken)
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return fmt.Errorf("token character %q at %d: %w", c, i, ErrInvalidToken)
		}
	}
	return nil
}
