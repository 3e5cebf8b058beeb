// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package session

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		if len(token) != TokenLength {
			t.Fatalf("token length = %d, want %d", len(token), TokenLength)
		}
		for _, c := range token {
			if !strings.ContainsRune(TokenAlphabet, c) {
				t.Fatalf("token contains %q outside alphabet", c)
			}
		}
		if err := ValidateToken(token); err != nil {
			t.Fatalf("generated token failed validation: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token generated: %s", token)
		}
		seen[token] = true
	}
}

func TestValidateToken(t *testing.T) {
	valid := strings.Repeat("A", 31) + "9"

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid", valid, true},
		{"all digits", strings.Repeat("0", 32), true},
		{"empty", "", false},
		{"too short", strings.Repeat("A", 31), false},
		{"too long", strings.Repeat("A", 33), false},
		{"lowercase", strings.Repeat("a", 32), false},
		{"whitespace", strings.Repeat("A", 31) + " ", false},
		{"punctuation", strings.Repeat("A", 31) + "-", false},
		{"unicode", strings.Repeat("A", 31) + "Ä", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToken(tt.token)
			if tt.ok && err != nil {
				t.Errorf("ValidateToken(%q) = %v, want nil", tt.token, err)
			}
			if !tt.ok {
				if err == nil {
					t.Errorf("ValidateToken(%q) = nil, want error", tt.token)
				} else if !errors.Is(err, ErrInvalidToken) {
					t.Errorf("ValidateToken(%q) = %v, want ErrInvalidToken", tt.token, err)
				}
			}
		})
	}
}
