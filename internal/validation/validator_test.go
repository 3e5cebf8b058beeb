// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package validation

import (
	"strings"
	"testing"
)

type joinRequest struct {
	Token string `validate:"required,pairtoken"`
}

type serverSettings struct {
	Host string `validate:"required,hostname"`
	Port int    `validate:"gte=1,lte=65535"`
}

func TestValidateStructPairToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid uppercase and digits", strings.Repeat("A7", 16), false},
		{"empty", "", true},
		{"too short", "ABC123", true},
		{"too long", strings.Repeat("A", 33), true},
		{"lowercase rejected", strings.Repeat("a", 32), true},
		{"punctuation rejected", strings.Repeat("A", 31) + "!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&joinRequest{Token: tt.token})
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateStruct(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			}
		})
	}
}

func TestValidateStructMultipleErrors(t *testing.T) {
	err := ValidateStruct(&serverSettings{Host: "", Port: 0})
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if len(err.Errors()) != 2 {
		t.Fatalf("got %d errors, want 2", len(err.Errors()))
	}

	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %s", apiErr.Code)
	}
	if _, ok := apiErr.Details["fields"]; !ok {
		t.Error("multi-error details missing fields list")
	}
}

func TestToAPIErrorSingleError(t *testing.T) {
	err := ValidateStruct(&joinRequest{Token: "nope"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	apiErr := err.ToAPIError()
	if apiErr.Details["field"] != "Token" {
		t.Errorf("field = %v", apiErr.Details["field"])
	}
	if !strings.Contains(apiErr.Message, "session token") {
		t.Errorf("message = %q", apiErr.Message)
	}
}
