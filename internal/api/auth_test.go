package api

import (
	"net/http/httptest"
	"testing"
)

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name      string
		provided  string
		config    string
		wantValid bool
	}{
		{"exact match", "sekrit-token", "sekrit-token", true},
		{"wrong key", "wrong", "sekrit-token", false},
		{"same length wrong key", "sekrit-tokex", "sekrit-token", false},
		{"empty provided", "", "sekrit-token", false},
		{"empty config", "sekrit-token", "", false},
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateAPIKey(tt.provided, tt.config); got != tt.wantValid {
				t.Errorf("ValidateAPIKey(%q, %q) = %v, want %v", tt.provided, tt.config, got, tt.wantValid)
			}
		})
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantKey string
		wantErr bool
	}{
		{"bearer token", "Bearer my-key", "my-key", false},
		{"bearer with padding", "Bearer   my-key", "my-key", false},
		{"missing header", "", "", true},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", true},
		{"bearer no key", "Bearer ", "", true},
		{"lowercase scheme", "bearer my-key", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/events", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			key, err := ExtractAPIKey(r)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got key %q", key)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if key != tt.wantKey {
				t.Errorf("key = %q, want %q", key, tt.wantKey)
			}
		})
	}
}
