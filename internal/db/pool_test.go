package db

import "testing"

func TestMaskPassword(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"empty", "", "<empty>"},
		{"with password", "postgres://telemetry:s3cret@db:5432/telemetry", "postgres://telemetry:***@db:5432/telemetry"},
		{"no credentials", "postgres://db:5432/telemetry", "postgres://db:5432/telemetry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskPassword(tt.url); got != tt.expected {
				t.Errorf("maskPassword(%q) = %q, expected %q", tt.url, got, tt.expected)
			}
		})
	}
}
