package utils

import "testing"

func TestShortID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := ShortID()
		if len(id) != 8 {
			t.Fatalf("ShortID length = %d, want 8", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate ShortID %q", id)
		}
		seen[id] = true
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"developer", "developer"},
		{"developer:001", "developer-001"},
		{"dev agent", "dev-agent"},
		{"feature/login", "feature-login"},
		{`win\path`, "win-path"},
		{"a:b/c d", "a-b-c-d"},
	}
	for _, tt := range tests {
		if got := SanitizeIdentifier(tt.in); got != tt.want {
			t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
