package uuid

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
)

var canonicalV4 = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// TestNew verifies generated ids are canonical v4 and unique.
func TestNew(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := New()
		if !canonicalV4.MatchString(id) {
			t.Fatalf("New() = %q is not a canonical v4 id", id)
		}
		if parsed, err := uuid.Parse(id); err != nil || parsed.Variant() != uuid.RFC4122 {
			t.Fatalf("New() = %q does not parse as RFC 4122: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

// TestOrNew verifies blank ids are replaced and others kept.
func TestOrNew(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		generate bool
	}{
		{"caller id", "marker-7", false},
		{"uuid kept", "f47ac10b-58cc-4372-a567-0e02b2c3d479", false},
		{"padded kept", " m1 ", false},
		{"empty", "", true},
		{"blank", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OrNew(tt.in)
			if tt.generate {
				if !canonicalV4.MatchString(got) {
					t.Errorf("OrNew(%q) = %q, want generated id", tt.in, got)
				}
				return
			}
			if got != tt.in {
				t.Errorf("OrNew(%q) = %q, want unchanged", tt.in, got)
			}
		})
	}
}

func BenchmarkNew(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = New()
	}
}
