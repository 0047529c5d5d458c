package server

import (
	"net/http/httptest"
	"sort"
	"testing"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"http://Example.com", "  ", "not-a-url", "https://app.test:8443"}, discardLogger())

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://example.com", true},
		{"HTTP://EXAMPLE.COM", true},
		{"https://app.test:8443", true},
		{"https://app.test", false},
		{"http://evil.test", false},
		{"", false},
		{"javascript:alert(1)", false},
		{"http://", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := policy.check(r); got != tt.want {
				t.Errorf("check(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}

	got := policy.origins()
	sort.Strings(got)
	want := []string{"http://example.com", "https://app.test:8443"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected normalized origins %v, got %v", want, got)
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, discardLogger())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://anything.test")
	if !policy.isAllowed(r) {
		t.Error("expected wildcard to allow any well-formed origin")
	}

	r.Header.Set("Origin", "garbage")
	if policy.isAllowed(r) {
		t.Error("expected malformed origin to be refused even with a wildcard")
	}

	if got := policy.origins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("expected [*], got %v", got)
	}
}
