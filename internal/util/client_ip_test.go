package util

import (
	"net/http/httptest"
	"testing"
)

func TestNewTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatalf("expected error for invalid CIDR")
	}
	if _, err := NewTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected error for invalid IP")
	}
}

func TestNewTrustedProxiesEmptyMeansTrustNone(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"", "  "})
	if err != nil {
		t.Fatalf("NewTrustedProxies: %v", err)
	}
	if trusted != nil {
		t.Fatalf("expected nil trust set, got %+v", trusted)
	}
}

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5"})
	if err != nil {
		t.Fatalf("NewTrustedProxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		realIP     string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "untrusted peer ignores forwarded headers",
			remoteAddr: "203.0.113.7:41234",
			forwarded:  "198.51.100.9",
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "trusted peer takes first untrusted hop from the right",
			remoteAddr: "10.1.2.3:8080",
			forwarded:  "198.51.100.9, 10.9.9.9",
			trusted:    trusted,
			want:       "198.51.100.9",
		},
		{
			name:       "fully trusted chain keeps leftmost hop",
			remoteAddr: "10.1.2.3:8080",
			forwarded:  "10.0.0.1, 10.0.0.2",
			trusted:    trusted,
			want:       "10.0.0.1",
		},
		{
			name:       "trusted single-host entry falls back to real ip",
			remoteAddr: "192.168.1.5:443",
			realIP:     "198.51.100.42",
			trusted:    trusted,
			want:       "198.51.100.42",
		},
		{
			name:       "nil trust set resolves to peer",
			remoteAddr: "203.0.113.7:41234",
			forwarded:  "198.51.100.9",
			trusted:    nil,
			want:       "203.0.113.7",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				r.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(r, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
