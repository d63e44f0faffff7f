package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPIgnoresForwardedByDefault(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:4123"
	r.Header.Set("X-Forwarded-For", "198.51.100.9")

	if got := ClientIP(r, false); got != "203.0.113.7" {
		t.Fatalf("client ip = %q, want remote addr", got)
	}
}

func TestClientIPTrustsForwardedWhenEnabled(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.2:9000"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.2")

	if got := ClientIP(r, true); got != "198.51.100.9" {
		t.Fatalf("client ip = %q, want first forwarded hop", got)
	}
}

func TestClientIPRealIPFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.2:9000"
	r.Header.Set("X-Real-IP", "198.51.100.10")

	if got := ClientIP(r, true); got != "198.51.100.10" {
		t.Fatalf("client ip = %q, want real ip", got)
	}
}

func TestClientIPMalformedForwarded(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:4123"
	r.Header.Set("X-Forwarded-For", "not-an-ip")

	if got := ClientIP(r, true); got != "203.0.113.7" {
		t.Fatalf("client ip = %q, want remote addr fallback", got)
	}
}

func TestClientIPBareRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7"

	if got := ClientIP(r, false); got != "203.0.113.7" {
		t.Fatalf("client ip = %q", got)
	}
}
