package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"quota-gateway/middleware/ratelimit/domain"
)

func TestDefaultSubjectFunc_PrefersAuthenticatedUser(t *testing.T) {
	fn := DefaultSubjectFunc("", true)
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set(DefaultUserHeader, " user_123 ")
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got := fn(r); got != domain.Subject("user_123") {
		t.Fatalf("expected user_123, got %q", got)
	}
}

func TestDefaultSubjectFunc_UsesXFFFirstIP(t *testing.T) {
	fn := DefaultSubjectFunc("", true)
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	r.RemoteAddr = "10.0.0.9:1234"

	if got := fn(r); got != "ip:1.2.3.4" {
		t.Fatalf("expected ip:1.2.3.4, got %q", got)
	}
}

func TestDefaultSubjectFunc_FallbackRemoteAddr(t *testing.T) {
	fn := DefaultSubjectFunc("", false)
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	r.RemoteAddr = "10.0.0.9:1234"

	if got := fn(r); got != "ip:10.0.0.9" {
		t.Fatalf("expected ip:10.0.0.9, got %q", got)
	}
}

func TestAuthenticatedSubject_EmptyWhenAnonymous(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	if got := AuthenticatedSubject("X-Api-User")(r); got != "" {
		t.Fatalf("expected empty subject, got %q", got)
	}
}
