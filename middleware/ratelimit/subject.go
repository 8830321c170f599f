package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"quota-gateway/middleware/ratelimit/domain"
)

// DefaultUserHeader é o header em que a camada de autenticação (upstream do gateway)
// publica o id do usuário já validado.
const DefaultUserHeader = "X-User-Id"

type SubjectFunc func(r *http.Request) domain.Subject

// AuthenticatedSubject devolve só o usuário autenticado (vazio se anônimo).
func AuthenticatedSubject(userHeader string) SubjectFunc {
	if userHeader == "" {
		userHeader = DefaultUserHeader
	}
	return func(r *http.Request) domain.Subject {
		return domain.Subject(strings.TrimSpace(r.Header.Get(userHeader)))
	}
}

// DefaultSubjectFunc usa o usuário autenticado e, para tráfego anônimo,
// cai para o IP do cliente (primeiro hop do X-Forwarded-For, se confiável).
func DefaultSubjectFunc(userHeader string, trustXFF bool) SubjectFunc {
	user := AuthenticatedSubject(userHeader)
	return func(r *http.Request) domain.Subject {
		if s := user(r); s != "" {
			return s
		}
		return domain.Subject("ip:" + ClientIP(r, trustXFF))
	}
}

func ClientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	// fallback: RemoteAddr
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
