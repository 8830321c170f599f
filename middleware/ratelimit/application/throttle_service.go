package application

import (
	"time"

	"quota-gateway/middleware/ratelimit/domain"
)

// ThrottleService concentra a regra do throttle local (endpoints de operador).
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type ThrottleService struct {
	Store      domain.ThrottleStore
	RetryAfter time.Duration
}

func (s ThrottleService) Decide(key domain.ThrottleKey) domain.ThrottleDecision {
	if s.Store == nil {
		return domain.ThrottleDecision{Allowed: true}
	}
	if s.RetryAfter <= 0 {
		s.RetryAfter = 1 * time.Second
	}

	lim := s.Store.Get(key)
	if lim == nil || lim.Allow() {
		return domain.ThrottleDecision{Allowed: true}
	}
	return domain.ThrottleDecision{Allowed: false, RetryAfter: s.RetryAfter}
}
