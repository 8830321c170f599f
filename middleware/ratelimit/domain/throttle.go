package domain

import "time"

// Throttle local (em processo) usado para proteger endpoints de operador,
// independente do counter store compartilhado.

// ThrottleKey identifica quem está sendo estrangulado (ex: operador).
type ThrottleKey string

// Throttle representa algo que pode decidir se uma ação é permitida agora.
type Throttle interface {
	Allow() bool
}

// ThrottleStore obtém um throttle por chave.
// A implementação pode manter cache, TTL, etc.
type ThrottleStore interface {
	Get(ThrottleKey) Throttle
}

// ThrottleDecision é o resultado do throttle local.
type ThrottleDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}
