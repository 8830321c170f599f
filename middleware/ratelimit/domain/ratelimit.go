package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Subject é a identidade opaca (usuário) sobre a qual a cota é contada.
// Vem do colaborador de autenticação; não assumimos estrutura interna.
type Subject string

// Unlimited é o valor sentinela de Limit/Remaining reportado em bypass.
const Unlimited = math.MaxInt32

// LimiterDefinition é a configuração estática de um limiter (um por propósito).
// Imutável depois de criada.
type LimiterDefinition struct {
	Name      string
	Window    time.Duration
	MaxTokens int
	KeyPrefix string
	// FailOpen decide o que fazer quando o counter store está indisponível:
	// true libera a ação, false nega (recomendado para auth).
	FailOpen bool
}

func (d LimiterDefinition) Validate() error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return NewValidationError("name", "is required")
	case d.Window <= 0:
		return NewValidationError(d.Name+".window", "must be greater than 0")
	case d.MaxTokens <= 0:
		return NewValidationError(d.Name+".max_tokens", "must be greater than 0")
	case strings.TrimSpace(d.KeyPrefix) == "":
		return NewValidationError(d.Name+".key_prefix", "is required")
	}
	return nil
}

// ValidateDefinitions valida cada definição e exige nomes e prefixos de chave
// únicos. Um prefixo que é outro seguido de ":" também é rejeitado, pois
// "a" + ":" + "b:x" e "a:b" + ":" + "x" geram a mesma window key.
func ValidateDefinitions(defs []LimiterDefinition) error {
	names := make(map[string]bool, len(defs))
	prefixes := make(map[string]string, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		if names[d.Name] {
			return fmt.Errorf("%w: duplicate limiter %q", ErrInvalidDefinition, d.Name)
		}
		names[d.Name] = true
		if other, dup := prefixes[d.KeyPrefix]; dup {
			return NewValidationError(d.Name+".key_prefix", fmt.Sprintf("%q already used by %s", d.KeyPrefix, other))
		}
		prefixes[d.KeyPrefix] = d.Name
	}
	for p, name := range prefixes {
		for q, other := range prefixes {
			if p != q && strings.HasPrefix(q, p+":") {
				return NewValidationError(other+".key_prefix", fmt.Sprintf("%q overlaps %q of %s", q, p, name))
			}
		}
	}
	return nil
}

// WindowKey é a chave do sorted set no counter store: keyPrefix + ":" + subject.
func (d LimiterDefinition) WindowKey(s Subject) string {
	return d.KeyPrefix + ":" + string(s)
}

// KeyTTL é um pouco maior que a janela, para chaves abandonadas expirarem sozinhas.
func (d LimiterDefinition) KeyTTL() time.Duration {
	slack := d.Window / 10
	if slack < time.Second {
		slack = time.Second
	}
	return d.Window + slack
}

func (d LimiterDefinition) String() string {
	return fmt.Sprintf("%s(%d/%s)", d.Name, d.MaxTokens, d.Window)
}

// Outcome descreve como uma decisão foi tomada. Bypass e "ainda tinha cota"
// têm significados operacionais diferentes e precisam ser distinguíveis.
type Outcome string

const (
	OutcomeAllowed             Outcome = "allowed"
	OutcomeDenied              Outcome = "denied"
	OutcomeBypassed            Outcome = "bypassed"
	OutcomeFailOpen            Outcome = "fail_open"
	OutcomeFailClosed          Outcome = "fail_closed"
	OutcomeRecorded            Outcome = "recorded"
	OutcomeConsistencyMismatch Outcome = "consistency_mismatch"
	OutcomeOverloaded          Outcome = "overloaded"
)

// Decision é o resultado de um check-and-consume.
type Decision struct {
	Purpose   string
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAtMillis é o instante (unix ms) em que a entrada mais antiga da
	// janela deixa de contar. Zero em bypass.
	ResetAtMillis int64
	Outcome       Outcome
}

// RetryAfter converte ResetAtMillis em espera relativa a now (nunca negativa).
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAtMillis <= 0 {
		return 0
	}
	wait := time.UnixMilli(d.ResetAtMillis).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Usage é a visão sem consumo (peek) da cota de um subject.
type Usage struct {
	Purpose       string
	Count         int64
	Limit         int
	Remaining     int
	ResetAtMillis int64
}

// Used é o consumo derivado da contabilidade: Limit - Remaining.
func (u Usage) Used() int64 { return int64(u.Limit - u.Remaining) }

// TokenEntry é uma unidade consumida: membro único + timestamp (score).
type TokenEntry struct {
	Member          string `json:"member"`
	TimestampMillis int64  `json:"timestamp"`
}
