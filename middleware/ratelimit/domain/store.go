package domain

import (
	"context"
	"time"
)

// ConsumeRequest descreve um check-and-consume atômico sobre uma Window Key.
type ConsumeRequest struct {
	NowMillis         int64
	WindowStartMillis int64 // limite inferior inclusivo
	MaxTokens         int
	Member            string
	TTL               time.Duration
}

// ConsumeResult traz a contagem observada antes da inserção.
type ConsumeResult struct {
	Count   int64
	Allowed bool
	// OldestMillis é o score da entrada mais antiga na janela depois da operação,
	// ou -1 se a janela estiver vazia.
	OldestMillis int64
}

// WindowState é uma leitura (sem escrita) da janela.
type WindowState struct {
	Count        int64
	OldestMillis int64
}

// CounterStore é o serviço externo com semântica de sorted set
// (membro = id único do token, score = timestamp em ms).
//
// Consume precisa ser atômico do ponto de vista de todos os processos que
// compartilham o store: contar e inserir condicionalmente numa única operação.
// Erros de infraestrutura devem ser devolvidos envolvendo ErrStoreUnavailable.
type CounterStore interface {
	Consume(ctx context.Context, key string, req ConsumeRequest) (ConsumeResult, error)
	Window(ctx context.Context, key string, fromMillis, toMillis int64) (WindowState, error)
	Count(ctx context.Context, key string, fromMillis, toMillis int64) (int64, error)
	Add(ctx context.Context, key string, entry TokenEntry, ttl time.Duration) error
	Entries(ctx context.Context, key string) ([]TokenEntry, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, key string) error
}
