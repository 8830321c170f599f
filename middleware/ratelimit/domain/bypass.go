package domain

import "context"

// BypassPolicy decide se a cota se aplica a um subject.
//
// Em caso de erro o chamador trata como "sem bypass" (fail closed na decisão
// de bypass), para que uma falha de metadados não libere acesso ilimitado.
type BypassPolicy interface {
	IsBypassed(ctx context.Context, s Subject) (bool, error)
}

// BypassFunc adapta uma função a BypassPolicy.
type BypassFunc func(ctx context.Context, s Subject) (bool, error)

func (f BypassFunc) IsBypassed(ctx context.Context, s Subject) (bool, error) { return f(ctx, s) }

// SubjectMetadata é o subconjunto dos metadados de identidade que nos interessa.
type SubjectMetadata struct {
	Admin bool
	Roles []string
}

// SubjectDirectory resolve metadados de um subject no colaborador de identidade.
// Somente leitura do ponto de vista do limiter.
type SubjectDirectory interface {
	Lookup(ctx context.Context, s Subject) (SubjectMetadata, error)
}
