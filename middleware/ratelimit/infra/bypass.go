package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quota-gateway/middleware/ratelimit/domain"
)

// StaticBypass libera um conjunto fixo de subjects (ex: RATE_ADMIN_SUBJECTS).
type StaticBypass struct {
	subjects map[domain.Subject]struct{}
}

func NewStaticBypass(subjects ...string) *StaticBypass {
	b := &StaticBypass{subjects: make(map[domain.Subject]struct{}, len(subjects))}
	for _, s := range subjects {
		s = strings.TrimSpace(s)
		if s != "" {
			b.subjects[domain.Subject(s)] = struct{}{}
		}
	}
	return b
}

func (b *StaticBypass) IsBypassed(_ context.Context, s domain.Subject) (bool, error) {
	if b == nil {
		return false, nil
	}
	_, ok := b.subjects[s]
	return ok, nil
}

func (b *StaticBypass) Len() int { return len(b.subjects) }

// DirectoryBypass consulta os metadados do subject no diretório de identidade.
type DirectoryBypass struct {
	Directory domain.SubjectDirectory
	// Role, se definido, também libera subjects que possuam esse papel.
	Role string
}

func (b DirectoryBypass) IsBypassed(ctx context.Context, s domain.Subject) (bool, error) {
	if b.Directory == nil {
		return false, nil
	}
	md, err := b.Directory.Lookup(ctx, s)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrBypassResolution, err)
	}
	if md.Admin {
		return true, nil
	}
	if b.Role != "" {
		for _, r := range md.Roles {
			if r == b.Role {
				return true, nil
			}
		}
	}
	return false, nil
}

// AnyBypass libera se qualquer política liberar. Um erro numa política não
// esconde a resposta positiva de outra; os erros só voltam quando ninguém liberou.
type AnyBypass []domain.BypassPolicy

func (a AnyBypass) IsBypassed(ctx context.Context, s domain.Subject) (bool, error) {
	var errs []error
	for _, p := range a {
		if p == nil {
			continue
		}
		ok, err := p.IsBypassed(ctx, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}
