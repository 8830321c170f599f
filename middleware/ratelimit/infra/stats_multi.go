package infra

import (
	"context"
	"errors"

	"quota-gateway/middleware/ratelimit/domain"
)

// MultiStats repassa cada evento para todas as stores; uma falha não impede as demais.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
