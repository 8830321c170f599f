package infra

import (
	"context"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats expõe as decisões como contador ratelimit_decisions_total{purpose,outcome}.
// Subject nunca vira label (cardinalidade).
type PrometheusStats struct {
	decisions *prometheus.CounterVec
}

func NewPrometheusStats(reg prometheus.Registerer) (*PrometheusStats, error) {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit decisions by limiter and outcome.",
	}, []string{"purpose", "outcome"})

	if reg != nil {
		if err := reg.Register(decisions); err != nil {
			return nil, err
		}
	}
	return &PrometheusStats{decisions: decisions}, nil
}

func (p *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	p.decisions.WithLabelValues(ev.Purpose, string(ev.Outcome)).Inc()
	return nil
}

// Collector devolve o coletor para registro/inspeção em testes.
func (p *PrometheusStats) Collector() *prometheus.CounterVec { return p.decisions }
