package ratelimit

import (
	"net/http"
	"time"

	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	Max int
	// Pool substitui o semáforo padrão (ex: para expor InUse no status).
	Pool           domain.SlotPool
	RejectStatus   int
	AcquireTimeout time.Duration
	RetryAfter     time.Duration
	// Stats recebe eventos overloaded (opcional).
	Stats domain.StatsStore
}

// ConcurrencyMiddleware limita requisições em voo no processo.
// Diferente do rate limit por subject, protege o próprio gateway.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 && opts.Pool == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.Pool == nil {
		opts.Pool = infra.NewChanPool(opts.Max)
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
		Stats:          opts.Stats,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := application.WithRequestInfo(r.Context(), application.RequestInfo{Method: r.Method, Path: r.URL.Path})
			release, ok := svc.Acquire(ctx)
			if !ok {
				if opts.RetryAfter > 0 {
					w.Header().Set("Retry-After", retryAfterSeconds(opts.RetryAfter))
				}
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
