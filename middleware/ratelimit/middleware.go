package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/config"
	"quota-gateway/middleware/ratelimit/domain"
)

type Options struct {
	Gate   *application.Gate
	Routes config.Config
	// SubjectFn resolve o subject; padrão DefaultSubjectFunc(UserHeader, TrustXForwardedFor).
	SubjectFn          SubjectFunc
	UserHeader         string
	TrustXForwardedFor bool
	// RejectStatus é usado para negações por cota (padrão 429).
	RejectStatus int
	// UnavailableStatus é usado quando um limiter fail-closed nega por store indisponível (padrão 503).
	UnavailableStatus   int
	AddRateLimitHeaders bool
	Logger              *slog.Logger
	Now                 func() time.Time
}

// Middleware aplica o limiter da rota (casada por prefixo) antes do próximo handler.
//
//   - modo consume: check-and-consume; negado => 429 (ou 503 em fail-closed)
//   - modo record: peek sem consumo; depois de uma resposta 2xx registra um token
//
// Rotas sem limiter configurado passam direto.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	opts.Routes = opts.Routes.Sorted()
	if opts.UnavailableStatus == 0 {
		opts.UnavailableStatus = http.StatusServiceUnavailable
	}
	if opts.SubjectFn == nil {
		opts.SubjectFn = DefaultSubjectFunc(opts.UserHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, ok := opts.Routes.Match(r.URL.Path)
			if !ok || opts.Gate == nil {
				next.ServeHTTP(w, r)
				return
			}

			subject := opts.SubjectFn(r)
			ctx := application.WithRequestInfo(r.Context(), application.RequestInfo{Method: r.Method, Path: r.URL.Path})

			switch route.Mode {
			case config.ModeRecord:
				recordMode(opts, route, subject, next, w, r.WithContext(ctx))
			default:
				consumeMode(opts, route, subject, next, w, r.WithContext(ctx))
			}
		})
	}
}

func consumeMode(opts Options, route config.Route, subject domain.Subject, next http.Handler, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dec, err := opts.Gate.Check(ctx, route.Purpose, subject)
	if errors.Is(err, domain.ErrInvalidSubject) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err != nil && !domain.IsStoreUnavailable(err) && !errors.Is(err, domain.ErrMemberCollision) {
		opts.Logger.ErrorContext(ctx, "rate limit check failed", "purpose", route.Purpose, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err != nil {
		opts.Logger.WarnContext(ctx, "rate limit store unavailable",
			"purpose", route.Purpose, "outcome", dec.Outcome, "err", err)
	}

	if !dec.Allowed {
		if dec.Outcome == domain.OutcomeFailClosed {
			writeDenied(w, dec, opts.Now(), opts.UnavailableStatus, "Rate limiting is temporarily unavailable. Please try again later.")
			return
		}
		writeDenied(w, dec, opts.Now(), opts.RejectStatus, "Rate limit exceeded. Please try again later.")
		return
	}

	if opts.AddRateLimitHeaders {
		setRateLimitHeaders(w, dec.Limit, dec.Remaining, dec.ResetAtMillis)
	}
	next.ServeHTTP(w, r)
}

func recordMode(opts Options, route config.Route, subject domain.Subject, next http.Handler, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	usage, err := opts.Gate.Peek(ctx, route.Purpose, subject)
	switch {
	case err == nil:
		if usage.Remaining <= 0 {
			dec := domain.Decision{Purpose: route.Purpose, Limit: usage.Limit, ResetAtMillis: usage.ResetAtMillis, Outcome: domain.OutcomeDenied}
			writeDenied(w, dec, opts.Now(), opts.RejectStatus, "Rate limit exceeded. Please try again later.")
			return
		}
	case domain.IsStoreUnavailable(err):
		eng, _ := opts.Gate.Registry().Get(route.Purpose)
		opts.Logger.WarnContext(ctx, "rate limit store unavailable", "purpose", route.Purpose, "err", err)
		if eng != nil && !eng.Definition().FailOpen {
			def := eng.Definition()
			dec := domain.Decision{Purpose: def.Name, Limit: def.MaxTokens, ResetAtMillis: opts.Now().Add(def.Window).UnixMilli(), Outcome: domain.OutcomeFailClosed}
			writeDenied(w, dec, opts.Now(), opts.UnavailableStatus, "Rate limiting is temporarily unavailable. Please try again later.")
			return
		}
	case errors.Is(err, domain.ErrInvalidSubject):
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	default:
		opts.Logger.ErrorContext(ctx, "rate limit peek failed", "purpose", route.Purpose, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if opts.AddRateLimitHeaders && err == nil {
		setRateLimitHeaders(w, usage.Limit, usage.Remaining, usage.ResetAtMillis)
	}

	sw := &statusWriter{ResponseWriter: w}
	next.ServeHTTP(sw, r)

	if sw.status() < 200 || sw.status() > 299 {
		return
	}
	// o cliente pode desconectar depois da resposta; a contabilização continua.
	if _, err := opts.Gate.Record(context.WithoutCancel(ctx), route.Purpose, subject); err != nil {
		opts.Logger.WarnContext(ctx, "rate limit record failed", "purpose", route.Purpose, "err", err)
	}
}

// statusWriter captura o status devolvido pelo próximo handler.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}
