package ratelimit

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
)

// HeartbeatService é o que os handlers de status precisam do heartbeat.
type HeartbeatService interface {
	Beat(ctx context.Context) (infra.BeatResult, error)
	Status(ctx context.Context) (infra.HeartbeatStatus, error)
}

// Handlers expõe a visão de cota, os endpoints de debug (inspeção/reset)
// e o status do counter store.
type Handlers struct {
	Gate      *application.Gate
	Inspector *application.Inspector
	Heartbeat HeartbeatService
	// Throttle limita as chamadas de debug por operador (local, x/time/rate).
	Throttle application.ThrottleService
	// Debug habilita /debug/limits; desligado responde 404.
	Debug      bool
	CronSecret string
	SubjectFn  SubjectFunc
	Logger     *slog.Logger
	Now        func() time.Time
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *Handlers) subject(r *http.Request) domain.Subject {
	if h.SubjectFn == nil {
		return AuthenticatedSubject("")(r)
	}
	return h.SubjectFn(r)
}

// Mount registra as rotas no router.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/quota/{purpose}", h.Quota)
	r.Get("/debug/limits", h.DebugInspect)
	r.Delete("/debug/limits", h.DebugReset)
	if h.Heartbeat != nil {
		r.Get("/status/store", h.StoreStatus)
		r.Post("/cron/heartbeat", h.CronHeartbeat)
	}
}

type quotaResponse struct {
	Purpose    string `json:"purpose"`
	Remaining  int    `json:"remaining"`
	Limit      int    `json:"limit"`
	Used       int64  `json:"used"`
	CanConsume bool   `json:"can_consume"`
	ResetTime  int64  `json:"reset_time"`
	ResetDate  string `json:"reset_date,omitempty"`
}

// Quota mostra a cota do usuário sem consumir token.
func (h *Handlers) Quota(w http.ResponseWriter, r *http.Request) {
	subject := h.subject(r)
	if subject == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	purpose := chi.URLParam(r, "purpose")
	u, err := h.Gate.Peek(r.Context(), purpose, subject)
	switch {
	case errors.Is(err, domain.ErrUnknownLimiter):
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown limiter %q", purpose))
		return
	case domain.IsStoreUnavailable(err):
		h.logger().WarnContext(r.Context(), "quota peek failed", "purpose", purpose, "err", err)
		writeError(w, http.StatusServiceUnavailable, "rate limit store unavailable")
		return
	case err != nil:
		h.logger().ErrorContext(r.Context(), "quota peek failed", "purpose", purpose, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := quotaResponse{
		Purpose:    purpose,
		Remaining:  u.Remaining,
		Limit:      u.Limit,
		Used:       u.Used(),
		CanConsume: u.Remaining > 0,
		ResetTime:  u.ResetAtMillis,
	}
	if u.ResetAtMillis > 0 {
		resp.ResetDate = time.UnixMilli(u.ResetAtMillis).UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

type debugResponse struct {
	Subject        domain.Subject             `json:"subject"`
	CurrentTime    int64                      `json:"current_time"`
	CurrentTimeISO string                     `json:"current_time_iso"`
	Limiters       []domain.ConsistencyReport `json:"limiters"`
	Summary        map[string]string          `json:"summary"`
	Mismatches     int                        `json:"mismatches"`
}

// DebugInspect roda o Inspector em todos os limiters do usuário
// (ou de ?subject= quando quem chama tem bypass de administrador).
func (h *Handlers) DebugInspect(w http.ResponseWriter, r *http.Request) {
	target, ok := h.debugTarget(w, r)
	if !ok {
		return
	}

	now := h.now()
	reports, err := h.Inspector.InspectAll(r.Context(), target)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "debug inspect failed", "subject", string(target), "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := debugResponse{
		Subject:        target,
		CurrentTime:    now.UnixMilli(),
		CurrentTimeISO: now.UTC().Format(time.RFC3339Nano),
		Limiters:       reports,
		Summary:        make(map[string]string, len(reports)),
	}
	for _, rep := range reports {
		if rep.Error != "" {
			resp.Summary[rep.Purpose] = "Error: " + rep.Error
			continue
		}
		resp.Summary[rep.Purpose] = fmt.Sprintf("%d/%d remaining", rep.Remaining, rep.Limit)
		if rep.Mismatch() != nil {
			resp.Mismatches++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type resetResponse struct {
	Message      string               `json:"message"`
	Subject      domain.Subject       `json:"subject"`
	ResetResults []domain.ResetResult `json:"reset_results"`
	Summary      domain.ResetSummary  `json:"summary"`
}

// DebugReset zera todos os limiters do alvo.
func (h *Handlers) DebugReset(w http.ResponseWriter, r *http.Request) {
	target, ok := h.debugTarget(w, r)
	if !ok {
		return
	}

	results, sum := h.Inspector.ResetAll(r.Context(), target)
	h.logger().InfoContext(r.Context(), "debug reset",
		"subject", string(target), "successful", sum.Successful, "failed", sum.Failed)
	writeJSON(w, http.StatusOK, resetResponse{
		Message:      "Rate limit reset completed",
		Subject:      target,
		ResetResults: results,
		Summary:      sum,
	})
}

// debugTarget aplica as guardas comuns: modo debug, autenticação, throttle
// por operador e permissão para inspecionar outro subject.
func (h *Handlers) debugTarget(w http.ResponseWriter, r *http.Request) (domain.Subject, bool) {
	if !h.Debug {
		writeError(w, http.StatusNotFound, "debug endpoint not available")
		return "", false
	}
	caller := h.subject(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}

	if dec := h.Throttle.Decide(domain.ThrottleKey(caller)); !dec.Allowed {
		w.Header().Set("Retry-After", retryAfterSeconds(dec.RetryAfter))
		writeError(w, http.StatusTooManyRequests, "too many debug requests")
		return "", false
	}

	target := domain.Subject(strings.TrimSpace(r.URL.Query().Get("subject")))
	if target == "" || target == caller {
		return caller, true
	}
	if !h.Gate.Bypassed(r.Context(), caller) {
		writeError(w, http.StatusForbidden, "only administrators may inspect other subjects")
		return "", false
	}
	return target, true
}

type storeStatusResponse struct {
	Status string `json:"status"`
	infra.HeartbeatStatus
}

func (h *Handlers) StoreStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Heartbeat.Status(r.Context())
	if err != nil {
		h.logger().ErrorContext(r.Context(), "store status failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "cannot reach counter store",
		})
		return
	}
	status := "warning"
	if st.Healthy {
		status = "healthy"
	}
	writeJSON(w, http.StatusOK, storeStatusResponse{Status: status, HeartbeatStatus: st})
}

type beatResponse struct {
	Status string `json:"status"`
	infra.BeatResult
}

// CronHeartbeat exige "Authorization: Bearer <segredo>". Sem segredo configurado, nega sempre.
func (h *Handlers) CronHeartbeat(w http.ResponseWriter, r *http.Request) {
	want := "Bearer " + h.CronSecret
	got := r.Header.Get("Authorization")
	if h.CronSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized - invalid cron secret")
		return
	}

	res, err := h.Heartbeat.Beat(r.Context())
	if err != nil {
		h.logger().ErrorContext(r.Context(), "heartbeat failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "heartbeat failed",
		})
		return
	}
	h.logger().InfoContext(r.Context(), "heartbeat", "ping", res.Ping, "count", res.Count)
	writeJSON(w, http.StatusOK, beatResponse{Status: "success", BeatResult: res})
}
