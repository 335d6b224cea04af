package ratelimit

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ranch-gateway/middleware/ratelimit/application"
	"ranch-gateway/middleware/ratelimit/domain"
)

// ConcurrencyOptions configura o guarda de concorrência das rotas pesadas
// (FILES, BULK). Ele roda depois do gate: só requisições já admitidas disputam vaga.
type ConcurrencyOptions struct {
	// Pool compartilhado com quem lê a ocupação (backpressure); nil desliga o limite.
	Pool domain.SlotPool
	// RejectStatus padrão 503.
	RejectStatus   int
	AcquireTimeout time.Duration
	// Stats recebe um EventConcurrency por recusa (opcional, não deve bloquear).
	Stats domain.StatsStore
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Pool == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				// cliente que desistiu não conta como saturação
				if r.Context().Err() == nil {
					reject(r.Context(), opts.Stats, r)
				}
				w.Header().Set(HeaderRetryAfter, "1")
				WriteError(w, opts.RejectStatus, CodeConcurrencyLimit, Message(CodeConcurrencyLimit), 1)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}

func reject(ctx context.Context, stats domain.StatsStore, r *http.Request) {
	if stats == nil {
		return
	}
	_ = stats.Record(ctx, domain.StatsEvent{
		Kind:    domain.EventConcurrency,
		Code:    CodeConcurrencyLimit,
		Method:  r.Method,
		Path:    r.URL.Path,
		Pattern: routePattern(r),
		At:      time.Now(),
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
