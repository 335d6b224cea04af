package ratelimit

import (
	"net/http"

	"github.com/goccy/go-json"

	"ranch-gateway/middleware/ratelimit/domain"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderWindow     = "X-RateLimit-Window"
	HeaderRetryAfter = "Retry-After"
)

// CodeConcurrencyLimit é devolvido quando não há vaga no pool de concorrência.
const CodeConcurrencyLimit = "CONCURRENCY_LIMIT"

// ErrorBody é o payload JSON de negação: {"error":{"code","message","retryAfter"}}.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// SetHeaders escreve os headers X-RateLimit-* da decisão; Retry-After só em negação.
// Decisões sem janela (bypass, rate limit desligado) e falhas internas não geram
// headers de janela.
func SetHeaders(h http.Header, d domain.Decision) {
	if d.Limited() && !d.Unavailable() {
		h.Set(HeaderLimit, formatInt(d.Policy.MaxRequests))
		h.Set(HeaderRemaining, formatInt(d.Remaining))
		h.Set(HeaderReset, formatReset(d.ResetAt))
		h.Set(HeaderWindow, formatMillis(d.Policy.Window))
	}
	if !d.Allowed {
		h.Set(HeaderRetryAfter, formatInt(d.RetryAfterSeconds()))
	}
}

// Status traduz a decisão de admissão para status HTTP.
func Status(d domain.Decision) int {
	switch {
	case d.Allowed:
		return http.StatusOK
	case d.Unavailable():
		return http.StatusServiceUnavailable
	default:
		return http.StatusTooManyRequests
	}
}

// Message é o texto público de cada código de admissão.
func Message(code string) string {
	switch code {
	case domain.CodeVeterinaryRateLimitExceeded:
		return "Veterinary priority rate limit exceeded"
	case domain.CodeAdmissionUnavailable:
		return "Admission control temporarily unavailable"
	case CodeConcurrencyLimit:
		return "Too many concurrent requests"
	default:
		return "Too many requests"
	}
}

// WriteError escreve o payload JSON de negação com o status dado.
func WriteError(w http.ResponseWriter, status int, code, message string, retryAfter int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: ErrorDetail{
		Code:       code,
		Message:    message,
		RetryAfter: retryAfter,
	}})
}

// Reject responde uma negação de admissão (headers + JSON).
func Reject(w http.ResponseWriter, d domain.Decision) {
	SetHeaders(w.Header(), d)
	WriteError(w, Status(d), d.Code, Message(d.Code), d.RetryAfterSeconds())
}
