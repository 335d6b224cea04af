package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrStoreCorrupted indica um resultado impossível vindo do WindowStore
// (ex.: remaining negativo). Tratado como defeito: loga e nega.
var ErrStoreCorrupted = errors.New("ratelimit: window store returned an impossible result")

type Key string

// Códigos de negação do rate limit.
const (
	CodeRateLimitExceeded           = "RATE_LIMIT_EXCEEDED"
	CodeVeterinaryRateLimitExceeded = "VETERINARY_RATE_LIMIT_EXCEEDED"
	CodeAdmissionUnavailable        = "ADMISSION_UNAVAILABLE"
)

// Lane identifica por qual caminho a requisição foi admitida.
type Lane string

const (
	LaneStandard Lane = "standard"
	LaneBypass   Lane = "bypass"
)

// WindowResult é o retorno de uma operação check-and-increment.
type WindowResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	TotalHits int
}

// WindowStore guarda janelas fixas por chave.
//
// CheckAndIncrement precisa ser atômico por chave: detectar expiração, criar ou
// incrementar acontecem na mesma seção crítica.
type WindowStore interface {
	CheckAndIncrement(ctx context.Context, key Key, p Policy) (WindowResult, error)
	Reset(ctx context.Context, key Key) error
	ResetPrefix(ctx context.Context, prefix string) (int, error)
	Sweep(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// Consumer é uma chave com seu total de hits na janela atual.
type Consumer struct {
	Key     Key       `json:"key"`
	Hits    int       `json:"hits"`
	ResetAt time.Time `json:"resetAt"`
}

// Stats é um snapshot somente leitura do store.
type Stats struct {
	TotalKeys     int        `json:"totalKeys"`
	ActiveWindows int        `json:"activeWindows"`
	TopConsumers  []Consumer `json:"topConsumers"`
}

// MaxTopConsumers limita Stats.TopConsumers.
const MaxTopConsumers = 10

// Decision é o resultado da admissão (AdmissionResult).
type Decision struct {
	Allowed bool
	Lane    Lane
	Key     Key
	Policy  Policy

	Remaining int
	ResetAt   time.Time
	TotalHits int

	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	// Code só é preenchido em negação.
	Code string
}

// RetryAfterSeconds arredonda RetryAfter para cima, com mínimo 1 quando negado.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Unavailable informa se a negação veio de falha interna (fail closed), não de limite.
func (d Decision) Unavailable() bool {
	return !d.Allowed && d.Code == CodeAdmissionUnavailable
}

// Limited informa se a decisão carrega dados de janela (headers X-RateLimit-*).
func (d Decision) Limited() bool {
	return d.Lane != LaneBypass && d.Policy.Window > 0
}
