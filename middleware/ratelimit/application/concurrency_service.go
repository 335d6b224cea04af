package application

import (
	"context"
	"time"

	"ranch-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP. Protege as classes pesadas (FILES, BULK) do upstream.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}

// Backpressure traduz a ocupação de um recurso em fator de escala de política.
//
// Abaixo de Threshold o fator é 0 (sem escala). A partir dele devolve Factor,
// que Service.Admit aplica só na checagem corrente.
type Backpressure struct {
	Gauge     domain.LoadGauge
	Threshold float64
	Factor    float64
}

func (b Backpressure) LoadFactor() float64 {
	if b.Gauge == nil || b.Threshold <= 0 || b.Factor <= 0 || b.Factor >= 1 {
		return 0
	}
	if b.Gauge.Utilization() < b.Threshold {
		return 0
	}
	return b.Factor
}
