package infra

import (
	"context"
)

// ChanPool é um semáforo simples baseado em channel.
// Implementa domain.SlotPool e domain.LoadGauge.
type ChanPool struct {
	sem chan struct{}
}

// NewChanPool cria um pool com capacidade `max` (mínimo 1).
func NewChanPool(max int) *ChanPool {
	if max < 1 {
		max = 1
	}
	return &ChanPool{sem: make(chan struct{}, max)}
}

func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

// InUse é a quantidade de vagas ocupadas agora.
func (p *ChanPool) InUse() int { return len(p.sem) }

func (p *ChanPool) Cap() int { return cap(p.sem) }

// Utilization retorna InUse/Cap (0..1).
func (p *ChanPool) Utilization() float64 {
	return float64(len(p.sem)) / float64(cap(p.sem))
}
