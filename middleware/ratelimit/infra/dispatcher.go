package infra

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ranch-gateway/middleware/ratelimit/domain"
)

// Dispatcher entrega eventos para vários StatsStore fora do caminho da requisição.
//
// Record nunca bloqueia: com o buffer cheio o evento é descartado e contado.
// Erros dos destinos são logados (amostrados) e ignorados.
type Dispatcher struct {
	sinks   []domain.StatsStore
	ch      chan domain.StatsEvent
	logger  zerolog.Logger
	timeout time.Duration

	dropped   atomic.Uint64
	overflow  rate.Sometimes
	sinkError rate.Sometimes
}

func NewDispatcher(logger zerolog.Logger, buffer int, sinks ...domain.StatsStore) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{
		sinks:     sinks,
		ch:        make(chan domain.StatsEvent, buffer),
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		timeout:   2 * time.Second,
		overflow:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
		sinkError: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Record implementa domain.StatsStore sem bloquear.
func (d *Dispatcher) Record(_ context.Context, ev domain.StatsEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case d.ch <- ev:
	default:
		n := d.dropped.Add(1)
		d.overflow.Do(func() {
			d.logger.Warn().Uint64("dropped_total", n).Msg("event buffer full, dropping gate events")
		})
	}
	return nil
}

func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Run consome eventos até ctx encerrar; depois esvazia o que sobrou no buffer.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.ch:
			d.deliver(ctx, ev)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.ch:
			d.deliver(context.Background(), ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, ev domain.StatsEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	defer cancel()
	for _, s := range d.sinks {
		if err := s.Record(ctx, ev); err != nil {
			d.sinkError.Do(func() {
				d.logger.Warn().Err(err).Msg("stats sink failed")
			})
		}
	}
}
