package infra

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ranch-gateway/middleware/ratelimit/domain"
)

// SecurityLog escreve eventos do gate como log estruturado (zerolog).
// Implementa domain.StatsStore.
//
// Bypass (aceito ou recusado) e falha de store sempre são logados.
// Negações repetidas da mesma chave são amostradas para não inundar o log
// quando alguém martela um endpoint.
type SecurityLog struct {
	logger  zerolog.Logger
	sampler *keySampler
}

type SecurityLogOption func(*SecurityLog)

// WithDenySampling define quantas linhas de negação por segundo cada chave pode gerar.
func WithDenySampling(perSecond float64, burst int) SecurityLogOption {
	return func(l *SecurityLog) {
		l.sampler = newKeySampler(perSecond, burst, 10*time.Minute)
	}
}

func NewSecurityLog(logger zerolog.Logger, opts ...SecurityLogOption) *SecurityLog {
	l := &SecurityLog{
		logger:  logger.With().Str("component", "gate").Logger(),
		sampler: newKeySampler(1, 5, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SecurityLog) Record(_ context.Context, ev domain.StatsEvent) error {
	switch ev.Kind {
	case domain.EventBypass:
		l.with(l.logger.Warn(), ev).
			Str("audit_id", ev.AuditID).
			Msg("emergency bypass honored")
	case domain.EventBypassRefused:
		e := l.with(l.logger.Warn(), ev).Str("audit_id", ev.AuditID)
		if ev.Err != nil {
			e = e.Str("reason", ev.Err.Error())
		}
		e.Msg("emergency bypass refused")
	case domain.EventStoreFault:
		l.with(l.logger.Error(), ev).Err(ev.Err).Msg("window store fault, request denied")
	case domain.EventConcurrency:
		if l.sampler.Allow(string(ev.Kind) + "|" + ev.Path) {
			l.with(l.logger.Warn(), ev).Msg("concurrency limit reached")
		}
	default:
		if ev.Allowed {
			l.with(l.logger.Debug(), ev).Msg("request admitted")
			return nil
		}
		if !l.sampler.Allow(string(ev.Kind) + "|" + string(ev.Key)) {
			return nil
		}
		msg := "rate limit exceeded"
		if ev.Kind == domain.EventAuthorization {
			msg = "authorization denied"
		}
		l.with(l.logger.Warn(), ev).Str("code", ev.Code).Msg(msg)
	}
	return nil
}

func (l *SecurityLog) with(e *zerolog.Event, ev domain.StatsEvent) *zerolog.Event {
	e = e.Str("event", string(ev.Kind))
	if ev.Kind != domain.EventConcurrency {
		e = e.Str("class", ev.Class.String())
	}
	if ev.Lane != "" {
		e = e.Str("lane", string(ev.Lane))
	}
	if ev.UserID != "" {
		e = e.Str("user_id", SanitizeUserID(ev.UserID)).Stringer("role", ev.Role)
	}
	if ev.Source != "" {
		e = e.Str("source", ev.Source)
	}
	if ev.Path != "" {
		e = e.Str("method", ev.Method).Str("path", ev.Path)
	}
	return e
}

// SanitizeUserID corta ids longos e troca caracteres de controle, para não
// permitir injeção de linhas no log.
func SanitizeUserID(id string) string {
	const maxLen = 64
	out := make([]rune, 0, len(id))
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			r = '?'
		}
		out = append(out, r)
		if len(out) == maxLen {
			return string(out) + "..."
		}
	}
	return string(out)
}
