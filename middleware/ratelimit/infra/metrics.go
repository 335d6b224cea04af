package infra

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ranch-gateway/middleware/ratelimit/domain"
)

// Metrics publica as decisões do gate como métricas Prometheus.
// Implementa domain.StatsStore (é só mais um destino do Dispatcher).
type Metrics struct {
	registry    *prometheus.Registry
	handler     http.Handler
	decisions   *prometheus.CounterVec
	denials     *prometheus.CounterVec
	bypass      *prometheus.CounterVec
	storeFaults prometheus.Counter
	saturated   prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ranch_gateway_decisions_total",
		Help: "Decisões do gate por tipo, classe de endpoint, lane e resultado.",
	}, []string{"kind", "class", "lane", "result"})
	denials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ranch_gateway_denials_total",
		Help: "Negações por código.",
	}, []string{"code"})
	bypass := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ranch_gateway_bypass_total",
		Help: "Tentativas de bypass de emergência por resultado.",
	}, []string{"result"})
	faults := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ranch_gateway_store_faults_total",
		Help: "Falhas do window store (admissão negada por fail closed).",
	})
	saturated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ranch_gateway_concurrency_rejections_total",
		Help: "Requisições pesadas recusadas por falta de vaga.",
	})
	registry.MustRegister(decisions, denials, bypass, faults, saturated)

	return &Metrics{
		registry:    registry,
		handler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		decisions:   decisions,
		denials:     denials,
		bypass:      bypass,
		storeFaults: faults,
		saturated:   saturated,
	}
}

// Handler devolve o endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) Registerer() prometheus.Registerer { return m.registry }

func (m *Metrics) Record(_ context.Context, ev domain.StatsEvent) error {
	switch ev.Kind {
	case domain.EventStoreFault:
		m.storeFaults.Inc()
		return nil
	case domain.EventConcurrency:
		m.saturated.Inc()
		return nil
	case domain.EventBypass:
		m.bypass.WithLabelValues("honored").Inc()
	case domain.EventBypassRefused:
		m.bypass.WithLabelValues("refused").Inc()
		return nil
	}

	result := "allowed"
	if !ev.Allowed {
		result = "denied"
		if ev.Code != "" {
			m.denials.WithLabelValues(ev.Code).Inc()
		}
	}
	lane := string(ev.Lane)
	if lane == "" {
		lane = "none"
	}
	m.decisions.WithLabelValues(string(ev.Kind), ev.Class.String(), lane, result).Inc()
	return nil
}

// RegisterWindowStore expõe TotalKeys/ActiveWindows do store como gauges.
// Erro ao ler o store vira 0 (fail open: estatística não derruba scrape).
func (m *Metrics) RegisterWindowStore(store domain.WindowStore) {
	read := func(pick func(domain.Stats) int) func() float64 {
		return func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			st, err := store.Stats(ctx)
			if err != nil {
				return 0
			}
			return float64(pick(st))
		}
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ranch_gateway_window_keys",
			Help: "Chaves presentes no window store.",
		}, read(func(s domain.Stats) int { return s.TotalKeys })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ranch_gateway_window_active",
			Help: "Janelas ainda não expiradas no window store.",
		}, read(func(s domain.Stats) int { return s.ActiveWindows })),
	)
}

// RegisterLoadGauge expõe a ocupação do pool de concorrência (a mesma leitura
// que alimenta o fator de escala).
func (m *Metrics) RegisterLoadGauge(g domain.LoadGauge) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ranch_gateway_concurrency_utilization",
		Help: "Ocupação do pool de concorrência (0..1).",
	}, g.Utilization))
}
