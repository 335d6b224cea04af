package infra

import (
	"context"
	"maps"
	"strings"
	"sync"

	"ranch-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// CountersSnapshot é a cópia exposta no painel administrativo.
type CountersSnapshot struct {
	Total   Counters            `json:"total"`
	ByClass map[string]Counters `json:"byClass"`
	ByRole  map[string]Counters `json:"byRole"`
	ByCode  map[string]int64    `json:"byCode"`
	ByRoute map[string]Counters `json:"byRoute"`
	ByKey   map[string]Counters `json:"byKey,omitempty"`
}

// countable: só decisões entram nos contadores (admissão, autorização, bypass).
func countable(k domain.EventKind) bool {
	switch k {
	case domain.EventAdmission, domain.EventAuthorization, domain.EventBypass:
		return true
	}
	return false
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// routeOf é "<método> <padrão>"; sem padrão o evento não conta por rota.
func routeOf(ev domain.StatsEvent) string {
	pattern := strings.TrimSpace(ev.Pattern)
	if pattern == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + pattern)
}

// MemoryStatsStore guarda os contadores desta instância.
// Útil para testes, desenvolvimento e para o painel de uma instância só.
//
// Não faz expiração: cuidado com WithTrackKeys em produção.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byClass map[string]Counters
	byRole  map[string]Counters
	byCode  map[string]int64
	byRoute map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byClass: make(map[string]Counters),
		byRole:  make(map[string]Counters),
		byCode:  make(map[string]int64),
		byRoute: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func bump(m map[string]Counters, name string, allowed bool) {
	c := m[name]
	c.add(allowed)
	m[name] = c
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	if !countable(ev.Kind) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)
	bump(s.byClass, ev.Class.String(), ev.Allowed)
	if ev.Role.Valid() {
		bump(s.byRole, ev.Role.String(), ev.Allowed)
	}
	if !ev.Allowed && ev.Code != "" {
		s.byCode[ev.Code]++
	}
	if route := routeOf(ev); route != "" {
		bump(s.byRoute, route, ev.Allowed)
	}
	if s.trackKeys && ev.Key != "" {
		bump(s.byKey, string(ev.Key), ev.Allowed)
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) Snapshot() CountersSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := CountersSnapshot{
		Total:   s.total,
		ByClass: maps.Clone(s.byClass),
		ByRole:  maps.Clone(s.byRole),
		ByCode:  maps.Clone(s.byCode),
		ByRoute: maps.Clone(s.byRoute),
	}
	if s.trackKeys {
		snap.ByKey = maps.Clone(s.byKey)
	}
	return snap
}
