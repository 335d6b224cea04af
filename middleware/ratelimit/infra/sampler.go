package infra

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keySampler é um token bucket (x/time/rate) por chave com limpeza de chaves
// inativas. Usado para amostrar linhas de log repetidas da mesma chave.
type keySampler struct {
	mu      sync.Mutex
	entries map[string]*samplerEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	// limpa no máximo uma vez por idleTTL, dentro de Allow
	lastCleanup time.Time
}

type samplerEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newKeySampler(rps float64, burst int, idleTTL time.Duration) *keySampler {
	return &keySampler{
		entries:     make(map[string]*samplerEntry),
		rps:         rate.Limit(rps),
		burst:       burst,
		idleTTL:     idleTTL,
		lastCleanup: time.Now(),
	}
}

func (s *keySampler) Allow(key string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastCleanup) >= s.idleTTL {
		s.cleanupLocked(now)
	}

	ent, ok := s.entries[key]
	if !ok {
		ent = &samplerEntry{lim: rate.NewLimiter(s.rps, s.burst)}
		s.entries[key] = ent
	}
	ent.lastSeen = now
	return ent.lim.AllowN(now, 1)
}

func (s *keySampler) cleanupLocked(now time.Time) {
	cutoff := now.Add(-s.idleTTL)
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
	s.lastCleanup = now
}
