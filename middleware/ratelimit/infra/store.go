package infra

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"ranch-gateway/middleware/ratelimit/domain"
)

// MemoryWindowStore é uma implementação de infra de janela fixa por chave,
// em memória, com shards (mutex + map por shard) e limpeza periódica.
//
// Check-and-increment roda inteiro sob o lock do shard da chave; chaves em shards
// diferentes não disputam lock. Sweep trava um shard de cada vez.
type MemoryWindowStore struct {
	shards     []*windowShard
	seq        atomic.Uint64
	now        func() time.Time
	sweepEvery time.Duration
}

type windowShard struct {
	mu      sync.Mutex
	windows map[domain.Key]*window
}

type window struct {
	count   int
	start   time.Time
	resetAt time.Time
	// seq é a ordem de inserção (desempate estável no ranking de Stats).
	seq uint64
}

type StoreOption func(*MemoryWindowStore)

// WithShards define a quantidade de shards (mínimo 1).
func WithShards(n int) StoreOption {
	return func(s *MemoryWindowStore) {
		if n < 1 {
			n = 1
		}
		s.shards = newShards(n)
	}
}

func WithSweepEvery(d time.Duration) StoreOption {
	return func(s *MemoryWindowStore) { s.sweepEvery = d }
}

// WithClock troca o relógio (testes controlam o tempo sem dormir).
func WithClock(now func() time.Time) StoreOption {
	return func(s *MemoryWindowStore) {
		if now != nil {
			s.now = now
		}
	}
}

func newShards(n int) []*windowShard {
	out := make([]*windowShard, n)
	for i := range out {
		out[i] = &windowShard{windows: make(map[domain.Key]*window)}
	}
	return out
}

func NewMemoryWindowStore(opts ...StoreOption) *MemoryWindowStore {
	s := &MemoryWindowStore{
		shards:     newShards(32),
		now:        time.Now,
		sweepEvery: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryWindowStore) SweepEvery() time.Duration { return s.sweepEvery }

func (s *MemoryWindowStore) shardFor(key domain.Key) *windowShard {
	return s.shards[xxhash.Sum64String(string(key))%uint64(len(s.shards))]
}

// CheckAndIncrement implementa domain.WindowStore.
func (s *MemoryWindowStore) CheckAndIncrement(_ context.Context, key domain.Key, p domain.Policy) (domain.WindowResult, error) {
	now := s.now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{
			start:   now,
			resetAt: now.Add(p.Window),
			seq:     s.seq.Add(1),
		}
		sh.windows[key] = w
	}
	w.count++

	return domain.WindowResult{
		Allowed:   w.count <= p.MaxRequests,
		Remaining: max(0, p.MaxRequests-w.count),
		ResetAt:   w.resetAt,
		TotalHits: w.count,
	}, nil
}

func (s *MemoryWindowStore) Reset(_ context.Context, key domain.Key) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.windows, key)
	sh.mu.Unlock()
	return nil
}

// ResetPrefix remove todas as janelas cujas chaves começam com prefix.
func (s *MemoryWindowStore) ResetPrefix(_ context.Context, prefix string) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k := range sh.windows {
			if strings.HasPrefix(string(k), prefix) {
				delete(sh.windows, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Sweep remove janelas com resetAt <= agora, um shard por vez.
func (s *MemoryWindowStore) Sweep(_ context.Context) (int, error) {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, w := range sh.windows {
			if !now.Before(w.resetAt) {
				delete(sh.windows, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Stats tira um snapshot sem alterar estado.
func (s *MemoryWindowStore) Stats(_ context.Context) (domain.Stats, error) {
	now := s.now()

	type entry struct {
		c   domain.Consumer
		seq uint64
	}
	var entries []entry
	st := domain.Stats{}

	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, w := range sh.windows {
			st.TotalKeys++
			// expiradas ainda não varridas não entram no ranking
			if !now.Before(w.resetAt) {
				continue
			}
			st.ActiveWindows++
			entries = append(entries, entry{
				c:   domain.Consumer{Key: k, Hits: w.count, ResetAt: w.resetAt},
				seq: w.seq,
			})
		}
		sh.mu.Unlock()
	}

	slices.SortFunc(entries, func(a, b entry) int {
		if a.c.Hits != b.c.Hits {
			return b.c.Hits - a.c.Hits
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	n := min(len(entries), domain.MaxTopConsumers)
	st.TopConsumers = make([]domain.Consumer, n)
	for i := 0; i < n; i++ {
		st.TopConsumers[i] = entries[i].c
	}
	return st, nil
}

// StartJanitor inicia uma goroutine que remove janelas expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryWindowStore) StartJanitor(ctx context.Context) {
	if s.sweepEvery <= 0 {
		return
	}

	t := time.NewTicker(s.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = s.Sweep(ctx)
			}
		}
	}()
}
