package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ranch-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore soma os contadores de decisão de todas as instâncias do gateway.
//
// Layout (um hash por dimensão, campo "<valor>:allowed|denied"):
//
//	<prefix>:total             allowed / denied
//	<prefix>:class             READ:allowed, BULK:denied ...
//	<prefix>:role              VIEWER:allowed ...
//	<prefix>:route             GET /api/cattle:denied ...
//	<prefix>:code              RATE_LIMIT_EXCEEDED -> n
//	<prefix>:minute:YYYYMMDDhhmm  allowed / denied (expira com ttl)
//	<prefix>:key:<key>            allowed / denied (opcional, expira com ttl)
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl vale só para as séries por minuto e por chave; os agregados são cumulativos.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// WithStatsTrackKeys liga os contadores por chave de rate limit (alta cardinalidade).
func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) hash(dim string) string { return s.prefix + ":" + dim }

// Record grava a decisão num único pipeline. Falhas internas e concorrência
// ficam só no log e nas métricas.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil || !countable(ev.Kind) {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	result := outcome(ev.Allowed)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.hash("total"), result, 1)
	pipe.HIncrBy(ctx, s.hash("class"), ev.Class.String()+":"+result, 1)
	if ev.Role.Valid() {
		pipe.HIncrBy(ctx, s.hash("role"), ev.Role.String()+":"+result, 1)
	}
	if route := routeOf(ev); route != "" {
		pipe.HIncrBy(ctx, s.hash("route"), route+":"+result, 1)
	}
	if !ev.Allowed && ev.Code != "" {
		pipe.HIncrBy(ctx, s.hash("code"), ev.Code, 1)
	}

	if s.bucket == "minute" {
		s.incrExpiring(ctx, pipe, s.hash("minute:"+at.UTC().Format("200601021504")), result)
	}
	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			s.incrExpiring(ctx, pipe, s.hash("key:"+k), result)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratelimit: redis stats record: %w", err)
	}
	return nil
}

func (s *RedisStatsStore) incrExpiring(ctx context.Context, pipe redis.Pipeliner, key, field string) {
	pipe.HIncrBy(ctx, key, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}

// Snapshot lê os agregados de todas as instâncias no mesmo formato de
// MemoryStatsStore.Snapshot (sem ByKey).
func (s *RedisStatsStore) Snapshot(ctx context.Context) (CountersSnapshot, error) {
	pipe := s.rdb.Pipeline()
	total := pipe.HGetAll(ctx, s.hash("total"))
	class := pipe.HGetAll(ctx, s.hash("class"))
	role := pipe.HGetAll(ctx, s.hash("role"))
	route := pipe.HGetAll(ctx, s.hash("route"))
	code := pipe.HGetAll(ctx, s.hash("code"))
	if _, err := pipe.Exec(ctx); err != nil {
		return CountersSnapshot{}, fmt.Errorf("ratelimit: redis stats snapshot: %w", err)
	}

	snap := CountersSnapshot{
		Total: Counters{
			Allowed: parseInt64(total.Val()["allowed"]),
			Denied:  parseInt64(total.Val()["denied"]),
		},
		ByClass: splitCounters(class.Val()),
		ByRole:  splitCounters(role.Val()),
		ByRoute: splitCounters(route.Val()),
		ByCode:  make(map[string]int64, len(code.Val())),
	}
	for c, v := range code.Val() {
		snap.ByCode[c] = parseInt64(v)
	}
	return snap, nil
}

// splitCounters junta os campos "<nome>:allowed" e "<nome>:denied" de um hash.
func splitCounters(raw map[string]string) map[string]Counters {
	out := make(map[string]Counters, len(raw)/2+1)
	for f, v := range raw {
		i := strings.LastIndexByte(f, ':')
		if i <= 0 {
			continue
		}
		name := f[:i]
		c := out[name]
		switch f[i+1:] {
		case "allowed":
			c.Allowed += parseInt64(v)
		case "denied":
			c.Denied += parseInt64(v)
		default:
			continue
		}
		out[name] = c
	}
	return out
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
