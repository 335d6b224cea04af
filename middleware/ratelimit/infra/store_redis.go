package infra

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ranch-gateway/middleware/ratelimit/domain"
)

// INCR + PEXPIRE na criação + PTTL em um único script: o Redis executa o script
// inteiro sem intercalar outros comandos, então check-and-increment é atômico
// mesmo com vários gateways apontando para o mesmo Redis.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisWindowStore guarda janelas fixas no Redis (deploy com várias instâncias).
//
// A expiração é do próprio Redis (PEXPIRE), então Sweep não tem o que fazer.
// Em Stats o desempate do ranking é pelo nome da chave: o Redis não guarda
// ordem de inserção.
type RedisWindowStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

type RedisStoreOption func(*RedisWindowStore)

func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisWindowStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisWindowStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisWindowStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisWindowStore {
	s := &RedisWindowStore{
		rdb:    rdb,
		prefix: "ratelimit:window",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisWindowStore) redisKey(key domain.Key) string {
	return s.prefix + ":" + string(key)
}

func (s *RedisWindowStore) CheckAndIncrement(ctx context.Context, key domain.Key, p domain.Policy) (domain.WindowResult, error) {
	windowMs := p.Window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	res, err := fixedWindowScript.Run(ctx, s.rdb, []string{s.redisKey(key)}, windowMs).Int64Slice()
	if err != nil {
		return domain.WindowResult{}, fmt.Errorf("ratelimit: redis window %s: %w", key, err)
	}
	if len(res) != 2 {
		return domain.WindowResult{}, fmt.Errorf("%w: script returned %d values", domain.ErrStoreCorrupted, len(res))
	}

	count := int(res[0])
	resetAt := s.now().Add(time.Duration(res[1]) * time.Millisecond)

	return domain.WindowResult{
		Allowed:   count <= p.MaxRequests,
		Remaining: max(0, p.MaxRequests-count),
		ResetAt:   resetAt,
		TotalHits: count,
	}, nil
}

func (s *RedisWindowStore) Reset(ctx context.Context, key domain.Key) error {
	return s.rdb.Del(ctx, s.redisKey(key)).Err()
}

func (s *RedisWindowStore) ResetPrefix(ctx context.Context, prefix string) (int, error) {
	literal := s.prefix + ":" + prefix
	scanned, err := s.scan(ctx, globEscape(literal)+"*")
	if err != nil {
		return 0, err
	}
	keys := scanned[:0]
	for _, k := range scanned {
		if strings.HasPrefix(k, literal) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis reset %q: %w", prefix, err)
	}
	return int(n), nil
}

// Sweep é no-op: o Redis expira as chaves sozinho.
func (s *RedisWindowStore) Sweep(context.Context) (int, error) { return 0, nil }

func (s *RedisWindowStore) Stats(ctx context.Context) (domain.Stats, error) {
	keys, err := s.scan(ctx, globEscape(s.prefix)+":*")
	if err != nil {
		return domain.Stats{}, err
	}

	st := domain.Stats{TotalKeys: len(keys)}
	if len(keys) == 0 {
		st.TopConsumers = []domain.Consumer{}
		return st, nil
	}

	pipe := s.rdb.Pipeline()
	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, k := range keys {
		gets[i] = pipe.Get(ctx, k)
		ttls[i] = pipe.PTTL(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.Stats{}, fmt.Errorf("ratelimit: redis stats: %w", err)
	}

	now := s.now()
	consumers := make([]domain.Consumer, 0, len(keys))
	for i, k := range keys {
		hits, err := gets[i].Int()
		if err != nil {
			// chave expirou entre o SCAN e o GET
			st.TotalKeys--
			continue
		}
		ttl := ttls[i].Val()
		if ttl > 0 {
			st.ActiveWindows++
		}
		consumers = append(consumers, domain.Consumer{
			Key:     domain.Key(strings.TrimPrefix(k, s.prefix+":")),
			Hits:    hits,
			ResetAt: now.Add(ttl),
		})
	}

	slices.SortFunc(consumers, func(a, b domain.Consumer) int {
		if a.Hits != b.Hits {
			return b.Hits - a.Hits
		}
		return strings.Compare(string(a.Key), string(b.Key))
	})
	if len(consumers) > domain.MaxTopConsumers {
		consumers = consumers[:domain.MaxTopConsumers]
	}
	st.TopConsumers = consumers
	return st, nil
}

func (s *RedisWindowStore) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, match, 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: redis scan %q: %w", match, err)
	}
	return keys, nil
}

// globEscape neutraliza os metacaracteres do MATCH do SCAN (*, ?, [, ], \).
func globEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
