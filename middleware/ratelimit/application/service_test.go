package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ranch-gateway/middleware/ratelimit/domain"
	"ranch-gateway/middleware/ratelimit/infra"
	"ranch-gateway/middleware/rbac"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.StatsEvent
}

func (r *eventRecorder) Record(_ context.Context, ev domain.StatsEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *eventRecorder) last() domain.StatsEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// uniformTable devolve uma tabela com a mesma política em todas as células.
func uniformTable(t *testing.T, p domain.Policy) *domain.PolicyTable {
	t.Helper()
	entries := map[domain.EndpointClass]map[rbac.Role]domain.Policy{}
	for _, c := range domain.AllClasses() {
		entries[c] = map[rbac.Role]domain.Policy{}
		for _, r := range rbac.AllRoles() {
			entries[c][r] = p
		}
	}
	table, err := domain.NewPolicyTable(entries, p)
	require.NoError(t, err)
	return table
}

func newTestService(t *testing.T, table *domain.PolicyTable) (Service, *fakeClock, *eventRecorder) {
	t.Helper()
	clock := newFakeClock()
	rec := &eventRecorder{}
	svc := Service{
		Store:    infra.NewMemoryWindowStore(infra.WithClock(clock.Now)),
		Policies: table,
		Lanes:    DefaultLanes(),
		Stats:    rec,
		Now:      clock.Now,
	}
	return svc, clock, rec
}

func worker(id string) domain.Identity {
	return domain.Identity{UserID: id, Role: rbac.RoleWorker, SourceAddress: "10.0.0.1:5555"}
}

func TestDefaultPolicyTable_IsComplete(t *testing.T) {
	table, err := DefaultPolicyTable()
	require.NoError(t, err)

	assert.Equal(t, domain.Policy{Window: time.Minute, MaxRequests: 20},
		table.Resolve(domain.ClassCattleWrite, rbac.RoleWorker))
	assert.Equal(t, domain.Policy{Window: time.Minute, MaxRequests: 0},
		table.Resolve(domain.ClassWrite, rbac.RoleViewer))
	assert.Equal(t, domain.Policy{Window: time.Minute, MaxRequests: 100},
		table.Resolve(domain.ClassHealthRecords, rbac.RoleVeterinarian))
	assert.Equal(t, domain.Policy{Window: time.Hour, MaxRequests: 10},
		table.Resolve(domain.ClassBulk, rbac.RoleOwner))
	assert.Equal(t, DefaultAnonymousPolicy(), table.Resolve(domain.ClassRead, rbac.RoleNone))
}

func TestService_Admit_FixedWindow(t *testing.T) {
	svc, _, _ := newTestService(t, uniformTable(t, domain.Policy{Window: time.Minute, MaxRequests: 3}))
	ctx := context.Background()
	req := AdmitRequest{Identity: worker("42"), Class: domain.ClassRead}

	for i := 1; i <= 3; i++ {
		d := svc.Admit(ctx, req)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3-i, d.Remaining)
		assert.Equal(t, domain.Key("user:42:READ"), d.Key)
		assert.Equal(t, domain.LaneStandard, d.Lane)
	}

	d := svc.Admit(ctx, req)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.CodeRateLimitExceeded, d.Code)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 60, d.RetryAfterSeconds())
}

func TestService_Admit_WindowRollover(t *testing.T) {
	svc, clock, _ := newTestService(t, uniformTable(t, domain.Policy{Window: time.Minute, MaxRequests: 1}))
	ctx := context.Background()
	req := AdmitRequest{Identity: worker("7"), Class: domain.ClassWrite}

	require.True(t, svc.Admit(ctx, req).Allowed)
	require.False(t, svc.Admit(ctx, req).Allowed)

	clock.Advance(time.Minute)
	d := svc.Admit(ctx, req)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.TotalHits)
}

func TestService_Admit_ConcurrentExactCount(t *testing.T) {
	const limit = 25
	const callers = 200

	svc, _, _ := newTestService(t, uniformTable(t, domain.Policy{Window: time.Minute, MaxRequests: limit}))
	req := AdmitRequest{Identity: worker("race"), Class: domain.ClassCattleRead}

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.Admit(context.Background(), req).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load())
}

func TestService_Admit_WorkerCattleWriteDefaults(t *testing.T) {
	table, err := DefaultPolicyTable()
	require.NoError(t, err)
	svc, clock, _ := newTestService(t, table)
	ctx := context.Background()
	req := AdmitRequest{Identity: worker("w1"), Class: domain.ClassCattleWrite}

	for i := 0; i < 20; i++ {
		require.True(t, svc.Admit(ctx, req).Allowed, "request %d", i+1)
		clock.Advance(time.Second)
	}
	d := svc.Admit(ctx, req)
	require.False(t, d.Allowed)
	assert.Equal(t, domain.CodeRateLimitExceeded, d.Code)
	assert.Greater(t, d.RetryAfterSeconds(), 0)
	assert.LessOrEqual(t, d.RetryAfterSeconds(), 60)
	assert.Equal(t, 40, d.RetryAfterSeconds())
}

func TestService_Admit_ZeroPolicyNeverAllows(t *testing.T) {
	table, err := DefaultPolicyTable()
	require.NoError(t, err)
	svc, _, _ := newTestService(t, table)

	viewer := domain.Identity{UserID: "v", Role: rbac.RoleViewer}
	d := svc.Admit(context.Background(), AdmitRequest{Identity: viewer, Class: domain.ClassBulk})
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestService_Admit_AnonymousKeyedByAddress(t *testing.T) {
	svc, _, _ := newTestService(t, uniformTable(t, domain.Policy{Window: time.Minute, MaxRequests: 1}))
	ctx := context.Background()

	a := domain.Identity{SourceAddress: "[::ffff:192.0.2.9]:1234"}
	b := domain.Identity{SourceAddress: "192.0.2.9"}

	d := svc.Admit(ctx, AdmitRequest{Identity: a, Class: domain.ClassRead})
	require.True(t, d.Allowed)
	assert.Equal(t, domain.Key("ip:192.0.2.9:READ"), d.Key)

	assert.False(t, svc.Admit(ctx, AdmitRequest{Identity: b, Class: domain.ClassRead}).Allowed)
}

func TestService_Admit_VeterinaryLaneHasOwnCounter(t *testing.T) {
	table, err := DefaultPolicyTable()
	require.NoError(t, err)
	svc, _, _ := newTestService(t, table)
	ctx := context.Background()
	vet := domain.Identity{UserID: "doc", Role: rbac.RoleVeterinarian}

	for i := 0; i < 100; i++ {
		d := svc.Admit(ctx, AdmitRequest{Identity: vet, Class: domain.ClassHealthRecords, Lane: "veterinary"})
		require.True(t, d.Allowed, "lane request %d", i+1)
		assert.Equal(t, domain.Lane("veterinary"), d.Lane)
		assert.Equal(t, domain.Key("priority:user:doc:veterinary"), d.Key)
	}
	d := svc.Admit(ctx, AdmitRequest{Identity: vet, Class: domain.ClassHealthRecords, Lane: "veterinary"})
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.CodeVeterinaryRateLimitExceeded, d.Code)

	// o contador padrão da classe não foi tocado pela lane
	std := svc.Admit(ctx, AdmitRequest{Identity: vet, Class: domain.ClassHealthRecords})
	assert.True(t, std.Allowed)
	assert.Equal(t, 99, std.Remaining)
}

func TestService_Admit_IneligibleLaneFallsBack(t *testing.T) {
	table, err := DefaultPolicyTable()
	require.NoError(t, err)
	svc, _, _ := newTestService(t, table)

	d := svc.Admit(context.Background(), AdmitRequest{Identity: worker("w"), Class: domain.ClassHealthRecords, Lane: "veterinary"})
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.LaneStandard, d.Lane)
	assert.Equal(t, domain.Key("user:w:HEALTH_RECORDS"), d.Key)
	assert.Equal(t, 39, d.Remaining)
}

func TestService_Admit_BypassHonored(t *testing.T) {
	svc, _, rec := newTestService(t, uniformTable(t, domain.Policy{Window: time.Minute, MaxRequests: 0}))
	svc.BypassSecret = "s3cret"
	svc.NewAuditID = func() string { return "audit-1" }

	d := svc.Admit(context.Background(), AdmitRequest{Identity: worker("9"), Class: domain.ClassWrite, BypassToken: "s3cret"})
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.LaneBypass, d.Lane)
	assert.False(t, d.Limited())

	ev := rec.last()
	assert.Equal(t, domain.EventBypass, ev.Kind)
	assert.Equal(t, "audit-1", ev.AuditID)
	assert.Equal(t, "9", ev.UserID)

	st, err := svc.WindowStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalKeys, "bypass must not touch counters")
}

func TestService_Admit_BypassRefused(t *testing.T) {
	cases := map[string]string{"wrong token": "s3cret", "disabled": ""}
	for name, secret := range cases {
		t.Run(name, func(t *testing.T) {
			svc, _, rec := newTestService(t, uniformTable(t, domain.Policy{Window: time.Minute, MaxRequests: 5}))
			svc.BypassSecret = secret

			d := svc.Admit(context.Background(), AdmitRequest{Identity: worker("9"), Class: domain.ClassWrite, BypassToken: "guess"})
			assert.True(t, d.Allowed)
			assert.Equal(t, domain.LaneStandard, d.Lane)
			assert.Equal(t, 4, d.Remaining)
			assert.Equal(t, []domain.EventKind{domain.EventBypassRefused, domain.EventAdmission}, rec.kinds())
		})
	}
}

func TestService_Admit_LoadFactorIsLocal(t *testing.T) {
	table := uniformTable(t, domain.Policy{Window: time.Minute, MaxRequests: 10})
	svc, _, _ := newTestService(t, table)
	ctx := context.Background()

	d := svc.Admit(ctx, AdmitRequest{Identity: worker("s"), Class: domain.ClassRead, LoadFactor: 0.5})
	assert.Equal(t, 5, d.Policy.MaxRequests)
	assert.Equal(t, 4, d.Remaining)

	assert.Equal(t, 10, table.Resolve(domain.ClassRead, rbac.RoleWorker).MaxRequests)

	d = svc.Admit(ctx, AdmitRequest{Identity: worker("s"), Class: domain.ClassRead})
	assert.Equal(t, 10, d.Policy.MaxRequests)
	assert.Equal(t, 8, d.Remaining)
}

func TestService_Admit_LoadFactorSkipsAnonymousByDefault(t *testing.T) {
	svc, _, _ := newTestService(t, uniformTable(t, domain.Policy{Window: time.Minute, MaxRequests: 10}))
	anon := domain.Identity{SourceAddress: "198.51.100.4"}

	d := svc.Admit(context.Background(), AdmitRequest{Identity: anon, Class: domain.ClassRead, LoadFactor: 0.5})
	assert.Equal(t, 10, d.Policy.MaxRequests)

	svc.ScaleAnonymous = true
	d = svc.Admit(context.Background(), AdmitRequest{Identity: anon, Class: domain.ClassRead, LoadFactor: 0.5})
	assert.Equal(t, 5, d.Policy.MaxRequests)
}

type failingStore struct {
	domain.WindowStore
	result domain.WindowResult
	err    error
}

func (s failingStore) CheckAndIncrement(context.Context, domain.Key, domain.Policy) (domain.WindowResult, error) {
	return s.result, s.err
}

func TestService_Admit_FailsClosed(t *testing.T) {
	cases := map[string]failingStore{
		"store error":        {err: errors.New("connection refused")},
		"negative remaining": {result: domain.WindowResult{Allowed: true, Remaining: -1, TotalHits: 1, ResetAt: time.Now()}},
		"zero hits":          {result: domain.WindowResult{Allowed: true, Remaining: 1, TotalHits: 0, ResetAt: time.Now()}},
	}
	for name, store := range cases {
		t.Run(name, func(t *testing.T) {
			rec := &eventRecorder{}
			svc := Service{
				Store:    store,
				Policies: uniformTable(t, domain.Policy{Window: time.Minute, MaxRequests: 5}),
				Stats:    rec,
			}
			d := svc.Admit(context.Background(), AdmitRequest{Identity: worker("x"), Class: domain.ClassRead})
			assert.False(t, d.Allowed)
			assert.True(t, d.Unavailable())
			assert.Equal(t, 1, d.RetryAfterSeconds())
			assert.Equal(t, domain.EventStoreFault, rec.last().Kind)
			require.Error(t, rec.last().Err)
			if name != "store error" {
				assert.ErrorIs(t, rec.last().Err, domain.ErrStoreCorrupted)
			}
		})
	}
}

func TestService_Admit_NoStoreAllows(t *testing.T) {
	d := Service{}.Admit(context.Background(), AdmitRequest{Identity: worker("x"), Class: domain.ClassBulk})
	assert.True(t, d.Allowed)
	assert.False(t, d.Limited())
}

func TestService_ResetUser(t *testing.T) {
	svc, _, _ := newTestService(t, uniformTable(t, domain.Policy{Window: time.Minute, MaxRequests: 1}))
	ctx := context.Background()
	vet := domain.Identity{UserID: "u1", Role: rbac.RoleVeterinarian}

	svc.Admit(ctx, AdmitRequest{Identity: vet, Class: domain.ClassRead})
	svc.Admit(ctx, AdmitRequest{Identity: vet, Class: domain.ClassWrite})
	svc.Admit(ctx, AdmitRequest{Identity: vet, Class: domain.ClassHealthRecords, Lane: "veterinary"})
	svc.Admit(ctx, AdmitRequest{Identity: worker("u10"), Class: domain.ClassRead})

	read := domain.ClassRead
	require.NoError(t, svc.ResetUser(ctx, "u1", &read))
	assert.True(t, svc.Admit(ctx, AdmitRequest{Identity: vet, Class: domain.ClassRead}).Allowed)
	assert.False(t, svc.Admit(ctx, AdmitRequest{Identity: vet, Class: domain.ClassWrite}).Allowed)

	require.NoError(t, svc.ResetUser(ctx, "u1", nil))
	st, err := svc.WindowStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalKeys, "only the other user's key survives")
	assert.Equal(t, domain.Key("user:u10:READ"), st.TopConsumers[0].Key)

	assert.ErrorIs(t, svc.ResetUser(ctx, "  ", nil), ErrEmptyUserID)
}

func TestService_ResetUserDoesNotReachLookalikeIDs(t *testing.T) {
	svc, _, _ := newTestService(t, uniformTable(t, domain.Policy{Window: time.Minute, MaxRequests: 1}))
	ctx := context.Background()

	svc.Admit(ctx, AdmitRequest{Identity: worker("a"), Class: domain.ClassRead})
	svc.Admit(ctx, AdmitRequest{Identity: worker("a:READ"), Class: domain.ClassRead})

	require.NoError(t, svc.ResetUser(ctx, "a", nil))
	assert.True(t, svc.Admit(ctx, AdmitRequest{Identity: worker("a"), Class: domain.ClassRead}).Allowed)
	assert.False(t, svc.Admit(ctx, AdmitRequest{Identity: worker("a:READ"), Class: domain.ClassRead}).Allowed)
}
