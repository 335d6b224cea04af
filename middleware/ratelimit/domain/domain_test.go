package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ranch-gateway/middleware/rbac"
)

func fullEntries(p Policy) map[EndpointClass]map[rbac.Role]Policy {
	out := make(map[EndpointClass]map[rbac.Role]Policy)
	for _, c := range AllClasses() {
		out[c] = make(map[rbac.Role]Policy)
		for _, r := range rbac.AllRoles() {
			out[c][r] = p
		}
	}
	return out
}

func TestNewPolicyTable_RejectsMissingPair(t *testing.T) {
	entries := fullEntries(Policy{Window: time.Minute, MaxRequests: 10})
	delete(entries[ClassBulk], rbac.RoleWorker)

	_, err := NewPolicyTable(entries, Policy{Window: time.Minute, MaxRequests: 5})
	var cfgErr *PolicyConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ClassBulk, cfgErr.Class)
	assert.Equal(t, rbac.RoleWorker, cfgErr.Role)
}

func TestNewPolicyTable_RejectsInvalidPolicies(t *testing.T) {
	entries := fullEntries(Policy{Window: time.Minute, MaxRequests: 10})
	entries[ClassAuth][rbac.RoleOwner] = Policy{Window: time.Minute, MaxRequests: -1}
	_, err := NewPolicyTable(entries, Policy{Window: time.Minute, MaxRequests: 5})
	assert.Error(t, err)

	_, err = NewPolicyTable(fullEntries(Policy{Window: time.Minute}), Policy{Window: 0, MaxRequests: 5})
	var cfgErr *PolicyConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, rbac.RoleNone, cfgErr.Role)
}

func TestPolicyTable_Resolve(t *testing.T) {
	entries := fullEntries(Policy{Window: time.Minute, MaxRequests: 10})
	entries[ClassCattleWrite][rbac.RoleWorker] = Policy{Window: time.Minute, MaxRequests: 20}
	anon := Policy{Window: 15 * time.Minute, MaxRequests: 100}

	tbl, err := NewPolicyTable(entries, anon)
	require.NoError(t, err)

	assert.Equal(t, 20, tbl.Resolve(ClassCattleWrite, rbac.RoleWorker).MaxRequests)
	assert.Equal(t, 10, tbl.Resolve(ClassCattleWrite, rbac.RoleManager).MaxRequests)
	assert.Equal(t, anon, tbl.Resolve(ClassCattleWrite, rbac.RoleNone))
	assert.Panics(t, func() { tbl.Resolve(EndpointClass(99), rbac.RoleWorker) })
}

func TestPolicy_Scaled(t *testing.T) {
	p := Policy{Window: time.Minute, MaxRequests: 20}

	assert.Equal(t, 10, p.Scaled(0.5).MaxRequests)
	assert.Equal(t, 1, p.Scaled(0.01).MaxRequests)
	assert.Equal(t, 20, p.Scaled(0).MaxRequests)
	assert.Equal(t, 20, p.Scaled(-1).MaxRequests)
	assert.Equal(t, 20, p.Scaled(2).MaxRequests)
	assert.Equal(t, 0, Policy{Window: time.Minute}.Scaled(0.5).MaxRequests)
	// o original não muda
	assert.Equal(t, 20, p.MaxRequests)
}

func TestKeyFor(t *testing.T) {
	a := Identity{UserID: "42", Role: rbac.RoleWorker, SourceAddress: "10.0.0.1:1234"}
	b := Identity{UserID: "42", Role: rbac.RoleWorker, SourceAddress: "192.168.1.9:80"}

	assert.Equal(t, Key("user:42:CATTLE_WRITE"), KeyFor(a, ClassCattleWrite))
	assert.Equal(t, KeyFor(a, ClassCattleWrite), KeyFor(b, ClassCattleWrite))

	anon := Identity{SourceAddress: "[::ffff:10.0.0.1]:5555"}
	assert.Equal(t, Key("ip:10.0.0.1:READ"), KeyFor(anon, ClassRead))

	// usuário sem papel válido conta como anônimo
	noRole := Identity{UserID: "7", SourceAddress: "10.0.0.2"}
	assert.Equal(t, Key("ip:10.0.0.2:READ"), KeyFor(noRole, ClassRead))
	assert.Equal(t, rbac.RoleNone, noRole.EffectiveRole())

	assert.Equal(t, Key("priority:user:42:veterinary"), PriorityKey(a, "veterinary"))
}

func TestUserKeyPrefix_EscapesSeparator(t *testing.T) {
	plain := Identity{UserID: "a", Role: rbac.RoleViewer}
	tricky := Identity{UserID: "a:READ", Role: rbac.RoleViewer}

	assert.Equal(t, Key("user:a%3AREAD:READ"), KeyFor(tricky, ClassRead))
	assert.True(t, strings.HasPrefix(string(KeyFor(plain, ClassRead)), UserKeyPrefix("a")))
	assert.False(t, strings.HasPrefix(string(KeyFor(tricky, ClassRead)), UserKeyPrefix("a")))
	assert.True(t, strings.HasPrefix(string(KeyFor(tricky, ClassRead)), UserKeyPrefix("a:READ")))
	assert.NotEqual(t, UserKeyPrefix("a%3AREAD"), UserKeyPrefix("a:READ"))
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                   "unknown",
		"10.0.0.1":           "10.0.0.1",
		"10.0.0.1:8080":      "10.0.0.1",
		"[2001:db8::1]:443":  "2001:db8::1",
		"::ffff:192.0.2.128": "192.0.2.128",
		" Some-Host ":        "some-host",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeAddress(in), "input %q", in)
	}
}

func TestParseEndpointClass(t *testing.T) {
	c, err := ParseEndpointClass("cattle_write")
	require.NoError(t, err)
	assert.Equal(t, ClassCattleWrite, c)

	_, err = ParseEndpointClass("pasture")
	assert.ErrorIs(t, err, ErrUnknownEndpointClass)
}

func TestDecision_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, Decision{Allowed: true, RetryAfter: time.Minute}.RetryAfterSeconds())
	assert.Equal(t, 3, Decision{RetryAfter: 2100 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 1, Decision{}.RetryAfterSeconds())
}

func TestPriorityLane_Eligible(t *testing.T) {
	l := VeterinaryLane()
	assert.True(t, l.Eligible(rbac.RoleVeterinarian))
	assert.False(t, l.Eligible(rbac.RoleOwner))
	assert.False(t, l.Eligible(rbac.RoleNone))
}
