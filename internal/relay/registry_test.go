package relay

import (
	"testing"
	"time"

	"github.com/bhandras/greeter/internal/crypto"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinLookupLeave(t *testing.T) {
	r := NewRegistry()

	_, displaced := r.Join("p1", crypto.RoleDapp, "d1")
	require.False(t, displaced)
	_, displaced = r.Join("p1", crypto.RoleWallet, "w1")
	require.False(t, displaced)

	id, ok := r.Lookup("p1", crypto.RoleWallet)
	require.True(t, ok)
	require.Equal(t, "w1", id)
	require.Equal(t, 1, r.Len())

	require.True(t, r.Leave("p1", crypto.RoleWallet, "w1"))
	_, ok = r.Lookup("p1", crypto.RoleWallet)
	require.False(t, ok)
	require.Equal(t, 1, r.Len())

	require.True(t, r.Leave("p1", crypto.RoleDapp, "d1"))
	require.Equal(t, 0, r.Len())
}

func TestRegistry_NewestSocketWins(t *testing.T) {
	r := NewRegistry()
	r.Join("p1", crypto.RoleWallet, "w1")

	prev, displaced := r.Join("p1", crypto.RoleWallet, "w2")
	require.True(t, displaced)
	require.Equal(t, "w1", prev)

	// The displaced socket's disconnect must not clear its successor.
	require.False(t, r.Leave("p1", crypto.RoleWallet, "w1"))
	id, ok := r.Lookup("p1", crypto.RoleWallet)
	require.True(t, ok)
	require.Equal(t, "w2", id)
}

func TestRegistry_RejoinSameSocket(t *testing.T) {
	r := NewRegistry()
	r.Join("p1", crypto.RoleDapp, "d1")
	_, displaced := r.Join("p1", crypto.RoleDapp, "d1")
	require.False(t, displaced)
}

func TestRegistry_PairingsAreIsolated(t *testing.T) {
	r := NewRegistry()
	r.Join("p1", crypto.RoleWallet, "w1")
	_, ok := r.Lookup("p2", crypto.RoleWallet)
	require.False(t, ok)
	require.False(t, r.Leave("p2", crypto.RoleWallet, "w1"))
}

func TestPeerRole(t *testing.T) {
	require.Equal(t, crypto.RoleWallet, peerRole(crypto.RoleDapp))
	require.Equal(t, crypto.RoleDapp, peerRole(crypto.RoleWallet))
}

func TestPairingLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newPairingLimiter(1, 2, time.Minute)

	require.True(t, l.Allow("p1", now))
	require.True(t, l.Allow("p1", now))
	require.False(t, l.Allow("p1", now))

	// Other pairings have their own bucket.
	require.True(t, l.Allow("p2", now))

	// One token refills per second.
	require.True(t, l.Allow("p1", now.Add(time.Second)))
	require.Equal(t, 2, l.size())
}

func TestPairingLimiter_DisabledAllowsAll(t *testing.T) {
	l := newPairingLimiter(0, 10, 0)
	require.Nil(t, l)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("p1", time.Now()))
	}
	require.Equal(t, 0, l.size())
}

func TestPairingLimiter_EvictsIdle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newPairingLimiter(100, 100, time.Minute)
	l.Allow("idle", now)

	later := now.Add(time.Hour)
	for i := 0; i < evictEvery; i++ {
		l.Allow("busy", later)
	}
	require.Equal(t, 1, l.size())
}
