package mem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensyncparty/syncparty/store"
)

func newTestStore(t *testing.T) *InMemory {
	t.Helper()
	s, err := New(Config{})
	require.NoError(t, err)
	return s
}

func TestInvites(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddInvite("tok1", "party1", time.Minute))

	roomID, err := s.InviteRoom("tok1")
	require.NoError(t, err)
	assert.Equal(t, "party1", roomID)

	_, err = s.InviteRoom("nope")
	assert.ErrorIs(t, err, store.ErrInviteNotFound)

	require.NoError(t, s.RemoveInvite("tok1"))
	_, err = s.InviteRoom("tok1")
	assert.ErrorIs(t, err, store.ErrInviteNotFound)
}

func TestInviteExpiry(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddInvite("tok1", "party1", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := s.InviteRoom("tok1")
	assert.ErrorIs(t, err, store.ErrInviteNotFound)

	// The janitor hasn't run yet; expiry is enforced on lookup.
	s.mu.Lock()
	_, held := s.invites["tok1"]
	s.mu.Unlock()
	assert.True(t, held)

	s.cleanup()
	s.mu.Lock()
	_, held = s.invites["tok1"]
	s.mu.Unlock()
	assert.False(t, held)
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddSession("bob", "party1", time.Minute))

	ok, err := s.SessionExists("bob", "party1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SessionExists("bob", "party2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RemoveSession("bob", "party1"))
	ok, err = s.SessionExists("bob", "party1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionExpiry(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddSession("bob", "party1", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	ok, err := s.SessionExists("bob", "party1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearSessions(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddSession("bob", "party1", time.Minute))
	require.NoError(t, s.AddSession("carol", "party1", time.Minute))
	require.NoError(t, s.AddSession("dave", "party2", time.Minute))

	require.NoError(t, s.ClearSessions("party1"))

	for _, clientID := range []string{"bob", "carol"} {
		ok, err := s.SessionExists(clientID, "party1")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := s.SessionExists("dave", "party2")
	require.NoError(t, err)
	assert.True(t, ok)
}
