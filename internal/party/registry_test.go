package party

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateRoom(t *testing.T) {
	rg := NewRegistry()

	r, err := rg.CreateRoom("party1", "alice", "", nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", r.Host())
	assert.Equal(t, StatePaused, r.State().PlayState)

	_, err = rg.CreateRoom("party1", "bob", "", nil, 0, 0)
	assert.ErrorIs(t, err, ErrRoomExists)
	assert.Equal(t, 1, rg.RoomCount())
}

func TestRegistryRoomLimit(t *testing.T) {
	rg := NewRegistry()

	_, err := rg.CreateRoom("party1", "alice", "", nil, 0, 1)
	require.NoError(t, err)

	_, err = rg.CreateRoom("party2", "bob", "", nil, 0, 1)
	assert.ErrorIs(t, err, ErrTooManyRooms)
	assert.Equal(t, 1, rg.RoomCount())

	// The limit counts live rooms, not creations.
	rg.RemoveRoom("party1")
	_, err = rg.CreateRoom("party2", "bob", "", nil, 0, 1)
	assert.NoError(t, err)
}

func TestRegistryConnLookup(t *testing.T) {
	rg := NewRegistry()
	r, err := rg.CreateRoom("party1", "alice", "", nil, 0, 0)
	require.NoError(t, err)

	conn := &fakeConn{}
	c, replaced := rg.AddClient(r, "alice", "Alice", conn)
	assert.False(t, replaced)
	assert.Equal(t, c, rg.LookupConn(conn))
	assert.Nil(t, rg.LookupConn(&fakeConn{}))
}

func TestRegistryReconnectUpsert(t *testing.T) {
	rg := NewRegistry()
	r, err := rg.CreateRoom("party1", "alice", "", nil, 0, 0)
	require.NoError(t, err)

	old := &fakeConn{}
	rg.AddClient(r, "alice", "Alice", old)

	fresh := &fakeConn{}
	c, replaced := rg.AddClient(r, "alice", "Alice", fresh)
	assert.True(t, replaced)
	assert.True(t, old.isClosed())
	assert.Equal(t, 1, r.MemberCount())

	// The stale connection no longer resolves to a membership.
	assert.Nil(t, rg.LookupConn(old))
	assert.Equal(t, c, rg.LookupConn(fresh))

	// Removing by the stale connection is a no-op.
	_, _, ok := rg.RemoveClient(old)
	assert.False(t, ok)
	assert.Equal(t, 1, r.MemberCount())

	room, removed, ok := rg.RemoveClient(fresh)
	require.True(t, ok)
	assert.Equal(t, r, room)
	assert.Equal(t, "alice", removed.ID)
	assert.Equal(t, 0, r.MemberCount())
}

func TestRegistryRemoveUnknownConn(t *testing.T) {
	rg := NewRegistry()
	_, _, ok := rg.RemoveClient(&fakeConn{})
	assert.False(t, ok)
}
