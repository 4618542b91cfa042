package party

import (
	"errors"
	"sync"
)

// ErrRoomExists indicates an attempt to create a room under a taken id.
var ErrRoomExists = errors.New("room already exists")

// ErrTooManyRooms indicates the configured room limit has been reached.
var ErrTooManyRooms = errors.New("room limit reached")

// Registry owns the room table and the reverse lookup from transport
// connections to memberships. The registry mutex guards only the two maps;
// per-room state is guarded by each room, keeping broadcast latency in one
// room independent of unrelated rooms.
type Registry struct {
	mut   sync.RWMutex
	rooms map[string]*Room
	conns map[Conn]*Client
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		conns: make(map[Conn]*Client),
	}
}

// CreateRoom creates a room with the given host and initial playback
// position. The state starts paused at startPos. The room limit is enforced
// here, under the registry lock, so concurrent creators cannot overshoot
// it; maxRooms <= 0 disables the limit.
func (rg *Registry) CreateRoom(roomID, hostID, mediaURL string, options map[string]interface{}, startPos float64, maxRooms int) (*Room, error) {
	rg.mut.Lock()
	defer rg.mut.Unlock()
	if _, ok := rg.rooms[roomID]; ok {
		return nil, ErrRoomExists
	}
	if maxRooms > 0 && len(rg.rooms) >= maxRooms {
		return nil, ErrTooManyRooms
	}
	r := newRoom(roomID, hostID, mediaURL, options, startPos)
	rg.rooms[roomID] = r
	return r, nil
}

// GetRoom retrieves a room, or nil when absent.
func (rg *Registry) GetRoom(roomID string) *Room {
	rg.mut.RLock()
	defer rg.mut.RUnlock()
	return rg.rooms[roomID]
}

// RoomCount returns the number of live rooms.
func (rg *Registry) RoomCount() int {
	rg.mut.RLock()
	defer rg.mut.RUnlock()
	return len(rg.rooms)
}

// AddClient adds a client to a room and registers the reverse lookup from
// its connection. Re-adding an existing client id replaces the previous
// connection (reconnect upsert); the stale connection is deregistered and
// closed so its eventual disconnect is a no-op.
func (rg *Registry) AddClient(room *Room, clientID, name string, conn Conn) (*Client, bool) {
	c := &Client{ID: clientID, Name: name, RoomID: room.ID, conn: conn}

	rg.mut.Lock()
	var stale Conn
	room.mut.RLock()
	if prev, ok := room.members[clientID]; ok && prev.conn != conn {
		stale = prev.conn
		delete(rg.conns, prev.conn)
	}
	room.mut.RUnlock()
	rg.conns[conn] = c
	rg.mut.Unlock()

	replaced := room.addMember(c)
	if stale != nil {
		stale.Close()
	}
	return c, replaced
}

// LookupConn returns the membership record for a connection, or nil.
func (rg *Registry) LookupConn(conn Conn) *Client {
	rg.mut.RLock()
	defer rg.mut.RUnlock()
	return rg.conns[conn]
}

// RemoveClient evicts the membership owned by the given connection and
// returns the room and client record for the caller to act on. Connections
// that never joined a room, or that were already replaced by a reconnect,
// yield ok=false.
func (rg *Registry) RemoveClient(conn Conn) (*Room, *Client, bool) {
	rg.mut.Lock()
	c, ok := rg.conns[conn]
	if ok {
		delete(rg.conns, conn)
	}
	rg.mut.Unlock()
	if !ok {
		return nil, nil, false
	}

	room := rg.GetRoom(c.RoomID)
	if room == nil {
		return nil, nil, false
	}
	if _, ok := room.removeMember(c.ID, conn); !ok {
		return nil, nil, false
	}
	return room, c, true
}

// RemoveRoom deletes a room unconditionally.
func (rg *Registry) RemoveRoom(roomID string) {
	rg.mut.Lock()
	delete(rg.rooms, roomID)
	rg.mut.Unlock()
}
