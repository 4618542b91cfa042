package mem

import (
	"sync"
	"time"

	"github.com/opensyncparty/syncparty/store"
)

// Config represents the InMemory store config structure.
type Config struct{}

// InMemory represents the in-memory implementation of the Store interface.
type InMemory struct {
	cfg      *Config
	invites  map[string]invite
	sessions map[string]map[string]time.Time
	mu       sync.Mutex
}

type invite struct {
	roomID string
	expire time.Time
}

// New returns a new in-memory store.
func New(cfg Config) (*InMemory, error) {
	s := &InMemory{
		cfg:      &cfg,
		invites:  map[string]invite{},
		sessions: map[string]map[string]time.Time{},
	}
	go s.watch()
	return s, nil
}

// watch the store to clean it up.
func (m *InMemory) watch() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for range t.C {
		m.cleanup()
	}
}

// cleanup removes expired items.
func (m *InMemory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for token, inv := range m.invites {
		if inv.expire.Before(now) {
			delete(m.invites, token)
		}
	}
	for roomID, sess := range m.sessions {
		for clientID, expire := range sess {
			if expire.Before(now) {
				delete(sess, clientID)
			}
		}
		if len(sess) == 0 {
			delete(m.sessions, roomID)
		}
	}
}

// AddInvite stores an invite token for a room.
func (m *InMemory) AddInvite(token, roomID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invites[token] = invite{roomID: roomID, expire: time.Now().Add(ttl)}
	return nil
}

// InviteRoom resolves an invite token to its room.
func (m *InMemory) InviteRoom(token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invites[token]
	if !ok || inv.expire.Before(time.Now()) {
		return "", store.ErrInviteNotFound
	}
	return inv.roomID, nil
}

// RemoveInvite deletes an invite token.
func (m *InMemory) RemoveInvite(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.invites, token)
	return nil
}

// AddSession records a client's presence in a room.
func (m *InMemory) AddSession(clientID, roomID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[roomID]
	if !ok {
		sess = map[string]time.Time{}
		m.sessions[roomID] = sess
	}
	sess[clientID] = time.Now().Add(ttl)
	return nil
}

// SessionExists checks if a client has a live presence session in a room.
func (m *InMemory) SessionExists(clientID, roomID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[roomID]
	if !ok {
		return false, nil
	}
	expire, ok := sess[clientID]
	if !ok || expire.Before(time.Now()) {
		return false, nil
	}
	return true, nil
}

// RemoveSession deletes a client's presence session.
func (m *InMemory) RemoveSession(clientID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[roomID]; ok {
		delete(sess, clientID)
	}
	return nil
}

// ClearSessions deletes all the sessions of a room.
func (m *InMemory) ClearSessions(roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, roomID)
	return nil
}
