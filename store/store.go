package store

import (
	"errors"
	"time"
)

// Store represents a backend store for invite tokens and presence sessions.
// Rooms themselves live only in the in-process registry; nothing here is
// room history.
type Store interface {
	AddInvite(token, roomID string, ttl time.Duration) error
	InviteRoom(token string) (string, error)
	RemoveInvite(token string) error

	AddSession(clientID, roomID string, ttl time.Duration) error
	SessionExists(clientID, roomID string) (bool, error)
	RemoveSession(clientID, roomID string) error
	ClearSessions(roomID string) error
}

// ErrInviteNotFound indicates an unknown or expired invite token.
var ErrInviteNotFound = errors.New("invite not found")
