package party

import "sync"

// Client is one member of a room: a caller-chosen id, an optional display
// name and the transport the member is reachable on.
type Client struct {
	ID     string
	Name   string
	RoomID string
	conn   Conn
}

// Conn is the transport handle for a connected client. Send queues a single
// serialized frame for delivery and must not block on a slow peer.
type Conn interface {
	Send(frame []byte) error
	Close() error
}

// Room holds the members and the authoritative playback state of one party.
// The member map and playback state are guarded by the room's own mutex so
// traffic in one room never serializes against another.
type Room struct {
	ID       string
	MediaURL string
	Options  map[string]interface{}

	mut     sync.RWMutex
	hostID  string
	state   PlaybackState
	members map[string]*Client
}

func newRoom(id, hostID, mediaURL string, options map[string]interface{}, startPos float64) *Room {
	if options == nil {
		options = map[string]interface{}{}
	}
	return &Room{
		ID:       id,
		MediaURL: mediaURL,
		Options:  options,
		hostID:   hostID,
		state:    PlaybackState{Position: startPos, PlayState: StatePaused},
		members:  make(map[string]*Client),
	}
}

// Host returns the current host's client id.
func (r *Room) Host() string {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.hostID
}

// IsHost reports whether the given client id is the room's current host.
func (r *Room) IsHost(clientID string) bool {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.hostID == clientID
}

// State returns a copy of the room's playback state.
func (r *Room) State() PlaybackState {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.state
}

// SetState overwrites the playback state wholesale.
func (r *Room) SetState(s PlaybackState) {
	r.mut.Lock()
	r.state = s
	r.mut.Unlock()
}

// ApplyAction mutates the playback state for a host player action. Seek
// leaves the play/pause state untouched; play and pause adopt the reported
// position when the event carries one.
func (r *Room) ApplyAction(action string, position *float64) {
	r.mut.Lock()
	defer r.mut.Unlock()
	switch action {
	case ActionPlay:
		r.state.PlayState = StatePlaying
	case ActionPause:
		r.state.PlayState = StatePaused
	case ActionSeek:
	}
	if position != nil && *position >= 0 {
		r.state.Position = *position
	}
}

// addMember upserts a client into the room. Re-adding an existing id
// replaces its connection and reports replaced=true, which supports
// reconnection without inflating the participant count.
func (r *Room) addMember(c *Client) (replaced bool) {
	r.mut.Lock()
	defer r.mut.Unlock()
	_, replaced = r.members[c.ID]
	r.members[c.ID] = c
	return replaced
}

// removeMember drops a member, but only if it still owns the given
// connection. A stale transport that was already replaced by a reconnect
// must not evict the fresh membership.
func (r *Room) removeMember(clientID string, conn Conn) (*Client, bool) {
	r.mut.Lock()
	defer r.mut.Unlock()
	c, ok := r.members[clientID]
	if !ok || (conn != nil && c.conn != conn) {
		return nil, false
	}
	delete(r.members, clientID)
	return c, true
}

// electHost assigns any remaining member as host and returns its id.
// Iteration order is registry-defined; the protocol makes no promise about
// which member succeeds.
func (r *Room) electHost() string {
	r.mut.Lock()
	defer r.mut.Unlock()
	for id := range r.members {
		r.hostID = id
		return id
	}
	return ""
}

// memberByID returns a member record, or nil.
func (r *Room) memberByID(id string) *Client {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.members[id]
}

// MemberCount returns the number of current members.
func (r *Room) MemberCount() int {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return len(r.members)
}

// memberSnapshot returns the current members, excluding the given id.
// Callers send to the snapshot outside the room lock.
func (r *Room) memberSnapshot(excludeID string) []*Client {
	r.mut.RLock()
	defer r.mut.RUnlock()
	out := make([]*Client, 0, len(r.members))
	for id, c := range r.members {
		if id == excludeID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// participants builds the participant list payload fields.
func (r *Room) participants() ([]Participant, int) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	out := make([]Participant, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, Participant{
			ClientID: c.ID,
			Name:     c.Name,
			IsHost:   c.ID == r.hostID,
		})
	}
	return out, len(r.members)
}

// statePayload builds the full room_state payload sent to a client on
// create or join.
func (r *Room) statePayload() roomStatePayload {
	parts, n := r.participants()
	r.mut.RLock()
	defer r.mut.RUnlock()
	return roomStatePayload{
		Room:             r.ID,
		HostID:           r.hostID,
		MediaURL:         r.MediaURL,
		Options:          r.Options,
		State:            r.state,
		Participants:     parts,
		ParticipantCount: n,
	}
}

// participantsPayload builds the participants_update payload.
func (r *Room) participantsPayload() participantsPayload {
	parts, n := r.participants()
	return participantsPayload{Participants: parts, ParticipantCount: n}
}

// requiresInvite reports whether the room was created with the
// require_invite option.
func (r *Room) requiresInvite() bool {
	v, ok := r.Options["require_invite"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
