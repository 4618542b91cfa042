package party

import (
	"encoding/json"
	"time"
)

// Types of messages carried on the wire.
const (
	TypeCreateRoom    = "create_room"
	TypeJoinRoom      = "join_room"
	TypePlayerEvent   = "player_event"
	TypeStateUpdate   = "state_update"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeRoomState     = "room_state"
	TypeParticipants  = "participants_update"
	TypeHostChange    = "host_change"
	TypeClientJoined  = "client_joined"
	TypeClientLeft    = "client_left"
	TypeCreateInvite  = "create_invite"
	TypeInviteCreated = "invite_created"
	TypeClientLog     = "client_log"
	TypeError         = "error"
)

// Player event actions.
const (
	ActionPlay  = "play"
	ActionPause = "pause"
	ActionSeek  = "seek"
)

// Playback states.
const (
	StatePlaying = "playing"
	StatePaused  = "paused"
)

// Envelope is the wire frame every message travels in. Payload stays raw
// until the type is known. ServerTS is stamped by the server on every frame
// it sends or relays; clients use it for drift compensation.
type Envelope struct {
	Type     string          `json:"type"`
	Room     string          `json:"room,omitempty"`
	Client   string          `json:"client,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	TS       int64           `json:"ts,omitempty"`
	ServerTS int64           `json:"server_ts,omitempty"`
}

// PlaybackState is the room's authoritative playback position and state.
type PlaybackState struct {
	Position  float64 `json:"position"`
	PlayState string  `json:"play_state"`
}

// Participant describes one room member in outbound payloads.
type Participant struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name,omitempty"`
	IsHost   bool   `json:"is_host"`
}

type createRoomPayload struct {
	MediaURL  string                 `json:"media_url"`
	StartPos  float64                `json:"start_pos"`
	Name      string                 `json:"name"`
	Options   map[string]interface{} `json:"options"`
	AuthToken string                 `json:"auth_token"`
}

type joinRoomPayload struct {
	Name        string `json:"name"`
	AuthToken   string `json:"auth_token"`
	InviteToken string `json:"invite_token"`
}

type playerEventPayload struct {
	Action   string   `json:"action"`
	Position *float64 `json:"position,omitempty"`
}

type stateUpdatePayload struct {
	Position  *float64 `json:"position,omitempty"`
	PlayState string   `json:"play_state,omitempty"`
}

type pingPayload struct {
	ClientTS int64 `json:"client_ts"`
}

type createInvitePayload struct {
	ExpiresIn int64 `json:"expires_in"`
}

type clientLogPayload struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

type roomStatePayload struct {
	Room             string                 `json:"room"`
	HostID           string                 `json:"host_id"`
	MediaURL         string                 `json:"media_url"`
	Options          map[string]interface{} `json:"options"`
	State            PlaybackState          `json:"state"`
	Participants     []Participant          `json:"participants"`
	ParticipantCount int                    `json:"participant_count"`
}

type participantsPayload struct {
	Participants     []Participant `json:"participants"`
	ParticipantCount int           `json:"participant_count"`
}

type hostChangePayload struct {
	HostID string `json:"host_id"`
}

type clientJoinedPayload struct {
	Name string `json:"name,omitempty"`
}

type inviteCreatedPayload struct {
	InviteToken string `json:"invite_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// nowMS returns the current wall clock in milliseconds since the epoch.
func nowMS() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// makeFrame prepares an outbound frame with the server timestamp stamped.
func makeFrame(typ, roomID, clientID string, payload interface{}) []byte {
	p, _ := json.Marshal(payload)
	b, _ := json.Marshal(Envelope{
		Type:     typ,
		Room:     roomID,
		Client:   clientID,
		Payload:  p,
		ServerTS: nowMS(),
	})
	return b
}
