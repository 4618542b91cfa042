package party

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensyncparty/syncparty/internal/auth"
	"github.com/opensyncparty/syncparty/store"
)

// Config represents the app configuration.
type Config struct {
	Address string `koanf:"address"`
	RootURL string `koanf:"root_url"`
	Name    string `koanf:"name"`

	WSTimeout       time.Duration `koanf:"websocket_timeout"`
	PongTimeout     time.Duration `koanf:"pong_timeout"`
	MaxMessageLen   int           `koanf:"max_message_length"`
	MaxMessageQueue int           `koanf:"max_message_queue"`

	MaxRooms          int `koanf:"max_rooms"`
	MaxClientsPerRoom int `koanf:"max_clients_per_room"`

	InviteTTL    time.Duration `koanf:"invite_ttl"`
	MaxInviteTTL time.Duration `koanf:"max_invite_ttl"`
	SessionTTL   time.Duration `koanf:"session_ttl"`

	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Hub routes inbound protocol frames, owns the session registry and fans
// replies out to room members.
type Hub struct {
	Registry *Registry
	Store    store.Store

	cfg  *Config
	auth auth.Validator
	log  *log.Logger
}

// NewHub returns a new instance of Hub.
func NewHub(cfg *Config, st store.Store, v auth.Validator, l *log.Logger) *Hub {
	return &Hub{
		Registry: NewRegistry(),
		Store:    st,
		cfg:      cfg,
		auth:     v,
		log:      l,
	}
}

// HandleFrame decodes one inbound frame from a connection and dispatches it.
// Undecodable frames and unknown types are dropped without a reply; the
// protocol has no acknowledgment for unrecognized frames.
func (h *Hub) HandleFrame(conn Conn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	switch env.Type {
	case TypeCreateRoom:
		h.handleCreateRoom(conn, &env)
	case TypeJoinRoom:
		h.handleJoinRoom(conn, &env)
	case TypePlayerEvent:
		h.handlePlayerEvent(conn, &env)
	case TypeStateUpdate:
		h.handleStateUpdate(conn, &env)
	case TypePing:
		h.handlePing(conn, &env)
	case TypeCreateInvite:
		h.handleCreateInvite(conn, &env)
	case TypeClientLog:
		h.handleClientLog(conn, &env)
	default:
	}
}

// HandleDisconnect is invoked when a transport closes for any reason. It
// removes the membership and runs host migration so a room is never left
// hostless while members remain.
func (h *Hub) HandleDisconnect(conn Conn) {
	room, c, ok := h.Registry.RemoveClient(conn)
	if !ok {
		return
	}
	if err := h.Store.RemoveSession(c.ID, room.ID); err != nil {
		h.log.Printf("error removing session %s@%s: %v", c.ID, room.ID, err)
	}

	wasHost := room.Host() == c.ID

	if !wasHost {
		h.broadcast(room, makeFrame(TypeClientLeft, room.ID, c.ID, struct{}{}), "")
		h.broadcast(room, makeFrame(TypeParticipants, room.ID, "", room.participantsPayload()), "")
		h.log.Printf("%s left %s (%d left)", c.ID, room.ID, room.MemberCount())
		return
	}

	if room.MemberCount() == 0 {
		h.Registry.RemoveRoom(room.ID)
		if err := h.Store.ClearSessions(room.ID); err != nil {
			h.log.Printf("error clearing sessions for %s: %v", room.ID, err)
		}
		h.log.Printf("removed empty room %s", room.ID)
		return
	}

	next := room.electHost()
	h.broadcast(room, makeFrame(TypeHostChange, room.ID, "", hostChangePayload{HostID: next}), "")
	h.broadcast(room, makeFrame(TypeParticipants, room.ID, "", room.participantsPayload()), "")
	h.log.Printf("host of %s migrated %s -> %s", room.ID, c.ID, next)
}

func (h *Hub) handleCreateRoom(conn Conn, env *Envelope) {
	if env.Room == "" || env.Client == "" {
		return
	}
	var req createRoomPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return
	}
	if !h.authenticate(conn, env.Room, req.AuthToken) {
		return
	}

	room, err := h.Registry.CreateRoom(env.Room, env.Client, req.MediaURL, req.Options, req.StartPos, h.cfg.MaxRooms)
	if errors.Is(err, ErrTooManyRooms) {
		h.sendError(conn, env.Room, "too_many_rooms", "room limit reached")
		return
	}
	if err != nil {
		// Taken room id. No-op at the protocol layer.
		return
	}
	h.addMember(room, env.Client, req.Name, conn)
	h.unicast(conn, makeFrame(TypeRoomState, room.ID, "", room.statePayload()))
	h.log.Printf("%s created room %s", env.Client, room.ID)
}

func (h *Hub) handleJoinRoom(conn Conn, env *Envelope) {
	if env.Room == "" || env.Client == "" {
		return
	}
	var req joinRoomPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return
	}
	room := h.Registry.GetRoom(env.Room)
	if room == nil {
		h.sendError(conn, env.Room, "room_not_found", "room does not exist")
		return
	}
	if !h.authenticate(conn, env.Room, req.AuthToken) {
		return
	}
	if !h.checkInvite(room, env.Client, req.InviteToken) {
		h.sendError(conn, env.Room, "invite_required", "a valid invite token is required")
		return
	}
	if h.cfg.MaxClientsPerRoom > 0 && room.MemberCount() >= h.cfg.MaxClientsPerRoom {
		// A rejoin under an existing id replaces a member and is let through.
		if room.memberByID(env.Client) == nil {
			h.sendError(conn, env.Room, "room_full", "room is full")
			return
		}
	}

	_, replaced := h.addMember(room, env.Client, req.Name, conn)
	h.unicast(conn, makeFrame(TypeRoomState, room.ID, "", room.statePayload()))
	if replaced {
		h.log.Printf("%s rejoined %s", env.Client, room.ID)
		return
	}
	h.broadcast(room, makeFrame(TypeClientJoined, room.ID, env.Client, clientJoinedPayload{Name: req.Name}), env.Client)
	h.broadcast(room, makeFrame(TypeParticipants, room.ID, "", room.participantsPayload()), env.Client)
	h.log.Printf("%s joined %s (%d members)", env.Client, room.ID, room.MemberCount())
}

func (h *Hub) handlePlayerEvent(conn Conn, env *Envelope) {
	room := h.senderRoom(conn, env)
	if room == nil {
		return
	}
	if !room.IsHost(env.Client) {
		h.log.Printf("dropping player_event from non-host %s in %s", env.Client, room.ID)
		return
	}
	var ev playerEventPayload
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return
	}
	switch ev.Action {
	case ActionPlay, ActionPause, ActionSeek:
	default:
		return
	}
	if ev.Position != nil && *ev.Position < 0 {
		return
	}
	room.ApplyAction(ev.Action, ev.Position)
	h.broadcast(room, h.relayFrame(env), "")
}

func (h *Hub) handleStateUpdate(conn Conn, env *Envelope) {
	room := h.senderRoom(conn, env)
	if room == nil {
		return
	}
	if !room.IsHost(env.Client) {
		return
	}
	var su stateUpdatePayload
	if err := json.Unmarshal(env.Payload, &su); err != nil {
		return
	}
	state := room.State()
	if su.Position != nil {
		if *su.Position < 0 {
			return
		}
		state.Position = *su.Position
	}
	if su.PlayState != "" {
		if su.PlayState != StatePlaying && su.PlayState != StatePaused {
			return
		}
		state.PlayState = su.PlayState
	}
	room.SetState(state)
	h.broadcast(room, h.relayFrame(env), "")
}

func (h *Hub) handlePing(conn Conn, env *Envelope) {
	// Echo the original payload; server_ts lets the client estimate its
	// clock offset.
	b, _ := json.Marshal(Envelope{
		Type:     TypePong,
		Room:     env.Room,
		Payload:  env.Payload,
		ServerTS: nowMS(),
	})
	h.unicast(conn, b)
}

func (h *Hub) handleCreateInvite(conn Conn, env *Envelope) {
	room := h.senderRoom(conn, env)
	if room == nil || !room.IsHost(env.Client) {
		return
	}
	var req createInvitePayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return
	}
	ttl := time.Duration(req.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = h.cfg.InviteTTL
	}
	if h.cfg.MaxInviteTTL > 0 && ttl > h.cfg.MaxInviteTTL {
		ttl = h.cfg.MaxInviteTTL
	}

	token := uuid.NewString()
	if err := h.Store.AddInvite(token, room.ID, ttl); err != nil {
		h.log.Printf("error storing invite for %s: %v", room.ID, err)
		h.sendError(conn, room.ID, "invite_failed", "could not create invite")
		return
	}
	h.unicast(conn, makeFrame(TypeInviteCreated, room.ID, "", inviteCreatedPayload{
		InviteToken: token,
		ExpiresIn:   int64(ttl.Seconds()),
	}))
}

func (h *Hub) handleClientLog(conn Conn, env *Envelope) {
	var cl clientLogPayload
	if err := json.Unmarshal(env.Payload, &cl); err != nil {
		return
	}
	h.log.Printf("client %s [%s] %s", env.Client, cl.Category, cl.Message)
}

// broadcast serializes once and fans a frame out to every member of a room
// except excludeID. Sends run concurrently; a failure to one member is
// logged and never aborts delivery to the rest.
func (h *Hub) broadcast(room *Room, frame []byte, excludeID string) {
	members := room.memberSnapshot(excludeID)
	var wg sync.WaitGroup
	for _, c := range members {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := c.conn.Send(frame); err != nil {
				h.log.Printf("dropping frame to %s@%s: %v", c.ID, room.ID, err)
			}
		}(c)
	}
	wg.Wait()
}

// unicast sends a frame to a single connection, swallowing delivery errors.
func (h *Hub) unicast(conn Conn, frame []byte) {
	if err := conn.Send(frame); err != nil {
		h.log.Printf("unicast failed: %v", err)
	}
}

func (h *Hub) sendError(conn Conn, roomID, code, msg string) {
	h.unicast(conn, makeFrame(TypeError, roomID, "", errorPayload{Code: code, Message: msg}))
}

// relayFrame re-serializes a host's frame with the server timestamp stamped,
// leaving the sender's payload and ts untouched.
func (h *Hub) relayFrame(env *Envelope) []byte {
	out := *env
	out.ServerTS = nowMS()
	b, _ := json.Marshal(out)
	return b
}

// senderRoom resolves the room a frame addresses, requiring that the
// sending connection is a current member of it. Frames whose room does not
// match the sender's membership are discarded.
func (h *Hub) senderRoom(conn Conn, env *Envelope) *Room {
	c := h.Registry.LookupConn(conn)
	if c == nil || c.RoomID != env.Room || c.ID != env.Client {
		return nil
	}
	return h.Registry.GetRoom(env.Room)
}

// addMember upserts a member and records its presence session.
func (h *Hub) addMember(room *Room, clientID, name string, conn Conn) (*Client, bool) {
	if name == "" {
		name = "Guest"
	}
	c, replaced := h.Registry.AddClient(room, clientID, name, conn)
	if err := h.Store.AddSession(clientID, room.ID, h.cfg.SessionTTL); err != nil {
		h.log.Printf("error recording session %s@%s: %v", clientID, room.ID, err)
	}
	return c, replaced
}

// authenticate validates the opaque bearer token through the configured
// validator. The hub itself never inspects token contents.
func (h *Hub) authenticate(conn Conn, roomID, token string) bool {
	if _, err := h.auth.Validate(token); err != nil {
		h.log.Printf("rejected frame for %s: %v", roomID, err)
		h.sendError(conn, roomID, "unauthorized", "invalid auth token")
		return false
	}
	return true
}

// checkInvite enforces the require_invite room option. A client with a live
// presence session (transient reconnect) is admitted without a token.
func (h *Hub) checkInvite(room *Room, clientID, token string) bool {
	if !room.requiresInvite() {
		return true
	}
	if ok, err := h.Store.SessionExists(clientID, room.ID); err == nil && ok {
		return true
	}
	roomID, err := h.Store.InviteRoom(token)
	return err == nil && roomID == room.ID
}
