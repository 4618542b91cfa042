package client

import (
	"encoding/json"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Defaults for Options fields left zero.
const (
	DefaultSuppressWindow = 500 * time.Millisecond
	DefaultPingInterval   = 3 * time.Second
	DefaultSyncLead       = 100 * time.Millisecond
	DefaultHeartbeatDrift = 2.0
	DefaultEventDrift     = 1.0
)

// Options configures an Engine.
type Options struct {
	Room     string
	ClientID string
	Name     string

	// Host makes this client create the room and author playback events.
	Host     bool
	MediaURL string
	StartPos float64

	AuthToken   string
	InviteToken string

	// FollowHost controls whether remote state is applied to the local
	// player. Defaults to true for non-hosts.
	FollowHost *bool

	// SuppressWindow is how long locally observed player events are
	// swallowed after the engine itself corrects the player.
	SuppressWindow time.Duration

	// HeartbeatDrift is the seek threshold in seconds for periodic
	// state_update reports; EventDrift the tighter threshold for one-shot
	// events and the initial room_state.
	HeartbeatDrift float64
	EventDrift     float64

	// SyncLead is a small constant added to the projected position to
	// compensate for scheduling and seek latency.
	SyncLead time.Duration

	PingInterval time.Duration
}

// Notify carries optional hooks the embedding application can set to observe
// room activity. All hooks fire on the engine's event loop.
type Notify struct {
	OnLatency      func(rttMS int64)
	OnHostChange   func(hostID string)
	OnParticipants func(parts []Participant, count int)
	OnInvite       func(token string, expiresIn int64)
	OnError        func(code, message string)
}

type event struct {
	msg    *Message
	player *PlayerEvent
	fn     func()
}

// Engine reconciles the local player against the room's playback state. It
// is single-threaded: protocol messages, local player events and scheduled
// actions are all consumed from one queue by the run loop, so no two
// corrections ever race.
type Engine struct {
	opts   Options
	player Player
	notify Notify
	send   func(Message) error
	log    *log.Logger

	queue    chan event
	done     chan struct{}
	stopOnce sync.Once

	// Published values readable from any goroutine.
	latency atomic.Int64
	offset  atomic.Int64
	entered atomic.Bool

	// State below is owned by the run loop.
	isHost        bool
	hostID        string
	followHost    bool
	suppressUntil time.Time
	inflight      int
	offsetMS      float64
	offsetInit    bool
	pending       *time.Timer
	pendingSeq    int

	now func() time.Time
}

// NewEngine returns an Engine wired to the given player and outbound sink.
// A zero ClientID gets a generated one.
func NewEngine(opts Options, p Player, send func(Message) error, l *log.Logger) *Engine {
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.Name == "" {
		opts.Name = "Guest"
	}
	if opts.SuppressWindow <= 0 {
		opts.SuppressWindow = DefaultSuppressWindow
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.SyncLead <= 0 {
		opts.SyncLead = DefaultSyncLead
	}
	if opts.HeartbeatDrift <= 0 {
		opts.HeartbeatDrift = DefaultHeartbeatDrift
	}
	if opts.EventDrift <= 0 {
		opts.EventDrift = DefaultEventDrift
	}

	follow := !opts.Host
	if opts.FollowHost != nil {
		follow = *opts.FollowHost
	}
	return &Engine{
		opts:       opts,
		player:     p,
		send:       send,
		log:        l,
		queue:      make(chan event, 64),
		done:       make(chan struct{}),
		isHost:     opts.Host,
		followHost: follow,
		now:        time.Now,
	}
}

// ClientID returns the engine's (possibly generated) client id.
func (e *Engine) ClientID() string { return e.opts.ClientID }

// SetNotify installs observer hooks. Call before Start.
func (e *Engine) SetNotify(n Notify) { e.notify = n }

// Start launches the engine's event loop.
func (e *Engine) Start() {
	go e.run()
}

// Stop terminates the event loop and cancels the ping cycle and any pending
// scheduled action. Safe to call from any goroutine, any number of times.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

// Deliver hands a decoded inbound protocol message to the engine.
func (e *Engine) Deliver(m Message) {
	e.enqueue(event{msg: &m})
}

// PlayerChanged reports a locally observed player action.
func (e *Engine) PlayerChanged(ev PlayerEvent) {
	e.enqueue(event{player: &ev})
}

func (e *Engine) enqueue(ev event) {
	select {
	case e.queue <- ev:
	case <-e.done:
	default:
		e.log.Printf("sync engine queue full, dropping event")
	}
}

func (e *Engine) run() {
	ping := time.NewTicker(e.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-e.done:
			if e.pending != nil {
				e.pending.Stop()
			}
			return
		case ev := <-e.queue:
			switch {
			case ev.msg != nil:
				e.handleMessage(ev.msg)
			case ev.player != nil:
				e.handleLocalEvent(*ev.player)
			case ev.fn != nil:
				ev.fn()
			}
		case <-ping.C:
			e.sendMsg(TypePing, pingPayload{ClientTS: e.nowMS()})
		}
	}
}

// Hello emits the room entry message: create_room on a hosting client's
// first entry, join_room otherwise. The connection calls this after every
// (re)connect; the server treats a re-join under the same client id as an
// upsert. A host that has already been in the room re-enters through
// join_room: its old room still exists, possibly under a migrated host,
// and create_room against it would be a silent no-op.
func (e *Engine) Hello() {
	if e.opts.Host && !e.entered.Load() {
		e.sendMsg(TypeCreateRoom, createRoomPayload{
			MediaURL:  e.opts.MediaURL,
			StartPos:  e.opts.StartPos,
			Name:      e.opts.Name,
			Options:   map[string]interface{}{"free_play": false},
			AuthToken: e.opts.AuthToken,
		})
		return
	}
	e.sendMsg(TypeJoinRoom, joinRoomPayload{
		Name:        e.opts.Name,
		AuthToken:   e.opts.AuthToken,
		InviteToken: e.opts.InviteToken,
	})
}

// RequestInvite asks the server to mint an invite token for the room.
func (e *Engine) RequestInvite(expiresIn int64) {
	e.sendMsg(TypeCreateInvite, map[string]int64{"expires_in": expiresIn})
}

func (e *Engine) handleMessage(m *Message) {
	// Frames for another room are discarded; room scoping is asserted by
	// the sender and verified here.
	if m.Room != "" && m.Room != e.opts.Room {
		return
	}

	switch m.Type {
	case TypePong:
		e.handlePong(m)
	case TypeRoomState:
		e.handleRoomState(m)
	case TypeHostChange:
		var p hostChangePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return
		}
		e.setHost(p.HostID)
	case TypePlayerEvent:
		e.handlePlayerEvent(m)
	case TypeStateUpdate:
		e.handleStateUpdate(m)
	case TypeParticipants:
		var p participantsPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return
		}
		if e.notify.OnParticipants != nil {
			e.notify.OnParticipants(p.Participants, p.ParticipantCount)
		}
	case TypeInviteCreated:
		var p inviteCreatedPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return
		}
		if e.notify.OnInvite != nil {
			e.notify.OnInvite(p.InviteToken, p.ExpiresIn)
		}
	case TypeError:
		var p errorPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return
		}
		e.log.Printf("server error %s: %s", p.Code, p.Message)
		if e.notify.OnError != nil {
			e.notify.OnError(p.Code, p.Message)
		}
		// A hosting client rejoining a room that vanished while it was
		// away (it was the only member) recreates it.
		if p.Code == "room_not_found" && e.opts.Host {
			e.entered.Store(false)
			e.Hello()
		}
	}
}

// handlePong closes the ping round trip: it measures latency and refines the
// server clock offset estimate from server_ts and half the round trip. A
// host answers each pong with a state_update heartbeat.
func (e *Engine) handlePong(m *Message) {
	var p pingPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil || p.ClientTS == 0 {
		return
	}
	now := e.nowMS()
	rtt := now - p.ClientTS
	if rtt < 0 {
		rtt = 0
	}
	e.latency.Store(rtt)

	if m.ServerTS > 0 {
		sample := float64(m.ServerTS) + float64(rtt)/2 - float64(now)
		if !e.offsetInit {
			e.offsetMS = sample
			e.offsetInit = true
		} else {
			e.offsetMS += (sample - e.offsetMS) / 8
		}
		e.offset.Store(int64(e.offsetMS))
	}
	if e.notify.OnLatency != nil {
		e.notify.OnLatency(rtt)
	}

	if e.isHost {
		pos := e.player.Position()
		ps := StatePaused
		if e.player.Playing() {
			ps = StatePlaying
		}
		e.sendMsg(TypeStateUpdate, stateUpdatePayload{Position: &pos, PlayState: ps})
	}
}

func (e *Engine) handleRoomState(m *Message) {
	var p roomStatePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return
	}
	e.entered.Store(true)
	e.setHost(p.HostID)
	if e.notify.OnParticipants != nil {
		e.notify.OnParticipants(p.Participants, p.ParticipantCount)
	}
	if e.isHost || !e.followHost {
		return
	}

	// Joining mid-play: snap to the projected position once.
	target := p.State.Position
	if p.State.PlayState == StatePlaying && m.ServerTS > 0 {
		target = e.AdjustedPosition(target, m.ServerTS)
	}
	e.maybeSeek(target, e.opts.EventDrift)
}

// handlePlayerEvent applies a one-shot host action. These follow the host
// precisely, so the tighter EventDrift threshold applies to seeks.
func (e *Engine) handlePlayerEvent(m *Message) {
	if m.Client == e.opts.ClientID || !e.followHost {
		return
	}
	var p playerEventPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return
	}

	switch p.Action {
	case ActionPlay:
		if !e.player.Playing() {
			e.correct(e.player.Play)
		}
	case ActionPause:
		if e.player.Playing() {
			e.correct(e.player.Pause)
		}
	case ActionSeek:
		if p.Position == nil {
			return
		}
		target := *p.Position
		if e.player.Playing() && m.ServerTS > 0 {
			target = e.AdjustedPosition(target, m.ServerTS)
		}
		e.maybeSeek(target, e.opts.EventDrift)
	}
}

// handleStateUpdate applies a periodic heartbeat. Position corrections use
// the coarse HeartbeatDrift threshold to avoid constant micro-seeking;
// play/pause disagreement is corrected unconditionally.
func (e *Engine) handleStateUpdate(m *Message) {
	if m.Client == e.opts.ClientID || !e.followHost {
		return
	}
	var p stateUpdatePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return
	}

	if p.Position != nil {
		target := *p.Position
		if p.PlayState == StatePlaying && m.ServerTS > 0 {
			target = e.AdjustedPosition(target, m.ServerTS)
		}
		e.maybeSeek(target, e.opts.HeartbeatDrift)
	}

	switch p.PlayState {
	case StatePlaying:
		if !e.player.Playing() {
			e.correct(e.player.Play)
		}
	case StatePaused:
		if e.player.Playing() {
			e.correct(e.player.Pause)
		}
	}
}

// handleLocalEvent processes a player action observed locally. Actions the
// engine itself caused are swallowed; a host's genuine actions are
// re-broadcast to the room.
func (e *Engine) handleLocalEvent(ev PlayerEvent) {
	if !e.shouldSend() {
		return
	}
	if !e.isHost {
		return
	}
	pos := ev.Position
	e.sendMsg(TypePlayerEvent, playerEventPayload{Action: ev.Action, Position: &pos})
}

// setHost adopts a new host id, updating this client's role.
func (e *Engine) setHost(hostID string) {
	if hostID == e.hostID {
		e.isHost = hostID == e.opts.ClientID
		return
	}
	e.hostID = hostID
	e.isHost = hostID == e.opts.ClientID
	if e.notify.OnHostChange != nil {
		e.notify.OnHostChange(hostID)
	}
}

// maybeSeek issues a suppressed corrective seek when the drift between the
// local position and target exceeds the threshold.
func (e *Engine) maybeSeek(target, threshold float64) bool {
	if math.Abs(e.player.Position()-target) <= threshold {
		return false
	}
	e.correct(func() { e.player.Seek(target) })
	return true
}

// correct applies a player mutation caused by sync rather than by the user.
// It opens the suppression window and marks one correction in flight so the
// event the player fires back is swallowed even if it arrives after the
// window has lapsed.
func (e *Engine) correct(fn func()) {
	e.suppressUntil = e.now().Add(e.opts.SuppressWindow)
	e.inflight++
	fn()
}

// shouldSend decides whether a locally observed player event is genuine.
// Each in-flight correction absorbs exactly one event; the wall-clock window
// covers event storms a single correction can cause (a seek firing both
// "seeking" and "seeked").
func (e *Engine) shouldSend() bool {
	if e.inflight > 0 {
		e.inflight--
		return false
	}
	return !e.now().Before(e.suppressUntil)
}

// ServerNow returns the estimated current server clock in milliseconds.
// Safe to call from any goroutine.
func (e *Engine) ServerNow() int64 {
	return e.nowMS() + e.offset.Load()
}

// AdjustedPosition projects a reported position forward by the time elapsed
// since the server stamped it, plus the configured lead bias.
func (e *Engine) AdjustedPosition(pos float64, serverTS int64) float64 {
	elapsed := e.ServerNow() - serverTS
	if elapsed < 0 {
		elapsed = 0
	}
	lead := float64(e.opts.SyncLead.Milliseconds())
	return pos + (float64(elapsed)+lead)/1000
}

// Latency returns the last measured round-trip time in milliseconds. Safe
// to call from any goroutine.
func (e *Engine) Latency() int64 { return e.latency.Load() }

// ScheduleAt runs fn once the server-adjusted clock reaches serverTS. Only
// one action can be outstanding; scheduling replaces and cancels the
// previous one. fn executes on the engine's event loop. Safe to call from
// any goroutine; the timer itself is installed on the event loop.
func (e *Engine) ScheduleAt(serverTS int64, fn func()) {
	e.enqueue(event{fn: func() { e.scheduleAt(serverTS, fn) }})
}

// scheduleAt runs on the event loop. pendingSeq invalidates a replaced
// timer's event even when it fired before the replacement stopped it.
func (e *Engine) scheduleAt(serverTS int64, fn func()) {
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
	e.pendingSeq++

	delay := time.Duration(serverTS-e.ServerNow()) * time.Millisecond
	if delay <= 0 {
		fn()
		return
	}
	seq := e.pendingSeq
	e.pending = time.AfterFunc(delay, func() {
		e.enqueue(event{fn: func() {
			if seq != e.pendingSeq {
				return
			}
			e.pending = nil
			fn()
		}})
	})
}

func (e *Engine) sendMsg(typ string, payload interface{}) {
	if e.send == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	m := Message{
		Type:    typ,
		Room:    e.opts.Room,
		Client:  e.opts.ClientID,
		Payload: b,
		TS:      e.nowMS(),
	}
	if err := e.send(m); err != nil {
		e.log.Printf("error sending %s: %v", typ, err)
	}
}

func (e *Engine) nowMS() int64 {
	return e.now().UnixNano() / int64(time.Millisecond)
}
