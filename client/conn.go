package client

import (
	"encoding/json"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultReconnectDelay is how long a dropped connection waits before
// redialing.
const DefaultReconnectDelay = 3 * time.Second

// Conn owns the websocket to the session server and the engine behind it.
// It redials after transient drops, re-entering the room under the same
// client id so the server upserts the membership instead of duplicating it.
type Conn struct {
	url    string
	engine *Engine
	log    *log.Logger

	reconnectDelay time.Duration

	mut    sync.Mutex
	ws     *websocket.Conn
	closed bool
	done   chan struct{}
}

// Dial connects to a session server, starts the engine and enters the room.
// The returned Conn keeps itself connected until Close.
func Dial(wsURL string, opts Options, player Player, l *log.Logger) (*Conn, error) {
	c := &Conn{
		url:            wsURL,
		log:            l,
		reconnectDelay: DefaultReconnectDelay,
		done:           make(chan struct{}),
	}
	c.engine = NewEngine(opts, player, c.write, l)

	ws, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.setWS(ws)

	c.engine.Start()
	c.engine.Hello()
	go c.readLoop(ws)
	return c, nil
}

// Engine exposes the sync engine for notifications and scheduling.
func (c *Conn) Engine() *Engine { return c.engine }

// Close tears the connection down, stopping the engine, the ping cycle and
// any pending reconnect.
func (c *Conn) Close() error {
	c.mut.Lock()
	if c.closed {
		c.mut.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mut.Unlock()

	close(c.done)
	c.engine.Stop()
	if ws != nil {
		return ws.Close()
	}
	return nil
}

// dial opens the websocket, carrying the auth token as a query parameter
// when one is configured.
func (c *Conn) dial() (*websocket.Conn, error) {
	target := c.url
	if tok := c.engine.opts.AuthToken; tok != "" {
		u, err := url.Parse(c.url)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("token", tok)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	ws, _, err := websocket.DefaultDialer.Dial(target, nil)
	return ws, err
}

func (c *Conn) setWS(ws *websocket.Conn) {
	c.mut.Lock()
	c.ws = ws
	c.mut.Unlock()
}

// write serializes one frame to the socket. Writes are serialized with a
// mutex; gorilla connections do not support concurrent writers.
func (c *Conn) write(m Message) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.ws == nil || c.closed {
		return websocket.ErrCloseSent
	}
	return c.ws.WriteJSON(m)
}

// readLoop pumps inbound frames into the engine until the socket drops,
// then schedules a reconnect.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		c.engine.Deliver(m)
	}

	ws.Close()
	c.reconnect()
}

// reconnect redials after the configured delay until it succeeds or the
// connection is closed, then re-enters the room.
func (c *Conn) reconnect() {
	for {
		select {
		case <-c.done:
			return
		case <-time.After(c.reconnectDelay):
		}

		ws, err := c.dial()
		if err != nil {
			c.log.Printf("reconnect failed: %v", err)
			continue
		}
		c.setWS(ws)
		c.engine.Hello()
		go c.readLoop(ws)
		return
	}
}
