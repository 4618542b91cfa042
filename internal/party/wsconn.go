package party

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrQueueFull indicates the peer's outbound queue overflowed. The peer is
// too slow to keep up and will be disconnected.
var ErrQueueFull = errors.New("outbound queue full")

// WSConn adapts a gorilla websocket connection to the hub's Conn interface.
// A writer goroutine drains the buffered outbound queue so slow peers never
// block a broadcast.
type WSConn struct {
	ws  *websocket.Conn
	hub *Hub

	dataQ chan []byte
	done  chan struct{}
	once  sync.Once
}

// NewWSConn wraps an upgraded websocket connection.
func NewWSConn(ws *websocket.Conn, hub *Hub) *WSConn {
	return &WSConn{
		ws:    ws,
		hub:   hub,
		dataQ: make(chan []byte, hub.cfg.MaxMessageQueue),
		done:  make(chan struct{}),
	}
}

// Run starts the writer pump and blocks reading inbound frames until the
// connection drops. Disconnection always routes through the hub's
// host-migration path.
func (c *WSConn) Run() {
	go c.runWriter()
	c.runListener()
}

// Send queues a frame for delivery. It never blocks; when the queue is full
// the frame is dropped and the peer torn down.
func (c *WSConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	case c.dataQ <- frame:
		return nil
	default:
		c.Close()
		return ErrQueueFull
	}
}

// Close tears the connection down once. Safe to call from any goroutine.
func (c *WSConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
	return nil
}

// runListener reads inbound frames sequentially, preserving per-connection
// ordering, and hands each to the hub.
func (c *WSConn) runListener() {
	c.ws.SetReadLimit(int64(c.hub.cfg.MaxMessageLen))
	c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
		c.hub.HandleFrame(c, data)
	}

	c.Close()
	c.hub.HandleDisconnect(c)
}

// runWriter writes queued frames to the socket and keeps the connection
// alive with periodic pings.
func (c *WSConn) runWriter() {
	ticker := time.NewTicker(c.hub.cfg.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.writeWS(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.dataQ:
			if err := c.writeWS(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.writeWS(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSConn) writeWS(msgType int, payload []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WSTimeout))
	return c.ws.WriteMessage(msgType, payload)
}
