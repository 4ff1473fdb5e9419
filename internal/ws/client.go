package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pliu/roomchat/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	errClientClosed  = errors.New("client closed")
	errSendQueueFull = errors.New("send queue full")
)

// Client is one live websocket connection. A connection is ready while it
// has not been closed; only ready connections receive broadcasts.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	addr    string
	send    chan []byte
	session *Session
	log     zerolog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, addr string) *Client {
	id := uuid.NewString()
	c := &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		addr: addr,
		send: make(chan []byte, hub.opts.SendBuffer),
		log:  hub.log.With().Str("conn_id", id).Str("remote_addr", addr).Logger(),
		done: make(chan struct{}),
	}
	c.session = newSession(hub, c)
	return c
}

// ServeWs upgrades the request and runs the connection until it closes.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	if !hub.track() {
		conn.Close()
		return
	}

	client := newClient(hub, conn, r.RemoteAddr)
	if err := submit(hub, hub.connect, client); err != nil {
		hub.wg.Done()
		hub.wg.Done()
		conn.Close()
		return
	}

	go func() {
		defer hub.wg.Done()
		client.writePump()
	}()
	go func() {
		defer hub.wg.Done()
		client.readPump()
	}()
}

// enqueue queues msg without blocking.
func (c *Client) enqueue(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendQueueFull
	}
}

func (c *Client) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Client) readPump() {
	defer func() {
		c.session.Close()
		_ = submit(c.hub, c.hub.disconnect, c)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn().Err(err).Msg("setting read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.hub.opts.EventTimeout)
		err = c.session.Handle(ctx, raw)
		cancel()
		c.logEventError(err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.write(websocket.TextMessage, msg) {
				c.close()
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				c.close()
				return
			}
		case <-c.done:
			c.drain()
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes whatever was queued before the client closed.
func (c *Client) drain() {
	for {
		select {
		case msg := <-c.send:
			if !c.write(websocket.TextMessage, msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("websocket write failed")
		}
		return false
	}
	return true
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.hub.opts.MaxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug().Err(err).Msg("client closed connection")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	default:
		c.log.Warn().Err(err).Msg("websocket read error")
	}
}

// logEventError records why an inbound event had no effect. Malformed
// payloads are dropped here; everything else was already reported to the
// client by the session.
func (c *Client) logEventError(err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformedEvent), errors.Is(err, ErrUnknownEventType):
		c.log.Warn().Err(err).Msg("dropping event")
	case errors.Is(err, errNotJoined):
		c.log.Debug().Msg("ignoring event before join")
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrNotFound), errors.Is(err, errNotPermitted):
		c.log.Info().Err(err).Msg("event rejected")
	default:
		c.log.Error().Err(err).Msg("event failed")
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
