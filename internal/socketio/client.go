package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Path is the default Engine.IO endpoint path.
const Path = "/socket.io/"

const writeWait = 10 * time.Second

var ErrNotConnected = errors.New("socketio: not connected")

// Handler receives the first argument of an event, or the payload of a
// lifecycle event.
type Handler = func(data json.RawMessage)

// Option configures a Conn.
type Option func(*Conn)

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

// WithHeader adds headers to the websocket handshake request.
func WithHeader(h http.Header) Option {
	return func(c *Conn) { c.header = h }
}

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithPath overrides the Engine.IO path.
func WithPath(p string) Option {
	return func(c *Conn) { c.path = p }
}

// Conn is a Socket.IO client connection on the root namespace.
//
// Handlers run on the connection's read goroutine, one at a time, in the
// order events arrive. The disconnect handlers run exactly once per opened
// connection: on the caller's goroutine when Close is called, on the read
// goroutine when the remote end goes away.
type Conn struct {
	gateway string
	path    string
	dialer  *websocket.Dialer
	header  http.Header
	logger  zerolog.Logger

	mu        sync.Mutex
	handlers  map[string][]Handler
	ws        *websocket.Conn
	sid       string
	connected bool

	writeMu sync.Mutex
}

// New creates an unopened connection to the gateway base URL
// (http, https, ws or wss).
func New(gateway string, opts ...Option) *Conn {
	c := &Conn{
		gateway:  gateway,
		path:     Path,
		dialer:   websocket.DefaultDialer,
		logger:   zerolog.Nop(),
		handlers: make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers a handler for event. Lifecycle events are EventConnect,
// EventDisconnect and EventConnectError.
func (c *Conn) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Off removes every handler for event.
func (c *Conn) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// Connected reports whether the namespace handshake has completed on the
// current connection.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SID returns the Engine.IO session id of the current connection.
func (c *Conn) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// dialURL builds the websocket URL for the gateway
func (c *Conn) dialURL() (string, error) {
	u, err := url.Parse(c.gateway)
	if err != nil {
		return "", fmt.Errorf("socketio: invalid gateway url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socketio: unsupported gateway scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + c.path
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Open dials the gateway, reads the Engine.IO open packet and requests the
// root namespace. EventConnect fires once the server acknowledges it.
// Open on an already open connection is a no-op.
func (c *Conn) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	target, err := c.dialURL()
	if err != nil {
		return err
	}

	ws, resp, err := c.dialer.DialContext(ctx, target, c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("socketio: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("socketio: dial failed: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	_, frame, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return fmt.Errorf("socketio: failed to read open packet: %w", err)
	}
	ws.SetReadDeadline(time.Time{})

	if len(frame) == 0 || frame[0] != engineOpen {
		ws.Close()
		return fmt.Errorf("%w: expected open packet, got %q", ErrInvalidPacket, frame)
	}
	var open openPayload
	if err := json.Unmarshal(frame[1:], &open); err != nil {
		ws.Close()
		return fmt.Errorf("%w: open payload: %v", ErrInvalidPacket, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.sid = open.SID
	c.connected = false
	c.mu.Unlock()

	if err := c.write(ws, []byte{engineMessage, '0'}); err != nil {
		c.teardown(ws, "connect write failed")
		return fmt.Errorf("socketio: failed to request namespace: %w", err)
	}

	c.logger.Debug().Str("sid", open.SID).Int("ping_interval_ms", open.PingInterval).Msg("engine.io session opened")

	go c.readPump(ws, open)
	return nil
}

// Emit sends event with payload. A nil payload sends the event without arguments.
func (c *Conn) Emit(event string, payload any) error {
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	return c.write(ws, frame)
}

// Close leaves the namespace and closes the websocket. Closing an unopened
// connection is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}

	// Best effort: the remote may already be gone.
	_ = c.write(ws, []byte{engineMessage, '1'})
	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()

	c.teardown(ws, "io client disconnect")
	return nil
}

func (c *Conn) write(ws *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

// teardown detaches ws and fires the disconnect handlers, once per ws
func (c *Conn) teardown(ws *websocket.Conn, reason string) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.connected = false
	c.mu.Unlock()

	ws.Close()
	c.logger.Debug().Str("reason", reason).Msg("socket.io disconnected")

	payload, _ := json.Marshal(reason)
	c.dispatch(EventDisconnect, payload)
}

// current reports whether ws is still the active connection
func (c *Conn) current(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws == ws
}

func (c *Conn) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[event]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

// readPump reads frames until the connection ends
func (c *Conn) readPump(ws *websocket.Conn, open openPayload) {
	reason := "transport close"
	defer func() {
		c.teardown(ws, reason)
	}()

	// The server pings every pingInterval and expects traffic within
	// pingInterval+pingTimeout.
	var idle time.Duration
	if open.PingInterval > 0 {
		idle = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
		ws.SetReadDeadline(time.Now().Add(idle))
	}

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.current(ws) {
				c.logger.Warn().Err(err).Msg("socket.io read failed")
				reason = "transport error"
			}
			return
		}
		if idle > 0 {
			ws.SetReadDeadline(time.Now().Add(idle))
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case enginePing:
			if err := c.write(ws, []byte{enginePong}); err != nil {
				reason = "ping write failed"
				return
			}
		case engineClose:
			reason = "transport close"
			return
		case engineMessage:
			if !c.handleMessage(ws, frame[1:]) {
				reason = "io server disconnect"
				return
			}
		case engineNoop, enginePong:
		default:
			c.logger.Debug().Bytes("frame", frame).Msg("ignoring engine.io packet")
		}
	}
}

// handleMessage processes one Socket.IO packet and reports whether the
// connection should stay open
func (c *Conn) handleMessage(ws *websocket.Conn, b []byte) bool {
	p, err := DecodePacket(b)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed socket.io packet")
		return true
	}
	if p.Namespace != "/" {
		return true
	}
	if !c.current(ws) {
		return false
	}

	switch p.Type {
	case PacketConnect:
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.dispatch(EventConnect, p.Data)
	case PacketEvent:
		c.dispatch(p.Event, p.Data)
	case PacketConnectError:
		c.dispatch(EventConnectError, p.Data)
		return false
	case PacketDisconnect:
		return false
	}
	return true
}
