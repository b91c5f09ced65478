package streamparticles

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alexbotov/streamparticles/internal/socketio"
	"github.com/tidwall/gjson"
)

// Transport is the realtime connection a Client drives. *socketio.Conn
// implements it.
//
// Handlers must be invoked one at a time in arrival order. The "connect"
// lifecycle event fires when the connection is ready for events and
// "disconnect" fires once whenever an opened connection ends, whoever closed it.
type Transport interface {
	On(event string, handler func(data json.RawMessage))
	Emit(event string, payload any) error
	Open(ctx context.Context) error
	Close() error
}

// handshake is the completion signal of one connect-and-authenticate attempt
type handshake struct {
	done          chan struct{}
	authenticated chan struct{}
	once          sync.Once
	err           error
}

func newHandshake() *handshake {
	return &handshake{
		done:          make(chan struct{}),
		authenticated: make(chan struct{}),
	}
}

// resolve completes the handshake; only the first call has an effect
func (h *handshake) resolve(err error) {
	h.once.Do(func() {
		h.err = err
		if err == nil {
			close(h.authenticated)
		}
		close(h.done)
	})
}

func (h *handshake) resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// bindLifecycle registers the transport handlers. They are method values
// bound to c, so state changes always land on the owning client.
func (c *Client) bindLifecycle() {
	c.transport.On(socketio.EventConnect, c.handleConnect)
	c.transport.On(EventAuthenticated, c.handleAuthenticated)
	c.transport.On(EventUnauthorized, c.handleUnauthorized)
	c.transport.On(socketio.EventConnectError, c.handleConnectError)
	c.transport.On(socketio.EventDisconnect, c.handleDisconnect)
}

// State returns the realtime connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authenticated returns a channel closed once the current handshake
// succeeds. Before the first ConnectSocket call it returns nil.
func (c *Client) Authenticated() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handshake == nil {
		return nil
	}
	return c.handshake.authenticated
}

// ConnectSocket opens the realtime connection and authenticates with the
// API key and herotag. It returns once the server acknowledges the
// credentials, or fails when ctx ends, the handshake timeout elapses, the
// server refuses the credentials or the connection drops first. A failed
// handshake closes the connection and leaves the client disconnected.
//
// A call made while another handshake is pending waits for that handshake.
// Its ctx only bounds its own wait.
func (c *Client) ConnectSocket(ctx context.Context) error {
	if c.transport == nil {
		return ErrSocketDisabled
	}

	c.mu.Lock()
	switch c.state {
	case StateAuthenticated:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateAuthenticating:
		if hs := c.handshake; hs != nil && !hs.resolved() {
			c.mu.Unlock()
			return c.join(ctx, hs)
		}
	}
	hs := newHandshake()
	c.handshake = hs
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Debug().Msg("opening realtime connection")

	if err := c.transport.Open(ctx); err != nil {
		c.settle(hs, err)
		return fmt.Errorf("streamparticles: failed to open socket: %w", err)
	}

	return c.await(ctx, hs)
}

// await waits for the handshake this caller opened and cancels it when ctx
// ends or the timeout elapses
func (c *Client) await(ctx context.Context, hs *handshake) error {
	timeout, stop := c.handshakeTimer()
	defer stop()

	select {
	case <-hs.done:
		return c.settle(hs, nil)
	case <-ctx.Done():
		return c.settle(hs, ctx.Err())
	case <-timeout:
		return c.settle(hs, ErrHandshakeTimeout)
	}
}

// join waits for a handshake opened by another caller without ever
// cancelling it
func (c *Client) join(ctx context.Context, hs *handshake) error {
	timeout, stop := c.handshakeTimer()
	defer stop()

	select {
	case <-hs.done:
		return hs.err
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return ErrHandshakeTimeout
	}
}

func (c *Client) handshakeTimer() (<-chan time.Time, func()) {
	if c.handshakeTimeout <= 0 {
		return nil, func() {}
	}
	timer := time.NewTimer(c.handshakeTimeout)
	return timer.C, func() { timer.Stop() }
}

// settle resolves hs with err unless it already completed and returns its
// outcome. The outcome is decided under c.mu, so an acknowledgement racing
// a timeout either wins and the connection stays up, or loses and is
// ignored. A failed handshake that is still current moves the client to
// StateDisconnected and closes the connection.
func (c *Client) settle(hs *handshake, err error) error {
	c.mu.Lock()
	hs.resolve(err)
	err = hs.err
	abandon := err != nil && c.handshake == hs && c.state != StateDisconnected
	if abandon {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if abandon {
		c.logger.Warn().Err(err).Msg("realtime authentication did not complete, closing connection")
		_ = c.transport.Close()
	}
	return err
}

// OnDonation registers react for every donation received on the current
// connection, in arrival order. The socket must be authenticated.
func (c *Client) OnDonation(react func(data TransactionData)) error {
	if c.transport == nil {
		return ErrSocketDisabled
	}
	if c.State() != StateAuthenticated {
		return ErrNotAuthenticated
	}

	c.transport.On(EventDonation, func(data json.RawMessage) {
		react(TransactionData(data))
	})
	return nil
}

// DisconnectSocket closes the realtime connection. A later ConnectSocket
// authenticates again.
func (c *Client) DisconnectSocket() error {
	if c.transport == nil {
		return ErrSocketDisabled
	}
	return c.transport.Close()
}

func (c *Client) handleConnect(json.RawMessage) {
	c.mu.Lock()
	c.state = StateAuthenticating
	hs := c.handshake
	c.mu.Unlock()

	c.logger.Debug().Msg("realtime connection established, authenticating")

	err := c.transport.Emit(EventAuthentication, Credentials{
		APIKey:  c.apiKey,
		Herotag: c.herotag,
	})
	if err != nil && hs != nil {
		c.mu.Lock()
		hs.resolve(fmt.Errorf("streamparticles: failed to send credentials: %w", err))
		c.mu.Unlock()
	}
}

func (c *Client) handleAuthenticated(json.RawMessage) {
	c.mu.Lock()
	if c.state != StateAuthenticating || c.handshake == nil || c.handshake.resolved() {
		c.mu.Unlock()
		return
	}
	c.state = StateAuthenticated
	c.handshake.resolve(nil)
	c.mu.Unlock()

	c.logger.Info().Msg("realtime connection authenticated")
}

func (c *Client) handleUnauthorized(data json.RawMessage) {
	c.mu.Lock()
	hs := c.handshake
	pending := c.state == StateAuthenticating && hs != nil && !hs.resolved()
	if pending {
		hs.resolve(fmt.Errorf("%w: %s", ErrUnauthorized, remoteMessage(data)))
	}
	c.mu.Unlock()

	c.logger.Warn().RawJSON("reason", nonEmptyJSON(data)).Msg("realtime credentials refused")
}

func (c *Client) handleConnectError(data json.RawMessage) {
	c.mu.Lock()
	c.state = StateDisconnected
	if c.handshake != nil {
		c.handshake.resolve(fmt.Errorf("%w: %s", ErrConnectRejected, data))
	}
	c.mu.Unlock()

	c.logger.Warn().RawJSON("reason", nonEmptyJSON(data)).Msg("realtime connection rejected")
}

func (c *Client) handleDisconnect(data json.RawMessage) {
	c.mu.Lock()
	prev := c.state
	c.state = StateDisconnected
	if c.handshake != nil {
		c.handshake.resolve(ErrSocketClosed)
	}
	c.mu.Unlock()

	c.logger.Info().Str("previous_state", prev.String()).RawJSON("reason", nonEmptyJSON(data)).Msg("realtime connection closed")
}

// remoteMessage extracts the "message" field of an error payload, falling
// back to the raw payload
func remoteMessage(data json.RawMessage) string {
	if msg := gjson.GetBytes(data, "message"); msg.Type == gjson.String {
		return msg.String()
	}
	return string(data)
}

func nonEmptyJSON(data json.RawMessage) []byte {
	if len(data) == 0 {
		return []byte("null")
	}
	return data
}
