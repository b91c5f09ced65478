package streamparticles

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSocketClient(t *testing.T, transport Transport, opts ...Option) *Client {
	t.Helper()

	opts = append([]Option{WithTransport(transport)}, opts...)
	client, err := NewClient(testHerotag, testAPIKey, opts...)
	require.NoError(t, err)
	return client
}

func waitState(t *testing.T, c *Client, want ConnState) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, time.Second, 5*time.Millisecond,
		"state never reached %s, last %s", want, c.State())
}

func TestConnectSocket_Handshake(t *testing.T) {
	transport := newFakeTransport()
	client := newSocketClient(t, transport)

	done := make(chan error, 1)
	go func() {
		done <- client.ConnectSocket(context.Background())
	}()

	waitState(t, client, StateConnecting)
	assert.ErrorIs(t, client.OnDonation(func(TransactionData) {}), ErrNotAuthenticated)

	transport.fire("connect", nil)
	waitState(t, client, StateAuthenticating)

	events := transport.emittedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventAuthentication, events[0].event)
	payload, err := json.Marshal(events[0].payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"apiKey":"test-api-key","herotag":"erd-streamer"}`, string(payload))

	select {
	case err := <-done:
		t.Fatalf("ConnectSocket returned before authentication: %v", err)
	default:
	}

	transport.fire(EventAuthenticated, nil)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConnectSocket did not return after authentication")
	}

	assert.Equal(t, StateAuthenticated, client.State())
	select {
	case <-client.Authenticated():
	default:
		t.Fatal("authenticated signal not closed")
	}
}

func TestOnDonation_BeforeAuthentication(t *testing.T) {
	transport := newFakeTransport()
	client := newSocketClient(t, transport)

	err := client.OnDonation(func(TransactionData) {})

	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Zero(t, transport.handlerCount(EventDonation))
}

func TestOnDonation_DeliversInOrder(t *testing.T) {
	transport := newAuthenticatingTransport()
	client := newSocketClient(t, transport)
	require.NoError(t, client.ConnectSocket(context.Background()))

	var got []string
	require.NoError(t, client.OnDonation(func(d TransactionData) {
		got = append(got, d.Get("id").String())
	}))
	assert.Equal(t, 1, transport.handlerCount(EventDonation))

	for _, id := range []string{"a", "b", "a", "c"} {
		transport.fire(EventDonation, json.RawMessage(`{"id":"`+id+`"}`))
	}

	assert.Equal(t, []string{"a", "b", "a", "c"}, got)
}

func TestOnDonation_PayloadUntouched(t *testing.T) {
	transport := newAuthenticatingTransport()
	client := newSocketClient(t, transport)
	require.NoError(t, client.ConnectSocket(context.Background()))

	raw := json.RawMessage(`{"amount": "0.5",  "extra":[1,2,{"x":null}]}`)
	var got TransactionData
	require.NoError(t, client.OnDonation(func(d TransactionData) { got = d }))

	transport.fire(EventDonation, raw)
	assert.Equal(t, string(raw), string(got))
}

func TestDisconnect_ResetsAuthentication(t *testing.T) {
	transport := newAuthenticatingTransport()
	client := newSocketClient(t, transport)

	require.NoError(t, client.ConnectSocket(context.Background()))
	require.Equal(t, StateAuthenticated, client.State())

	require.NoError(t, client.DisconnectSocket())
	assert.Equal(t, StateDisconnected, client.State())
	assert.ErrorIs(t, client.OnDonation(func(TransactionData) {}), ErrNotAuthenticated)

	// Reconnecting runs the handshake again.
	require.NoError(t, client.ConnectSocket(context.Background()))
	assert.Equal(t, StateAuthenticated, client.State())
	assert.Equal(t, 2, transport.openCount())
	assert.Len(t, transport.emittedEvents(), 2)
	assert.NoError(t, client.OnDonation(func(TransactionData) {}))
}

func TestDisconnect_Remote(t *testing.T) {
	transport := newAuthenticatingTransport()
	client := newSocketClient(t, transport)
	require.NoError(t, client.ConnectSocket(context.Background()))

	transport.dropRemote()

	assert.Equal(t, StateDisconnected, client.State())
	assert.ErrorIs(t, client.OnDonation(func(TransactionData) {}), ErrNotAuthenticated)
}

func TestConnectSocket_AlreadyAuthenticated(t *testing.T) {
	transport := newAuthenticatingTransport()
	client := newSocketClient(t, transport)

	require.NoError(t, client.ConnectSocket(context.Background()))
	require.NoError(t, client.ConnectSocket(context.Background()))

	assert.Equal(t, 1, transport.openCount())
}

func TestSocketDisabled(t *testing.T) {
	transport := newAuthenticatingTransport()
	client, err := NewClient(testHerotag, testAPIKey, WithSocket(false), WithTransport(transport))
	require.NoError(t, err)

	assert.ErrorIs(t, client.ConnectSocket(context.Background()), ErrSocketDisabled)
	assert.ErrorIs(t, client.OnDonation(func(TransactionData) {}), ErrSocketDisabled)
	assert.ErrorIs(t, client.DisconnectSocket(), ErrSocketDisabled)
	assert.Contains(t, ErrSocketDisabled.Error(), "not enabled")

	assert.Zero(t, transport.openCount())
	assert.Equal(t, StateUnconfigured, client.State())
}

func TestConnectSocket_HandshakeTimeout(t *testing.T) {
	transport := newFakeTransport()
	transport.onOpen = func(f *fakeTransport) { f.fire("connect", nil) }
	client := newSocketClient(t, transport, WithHandshakeTimeout(50*time.Millisecond))

	err := client.ConnectSocket(context.Background())

	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, StateDisconnected, client.State())
	assert.Equal(t, 1, transport.closes)
}

func TestConnectSocket_ContextCanceled(t *testing.T) {
	transport := newFakeTransport()
	client := newSocketClient(t, transport, WithHandshakeTimeout(0))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := client.ConnectSocket(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestConnectSocket_ClosedDuringHandshake(t *testing.T) {
	transport := newFakeTransport()
	transport.onOpen = func(f *fakeTransport) { f.fire("connect", nil) }
	transport.onEmit = func(f *fakeTransport, event string, _ any) {
		if event == EventAuthentication {
			f.dropRemote()
		}
	}
	client := newSocketClient(t, transport)

	err := client.ConnectSocket(context.Background())

	assert.ErrorIs(t, err, ErrSocketClosed)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestConnectSocket_OpenError(t *testing.T) {
	transport := newFakeTransport()
	transport.openErr = errors.New("dial refused")
	client := newSocketClient(t, transport)

	err := client.ConnectSocket(context.Background())

	assert.ErrorContains(t, err, "dial refused")
	assert.Equal(t, StateDisconnected, client.State())
}

func TestConnectSocket_Rejected(t *testing.T) {
	transport := newFakeTransport()
	transport.onOpen = func(f *fakeTransport) {
		f.fire("connect_error", json.RawMessage(`{"message":"forbidden"}`))
	}
	client := newSocketClient(t, transport)

	err := client.ConnectSocket(context.Background())

	assert.ErrorIs(t, err, ErrConnectRejected)
}

func TestAuthenticated_IgnoredOutsideHandshake(t *testing.T) {
	transport := newFakeTransport()
	client := newSocketClient(t, transport)

	transport.fire(EventAuthenticated, nil)

	assert.Equal(t, StateDisconnected, client.State())
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "unconfigured", StateUnconfigured.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "unknown", ConnState(42).String())
}

func TestConnectSocket_RetryAfterRejection(t *testing.T) {
	transport := newFakeTransport()
	rejected := false
	transport.onOpen = func(f *fakeTransport) {
		if !rejected {
			rejected = true
			f.fire("connect_error", json.RawMessage(`"busy"`))
			return
		}
		f.fire("connect", nil)
	}
	transport.onEmit = func(f *fakeTransport, event string, _ any) {
		f.fire(EventAuthenticated, nil)
	}
	client := newSocketClient(t, transport)

	require.ErrorIs(t, client.ConnectSocket(context.Background()), ErrConnectRejected)
	assert.Equal(t, StateDisconnected, client.State())

	require.NoError(t, client.ConnectSocket(context.Background()))
	assert.Equal(t, StateAuthenticated, client.State())
}

func TestConnectSocket_CredentialsSendFails(t *testing.T) {
	transport := newFakeTransport()
	transport.emitErr = errors.New("write: broken pipe")
	transport.onOpen = func(f *fakeTransport) { f.fire("connect", nil) }
	client := newSocketClient(t, transport)

	err := client.ConnectSocket(context.Background())

	assert.ErrorContains(t, err, "failed to send credentials")
	assert.ErrorContains(t, err, "broken pipe")
	assert.Equal(t, StateDisconnected, client.State())
	assert.Equal(t, 1, transport.closeCount())
	assert.False(t, transport.isOpen())

	// The client can try again once the transport recovers.
	transport.mu.Lock()
	transport.emitErr = nil
	transport.onEmit = func(f *fakeTransport, event string, _ any) { f.fire(EventAuthenticated, nil) }
	transport.mu.Unlock()
	require.NoError(t, client.ConnectSocket(context.Background()))
	assert.Equal(t, StateAuthenticated, client.State())
}

func TestConnectSocket_JoinerDoesNotCancelPendingHandshake(t *testing.T) {
	transport := newFakeTransport()
	transport.onOpen = func(f *fakeTransport) { f.fire("connect", nil) }
	client := newSocketClient(t, transport, WithHandshakeTimeout(0))

	first := make(chan error, 1)
	go func() {
		first <- client.ConnectSocket(context.Background())
	}()
	waitState(t, client, StateAuthenticating)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.ConnectSocket(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateAuthenticating, client.State())
	assert.Zero(t, transport.closeCount())
	assert.Equal(t, 1, transport.openCount())

	transport.fire(EventAuthenticated, nil)

	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("first ConnectSocket did not return after authentication")
	}
	assert.Equal(t, StateAuthenticated, client.State())
}

func TestConnectSocket_JoinerSharesOutcome(t *testing.T) {
	transport := newFakeTransport()
	transport.onOpen = func(f *fakeTransport) { f.fire("connect", nil) }
	client := newSocketClient(t, transport, WithHandshakeTimeout(0))

	results := make(chan error, 2)
	go func() { results <- client.ConnectSocket(context.Background()) }()
	waitState(t, client, StateAuthenticating)
	go func() { results <- client.ConnectSocket(context.Background()) }()

	// Give the second caller time to join before the acknowledgement.
	time.Sleep(20 * time.Millisecond)
	transport.fire(EventAuthenticated, nil)

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("ConnectSocket did not return")
		}
	}
	assert.Equal(t, 1, transport.openCount())
}

func TestSettle_AcknowledgementWinsOverTimeout(t *testing.T) {
	transport := newAuthenticatingTransport()
	client := newSocketClient(t, transport)
	require.NoError(t, client.ConnectSocket(context.Background()))

	client.mu.Lock()
	hs := client.handshake
	client.mu.Unlock()

	// A timeout observed after the acknowledgement does not undo it.
	assert.NoError(t, client.settle(hs, ErrHandshakeTimeout))
	assert.Equal(t, StateAuthenticated, client.State())
	assert.Zero(t, transport.closeCount())
}

func TestAuthenticated_IgnoredAfterTimeout(t *testing.T) {
	transport := newFakeTransport()
	transport.onOpen = func(f *fakeTransport) { f.fire("connect", nil) }
	client := newSocketClient(t, transport, WithHandshakeTimeout(30*time.Millisecond))

	require.ErrorIs(t, client.ConnectSocket(context.Background()), ErrHandshakeTimeout)

	// A late acknowledgement for the abandoned handshake changes nothing.
	transport.fire(EventAuthenticated, nil)
	assert.Equal(t, StateDisconnected, client.State())
	assert.ErrorIs(t, client.OnDonation(func(TransactionData) {}), ErrNotAuthenticated)
}

func TestConnectSocket_Unauthorized(t *testing.T) {
	transport := newFakeTransport()
	transport.onOpen = func(f *fakeTransport) { f.fire("connect", nil) }
	transport.onEmit = func(f *fakeTransport, event string, _ any) {
		if event == EventAuthentication {
			f.fire(EventUnauthorized, json.RawMessage(`{"message":"bad key"}`))
			f.dropRemote()
		}
	}
	client := newSocketClient(t, transport)

	err := client.ConnectSocket(context.Background())

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorContains(t, err, "bad key")
	assert.Equal(t, StateDisconnected, client.State())
}

func TestUnauthorized_IgnoredOutsideHandshake(t *testing.T) {
	transport := newAuthenticatingTransport()
	client := newSocketClient(t, transport)
	require.NoError(t, client.ConnectSocket(context.Background()))

	transport.fire(EventUnauthorized, json.RawMessage(`{"message":"late"}`))

	assert.Equal(t, StateAuthenticated, client.State())
}
