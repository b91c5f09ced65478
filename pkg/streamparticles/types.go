package streamparticles

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/alexbotov/streamparticles/internal/request"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the host used when no base URL option is given.
const DefaultBaseURL = "http://localhost:4000"

// DefaultHandshakeTimeout bounds ConnectSocket when the caller's context has
// no earlier deadline.
const DefaultHandshakeTimeout = 10 * time.Second

// Realtime event names
const (
	EventAuthentication = "authentication"
	EventAuthenticated  = "authenticated"
	EventDonation       = "donation"
	EventUnauthorized   = "unauthorized"
)

// ConnState is the state of the realtime connection owned by a Client.
type ConnState int

const (
	// StateUnconfigured means the socket feature was disabled at construction.
	StateUnconfigured ConnState = iota
	StateDisconnected
	StateConnecting
	StateAuthenticating
	StateAuthenticated
)

func (s ConnState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Credentials is the payload of the authentication event
type Credentials struct {
	APIKey  string `json:"apiKey"`
	Herotag string `json:"herotag"`
}

// TransactionData is a donation record as delivered by the realtime
// channel. Its fields are defined by the service and passed through untouched.
type TransactionData json.RawMessage

// Get returns the value at a gjson path, e.g. "amount" or "sender.herotag".
func (t TransactionData) Get(path string) gjson.Result {
	return gjson.GetBytes(t, path)
}

// Decode unmarshals the record into v.
func (t TransactionData) Decode(v any) error {
	return json.Unmarshal(t, v)
}

// MarshalJSON returns the record unchanged.
func (t TransactionData) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("null"), nil
	}
	return t, nil
}

func (t TransactionData) String() string {
	return string(t)
}

// APIError is returned by the analytics calls for transport failures and
// non-2xx responses. Its message is the remote payload's "message" field.
type APIError = request.Error

// Option configures a Client.
type Option func(*options)

type options struct {
	withSocket       bool
	baseURL          string
	httpClient       *http.Client
	logger           zerolog.Logger
	handshakeTimeout time.Duration
	transport        Transport
}

func defaultOptions() options {
	return options{
		withSocket:       true,
		baseURL:          DefaultBaseURL,
		logger:           zerolog.Nop(),
		handshakeTimeout: DefaultHandshakeTimeout,
	}
}

// WithSocket enables or disables the realtime connection. Enabled by default.
func WithSocket(enabled bool) Option {
	return func(o *options) { o.withSocket = enabled }
}

// WithBaseURL sets the service host, e.g. "https://api.streamparticles.io".
func WithBaseURL(baseURL string) Option {
	return func(o *options) { o.baseURL = baseURL }
}

// WithHTTPClient sets the HTTP client used for analytics calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger. The API key is never logged.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHandshakeTimeout bounds the connect-and-authenticate step. Zero
// disables the bound and relies on the caller's context.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithTransport replaces the default Socket.IO transport. It has no effect
// when the socket is disabled.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}
