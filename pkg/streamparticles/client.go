package streamparticles

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/alexbotov/streamparticles/internal/request"
	"github.com/alexbotov/streamparticles/internal/socketio"
	"github.com/rs/zerolog"
)

// Client is a StreamParticles API client for one herotag.
type Client struct {
	herotag          string
	apiKey           string
	endpoints        map[Endpoint]string
	httpClient       *http.Client
	transport        Transport
	logger           zerolog.Logger
	handshakeTimeout time.Duration

	mu        sync.Mutex
	state     ConnState
	handshake *handshake
}

// NewClient creates a client for herotag authenticated by apiKey.
//
// Unless WithSocket(false) is given, the realtime connection is created but
// not opened; call ConnectSocket to open and authenticate it.
func NewClient(herotag, apiKey string, opts ...Option) (*Client, error) {
	if herotag == "" {
		return nil, ErrMissingHerotag
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	endpoints, err := buildEndpoints(o.baseURL, apiKey)
	if err != nil {
		return nil, err
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		herotag:          herotag,
		apiKey:           apiKey,
		endpoints:        endpoints,
		httpClient:       httpClient,
		logger:           o.logger.With().Str("herotag", herotag).Logger(),
		handshakeTimeout: o.handshakeTimeout,
		state:            StateUnconfigured,
	}

	if o.withSocket {
		transport := o.transport
		if transport == nil {
			transport = socketio.New(endpoints[SocketGateway], socketio.WithLogger(c.logger))
		}
		c.transport = transport
		c.state = StateDisconnected
		c.bindLifecycle()
	}

	return c, nil
}

// Herotag returns the identity the client was created for.
func (c *Client) Herotag() string {
	return c.herotag
}

// Endpoint returns the URL built for e, or "" for an unknown endpoint.
func (c *Client) Endpoint(e Endpoint) string {
	return c.endpoints[e]
}

// GetLastDonators returns the most recent donators.
func (c *Client) GetLastDonators(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, LastDonators)
}

// GetTopDonators returns the donators ranked by amount.
func (c *Client) GetTopDonators(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, TopDonators)
}

// GetDonationsRecap returns the donation totals.
func (c *Client) GetDonationsRecap(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, DonationsRecap)
}

func (c *Client) get(ctx context.Context, e Endpoint) (json.RawMessage, error) {
	body, err := request.Get(ctx, c.httpClient, c.endpoints[e], "", nil)
	if err != nil {
		c.logger.Debug().Err(err).Str("endpoint", string(e)).Msg("analytics request failed")
		return nil, err
	}
	return body, nil
}
