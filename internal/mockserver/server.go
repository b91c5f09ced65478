// Package mockserver is an in-memory StreamParticles service for local
// development and integration tests.
//
// It serves the analytics endpoints, accepts donations through an admin
// endpoint guarded by bearer tokens, and delivers them over the Socket.IO
// gateway to the rooms of authenticated herotags.
package mockserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/alexbotov/streamparticles/internal/socketio"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Config holds the mock service settings.
type Config struct {
	// TokenSecret signs admin bearer tokens.
	TokenSecret string
	TokenExpiry time.Duration
	// AuthTimeout disconnects sockets that do not authenticate in time.
	AuthTimeout time.Duration
	// KeyCost is the bcrypt cost of stored API keys.
	KeyCost      int
	ListLimit    int
	PingInterval time.Duration
	Logger       zerolog.Logger
}

// DefaultConfig returns the settings used by the mock command.
func DefaultConfig() Config {
	return Config{
		TokenSecret:  "streamparticles-mock-secret",
		TokenExpiry:  time.Hour,
		AuthTimeout:  5 * time.Second,
		KeyCost:      bcrypt.DefaultCost,
		ListLimit:    10,
		PingInterval: 25 * time.Second,
		Logger:       zerolog.Nop(),
	}
}

// Server is the mock service.
type Server struct {
	cfg    Config
	keys   *keyring
	tokens *tokens
	ledger *ledger
	sio    *socketio.Server
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]map[*socketio.ServerSocket]struct{}
}

// New creates a mock service without any registered streamer.
func New(cfg Config) *Server {
	defaults := DefaultConfig()
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = defaults.TokenSecret
	}
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = defaults.TokenExpiry
	}
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = defaults.AuthTimeout
	}
	if cfg.ListLimit == 0 {
		cfg.ListLimit = defaults.ListLimit
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaults.PingInterval
	}

	s := &Server{
		cfg:    cfg,
		keys:   newKeyring(cfg.KeyCost),
		tokens: &tokens{secret: []byte(cfg.TokenSecret), expiry: cfg.TokenExpiry},
		ledger: newLedger(),
		logger: cfg.Logger,
		rooms:  make(map[string]map[*socketio.ServerSocket]struct{}),
	}

	s.sio = socketio.NewServer(s.handleSocket)
	s.sio.PingInterval = cfg.PingInterval
	s.sio.Logger = cfg.Logger

	return s
}

// RegisterStreamer stores the API key of herotag.
func (s *Server) RegisterStreamer(herotag, apiKey string) error {
	return s.keys.add(herotag, apiKey)
}

// IssueToken returns a bearer token for the admin endpoints.
func (s *Server) IssueToken(subject string) (string, error) {
	return s.tokens.issue(subject)
}

// AddDonation records a donation and delivers it to the herotag's room.
func (s *Server) AddDonation(d Donation) Donation {
	d = s.ledger.add(d)
	delivered := s.broadcast(d.Herotag, EventDonation, d)
	s.logger.Info().Str("herotag", d.Herotag).Str("donation_id", d.ID).Int("sockets", delivered).Msg("donation recorded")
	return d
}

// Router configures the HTTP routes of the service.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(RecoveryMiddleware(s.logger))
	r.Use(CORSMiddleware)
	r.Use(LoggingMiddleware(s.logger))

	r.HandleFunc("/health", s.HealthCheck).Methods("GET")

	// Realtime gateway
	r.Handle(socketio.Path, s.sio)

	api := r.PathPrefix("/v1/{apiKey}").Subrouter()
	api.HandleFunc("/last-donators/", s.LastDonators).Methods("GET")
	api.HandleFunc("/top-donators/", s.TopDonators).Methods("GET")
	api.HandleFunc("/donations-recap/", s.DonationsRecap).Methods("GET")

	// Admin routes
	api.Handle("/donations/", s.AuthMiddleware(http.HandlerFunc(s.CreateDonation))).Methods("POST")

	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	return r
}

func (s *Server) join(herotag string, sock *socketio.ServerSocket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[herotag]
	if !ok {
		room = make(map[*socketio.ServerSocket]struct{})
		s.rooms[herotag] = room
	}
	room[sock] = struct{}{}
}

func (s *Server) leave(herotag string, sock *socketio.ServerSocket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.rooms[herotag]
	delete(room, sock)
	if len(room) == 0 {
		delete(s.rooms, herotag)
	}
}

// broadcast emits event to every socket in the room and returns how many
// sockets it reached
func (s *Server) broadcast(herotag, event string, payload any) int {
	s.mu.Lock()
	sockets := make([]*socketio.ServerSocket, 0, len(s.rooms[herotag]))
	for sock := range s.rooms[herotag] {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()

	delivered := 0
	for _, sock := range sockets {
		if err := sock.Emit(event, payload); err != nil {
			s.logger.Debug().Err(err).Str("sid", sock.ID()).Msg("broadcast failed")
			continue
		}
		delivered++
	}
	return delivered
}

// RoomSize returns the number of authenticated sockets of herotag.
func (s *Server) RoomSize(herotag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[herotag])
}
