package mockserver

import (
	"encoding/json"
	"time"

	"github.com/alexbotov/streamparticles/internal/socketio"
)

// Gateway events
const (
	EventAuthentication = "authentication"
	EventAuthenticated  = "authenticated"
	EventUnauthorized   = "unauthorized"
	EventDonation       = "donation"
)

const herotagKey = "herotag"

type credentials struct {
	APIKey  string `json:"apiKey"`
	Herotag string `json:"herotag"`
}

// handleSocket runs when a client joins the gateway. The client must send
// its credentials within the auth timeout before it receives donations.
func (s *Server) handleSocket(sock *socketio.ServerSocket) {
	logger := s.logger.With().Str("sid", sock.ID()).Logger()
	logger.Debug().Msg("socket connected")

	timer := time.AfterFunc(s.cfg.AuthTimeout, func() {
		if _, ok := sock.Get(herotagKey); ok {
			return
		}
		logger.Debug().Msg("socket did not authenticate in time")
		_ = sock.Emit(EventUnauthorized, errorResponse{Message: "authentication timeout"})
		_ = sock.Disconnect()
	})

	sock.On(EventAuthentication, func(data json.RawMessage) {
		if _, ok := sock.Get(herotagKey); ok {
			_ = sock.Emit(EventAuthenticated, nil)
			return
		}

		var creds credentials
		if err := json.Unmarshal(data, &creds); err != nil || s.keys.verify(creds.Herotag, creds.APIKey) != nil {
			logger.Info().Str("herotag", creds.Herotag).Msg("socket authentication rejected")
			timer.Stop()
			_ = sock.Emit(EventUnauthorized, errorResponse{Message: ErrInvalidAPIKey.Error()})
			_ = sock.Disconnect()
			return
		}

		timer.Stop()
		sock.Set(herotagKey, creds.Herotag)
		s.join(creds.Herotag, sock)
		logger.Info().Str("herotag", creds.Herotag).Msg("socket authenticated")
		_ = sock.Emit(EventAuthenticated, nil)
	})

	sock.On(socketio.EventDisconnect, func(reason json.RawMessage) {
		timer.Stop()
		if herotag, ok := sock.Get(herotagKey); ok {
			s.leave(herotag.(string), sock)
		}
		logger.Debug().RawJSON("reason", reason).Msg("socket disconnected")
	})
}
