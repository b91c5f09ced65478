package mockserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const maxListLimit = 100

// Response helpers

type dataResponse struct {
	Data interface{} `json:"data"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Message: message})
}

// NotFoundHandler answers unknown routes in the service's error format.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "Not found")
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// streamer resolves the herotag owning the API key of the request path.
// It writes the error response and returns false when the key is unknown.
func (s *Server) streamer(w http.ResponseWriter, r *http.Request) (string, bool) {
	herotag, err := s.keys.lookup(mux.Vars(r)["apiKey"])
	if err != nil {
		respondError(w, http.StatusUnauthorized, ErrInvalidAPIKey.Error())
		return "", false
	}
	return herotag, true
}

// limit parses the optional limit query parameter
func (s *Server) limit(r *http.Request) int {
	limit := s.cfg.ListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return min(limit, maxListLimit)
}

// LastDonators handles GET /v1/{apiKey}/last-donators/
func (s *Server) LastDonators(w http.ResponseWriter, r *http.Request) {
	herotag, ok := s.streamer(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.ledger.last(herotag, s.limit(r)))
}

// TopDonators handles GET /v1/{apiKey}/top-donators/
func (s *Server) TopDonators(w http.ResponseWriter, r *http.Request) {
	herotag, ok := s.streamer(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.ledger.top(herotag, s.limit(r)))
}

// DonationsRecap handles GET /v1/{apiKey}/donations-recap/
func (s *Server) DonationsRecap(w http.ResponseWriter, r *http.Request) {
	herotag, ok := s.streamer(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.ledger.recap(herotag))
}

// CreateDonationRequest is the body of POST /v1/{apiKey}/donations/
type CreateDonationRequest struct {
	From    string  `json:"from"`
	Amount  float64 `json:"amount"`
	Message string  `json:"message,omitempty"`
}

// CreateDonation handles POST /v1/{apiKey}/donations/
func (s *Server) CreateDonation(w http.ResponseWriter, r *http.Request) {
	herotag, ok := s.streamer(w, r)
	if !ok {
		return
	}

	var req CreateDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.From == "" {
		respondError(w, http.StatusBadRequest, "from is required")
		return
	}
	if req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	donation := s.AddDonation(Donation{
		Herotag: herotag,
		From:    req.From,
		Amount:  req.Amount,
		Message: req.Message,
	})

	s.logger.Debug().Interface("subject", r.Context().Value(subjectKey)).Str("donation_id", donation.ID).Msg("donation injected")
	respondJSON(w, http.StatusCreated, donation)
}
