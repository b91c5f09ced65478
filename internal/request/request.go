// Package request performs the HTTP calls of the StreamParticles client.
//
// It forwards GET and POST requests to an http.Client, attaches a bearer
// token when one is supplied, and flattens failures into *Error carrying the
// remote payload's "message" field.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// UserAgent is sent with every request.
const UserAgent = "streamparticles-go/0.1"

// Doer is the subset of *http.Client used here.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Error is returned for transport failures and non-2xx responses.
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("request failed: %v", e.Err)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// remoteError is the error body returned by the service
type remoteError struct {
	Message string `json:"message"`
}

// Get issues a GET to endpoint with an optional query and bearer token.
func Get(ctx context.Context, doer Doer, endpoint, token string, query Query) (json.RawMessage, error) {
	route := endpoint
	if query != nil {
		if encoded := query.Encode(); encoded != "" {
			route = endpoint + "?" + encoded
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, route, nil)
	if err != nil {
		return nil, &Error{Err: err}
	}

	return do(doer, req, token)
}

// Post issues a POST to endpoint. The body is JSON encoded unless it is
// already raw JSON bytes, in which case it is sent unmodified.
func Post(ctx context.Context, doer Doer, endpoint string, body any, token string) (json.RawMessage, error) {
	var payload []byte
	switch b := body.(type) {
	case json.RawMessage:
		payload = b
	case []byte:
		payload = b
	default:
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &Error{Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return do(doer, req, token)
}

func do(doer Doer, req *http.Request, token string) (json.RawMessage, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Request-Id", uuid.New().String())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := doer.Do(req)
	if err != nil {
		// *url.Error repeats the URL, which carries the API key.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = fmt.Errorf("%s %s: %w", urlErr.Op, req.URL.Host, urlErr.Err)
		}
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var remote remoteError
		// Non-JSON error bodies leave Message empty.
		_ = json.Unmarshal(respBody, &remote)
		return nil, &Error{StatusCode: resp.StatusCode, Message: remote.Message}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}
	if !json.Valid(respBody) {
		return nil, &Error{StatusCode: resp.StatusCode, Err: errors.New("failed to parse response: invalid JSON")}
	}

	return json.RawMessage(respBody), nil
}
