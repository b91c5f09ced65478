package streamparticles

import "errors"

var (
	ErrMissingHerotag = errors.New("streamparticles: missing herotag")
	ErrMissingAPIKey  = errors.New("streamparticles: missing apiKey")

	ErrSocketDisabled   = errors.New("streamparticles: socket client was not enabled at construction")
	ErrNotAuthenticated = errors.New("streamparticles: not authenticated to the socket yet")

	ErrHandshakeTimeout = errors.New("streamparticles: socket authentication timed out")
	ErrSocketClosed     = errors.New("streamparticles: socket closed before authentication")
	ErrConnectRejected  = errors.New("streamparticles: socket connection rejected")
	ErrUnauthorized     = errors.New("streamparticles: socket credentials refused")

	ErrUnknownEndpoint = errors.New("streamparticles: unknown endpoint")
)
