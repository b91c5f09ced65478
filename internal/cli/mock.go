package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/alexbotov/streamparticles/internal/config"
	"github.com/alexbotov/streamparticles/internal/mockserver"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func (a *app) newMockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve an in-memory StreamParticles service",
		Long: "Serve the analytics endpoints and the realtime gateway from memory.\n" +
			"Streamers are registered with --streamer herotag:apikey. Donations are\n" +
			"injected with the donate command and the admin token printed at startup.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, token, err := a.newMockServer()
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", a.cfg.Mock.Address)
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "admin token: %s\n", token)
			return a.serve(cmd.Context(), &http.Server{
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}, ln)
		},
	}

	flags := cmd.Flags()
	flags.String("address", ":4000", "listen address")
	flags.StringSlice("streamer", nil, "register a streamer as herotag:apikey, repeatable")
	_ = a.v.BindPFlag("mock.address", flags.Lookup("address"))
	_ = a.v.BindPFlag("mock.streamers", flags.Lookup("streamer"))
	return cmd
}

// newMockServer builds the service and issues the admin token
func (a *app) newMockServer() (*mockserver.Server, string, error) {
	m := a.cfg.Mock
	streamers, err := config.ParseStreamers(m.Streamers)
	if err != nil {
		return nil, "", err
	}
	// The configured client credentials are registered too, so the other
	// commands work against the mock out of the box.
	if c := a.cfg.Client; c.Herotag != "" && c.APIKey != "" {
		if _, ok := streamers[c.Herotag]; !ok {
			streamers[c.Herotag] = c.APIKey
		}
	}

	cfg := mockserver.DefaultConfig()
	cfg.TokenSecret = m.TokenSecret
	cfg.TokenExpiry = m.TokenExpiry
	cfg.AuthTimeout = m.AuthTimeout
	cfg.Logger = a.logger.With().Str("component", "mock").Logger()

	srv := mockserver.New(cfg)
	for herotag, apiKey := range streamers {
		if err := srv.RegisterStreamer(herotag, apiKey); err != nil {
			return nil, "", fmt.Errorf("failed to register %s: %w", herotag, err)
		}
		a.logger.Info().Str("herotag", herotag).Msg("streamer registered")
	}

	token, err := srv.IssueToken("cli")
	if err != nil {
		return nil, "", err
	}
	return srv, token, nil
}

// serve runs server on ln until ctx ends, then shuts it down gracefully
func (a *app) serve(ctx context.Context, server *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("address", ln.Addr().String()).Msg("mock service listening")
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	a.logger.Info().Msg("mock service stopped")
	return nil
}
