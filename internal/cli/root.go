// Package cli implements the streamparticles command line.
package cli

import (
	"fmt"
	"net/http"

	"github.com/alexbotov/streamparticles/internal/config"
	"github.com/alexbotov/streamparticles/internal/logging"
	"github.com/alexbotov/streamparticles/pkg/streamparticles"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the state shared by the commands
type app struct {
	v        *viper.Viper
	envFiles []string
	cfg      *config.Config
	logger   zerolog.Logger
	closeLog func()
}

// NewRootCommand builds the streamparticles command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.New(), logger: zerolog.Nop(), closeLog: func() {}}

	root := &cobra.Command{
		Use:           "streamparticles",
		Short:         "StreamParticles donation analytics and realtime donations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.closeLog()
		},
	}

	flags := root.PersistentFlags()
	flags.String("herotag", "", "streamer herotag")
	flags.String("api-key", "", "StreamParticles API key")
	flags.String("base-url", streamparticles.DefaultBaseURL, "service base URL")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error, none")
	flags.String("log-file", "", "write logs to this file instead of stderr")
	flags.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "dotenv files to load")

	bindings := map[string]string{
		"client.herotag":  "herotag",
		"client.api_key":  "api-key",
		"client.base_url": "base-url",
		"log.level":       "log-level",
		"log.file":        "log-file",
	}
	for key, flag := range bindings {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		a.newLastDonatorsCommand(),
		a.newTopDonatorsCommand(),
		a.newRecapCommand(),
		a.newWatchCommand(),
		a.newMockCommand(),
		a.newDonateCommand(),
	)
	return root
}

func (a *app) setup() error {
	if err := config.LoadEnvFiles(a.envFiles...); err != nil {
		return err
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, closeLog, err := logging.Setup(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	a.logger = logger
	a.closeLog = closeLog
	return nil
}

// newClient builds a client from the loaded configuration
func (a *app) newClient(withSocket bool) (*streamparticles.Client, error) {
	c := a.cfg.Client
	client, err := streamparticles.NewClient(c.Herotag, c.APIKey,
		streamparticles.WithSocket(withSocket),
		streamparticles.WithBaseURL(c.BaseURL),
		streamparticles.WithHTTPClient(&http.Client{Timeout: c.HTTPTimeout}),
		streamparticles.WithHandshakeTimeout(c.HandshakeTimeout),
		streamparticles.WithLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}
	return client, nil
}
