package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alexbotov/streamparticles/internal/config"
	"github.com/alexbotov/streamparticles/internal/database"
	"github.com/alexbotov/streamparticles/internal/relay"
	"github.com/alexbotov/streamparticles/internal/relay/kafka"
	"github.com/rs/zerolog"
)

// nopCloser keeps the process stdout open when the sinks close
type nopCloser struct{ io.Writer }

// buildSinks opens every sink enabled in cfg
func buildSinks(ctx context.Context, cfg config.SinksConfig, stdout io.Writer, logger zerolog.Logger) (relay.Fanout, error) {
	var sinks relay.Fanout
	fail := func(err error) (relay.Fanout, error) {
		_ = sinks.Close()
		return nil, err
	}

	if cfg.Stdout {
		sinks = append(sinks, relay.NewWriterNotifier(nopCloser{stdout}))
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fail(fmt.Errorf("failed to open donations file: %w", err))
		}
		sinks = append(sinks, relay.NewWriterNotifier(f))
	}

	if cfg.Kafka.Enabled() {
		n, err := kafka.NewNotifier(ctx, kafka.Config{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			SASLMechanism: cfg.Kafka.SASLMechanism,
			SASLUser:      cfg.Kafka.SASLUser,
			SASLPassword:  cfg.Kafka.SASLPassword,
			TLS:           cfg.Kafka.TLS,
			CreateTopic:   cfg.Kafka.CreateTopic,
		}, logger)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, n)
	}

	if cfg.Postgres.Enabled() {
		db, err := database.New(cfg.Postgres.Driver, cfg.Postgres.DSN)
		if err != nil {
			return fail(err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fail(err)
		}
		sinks = append(sinks, database.NewDonationStore(db))
	}

	if len(sinks) == 0 {
		return nil, fmt.Errorf("no donation sink configured")
	}
	return sinks, nil
}
