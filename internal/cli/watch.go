package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/alexbotov/streamparticles/internal/relay"
	"github.com/alexbotov/streamparticles/pkg/streamparticles"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	watchPollInterval = time.Second
	maxReconnectDelay = 30 * time.Second
)

func (a *app) newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Relay realtime donations to the configured sinks until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient(true)
			if err != nil {
				return err
			}

			sinks, err := buildSinks(cmd.Context(), a.cfg.Sinks, cmd.OutOrStdout(), a.logger)
			if err != nil {
				return err
			}
			defer sinks.Close()

			return watch(cmd.Context(), client, sinks, a.logger)
		},
	}

	flags := cmd.Flags()
	flags.Bool("stdout", true, "print donations as JSON lines")
	flags.String("file", "", "append donations as JSON lines to this file")
	flags.StringSlice("kafka-brokers", nil, "produce donations to these Kafka brokers")
	flags.String("kafka-topic", "donations", "Kafka topic")
	flags.String("pg-dsn", "", "archive donations in this PostgreSQL database")
	for key, flag := range map[string]string{
		"sinks.stdout":        "stdout",
		"sinks.file":          "file",
		"sinks.kafka.brokers": "kafka-brokers",
		"sinks.kafka.topic":   "kafka-topic",
		"sinks.postgres.dsn":  "pg-dsn",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

// watch authenticates, relays every donation to sink and reconnects when
// the connection drops, until ctx ends
func watch(ctx context.Context, client *streamparticles.Client, sink relay.Notifier, logger zerolog.Logger) error {
	if err := client.ConnectSocket(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	// The handler stays registered on the connection across reconnects.
	err := client.OnDonation(func(data streamparticles.TransactionData) {
		d := relay.Donation{
			Herotag:    client.Herotag(),
			Data:       data,
			ReceivedAt: time.Now().UTC(),
		}
		if err := sink.Notify(ctx, d); err != nil {
			logger.Error().Err(err).Msg("failed to relay donation")
		}
	})
	if err != nil {
		return err
	}
	logger.Info().Msg("watching donations")

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	delay := watchPollInterval
	for {
		select {
		case <-ctx.Done():
			_ = client.DisconnectSocket()
			return nil
		case <-ticker.C:
		}

		if client.State() != streamparticles.StateDisconnected {
			continue
		}

		logger.Warn().Dur("delay", delay).Msg("connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		if err := client.ConnectSocket(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("reconnect failed")
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		delay = watchPollInterval
		logger.Info().Msg("reconnected")
	}
}
