// Package kafka relays donations to a Kafka topic.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alexbotov/streamparticles/internal/relay"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// Config selects the brokers and topic of the notifier.
type Config struct {
	Brokers []string
	Topic   string
	// SASLMechanism is empty, "plain", "scram-sha-256" or "scram-sha-512".
	SASLMechanism string
	SASLUser      string
	SASLPassword  string
	TLS           bool
	// CreateTopic creates the topic with one partition when it is missing.
	CreateTopic bool
}

// Notifier produces one record per donation, keyed by herotag so the
// donations of a streamer stay ordered within a partition.
type Notifier struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
}

func (c Config) options() ([]kgo.Opt, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if c.Topic == "" {
		return nil, fmt.Errorf("kafka: no topic configured")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.DefaultProduceTopic(c.Topic),
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
	}

	switch strings.ToLower(c.SASLMechanism) {
	case "":
	case "plain":
		opts = append(opts, kgo.SASL(plain.Auth{User: c.SASLUser, Pass: c.SASLPassword}.AsMechanism()))
	case "scram-sha-256":
		opts = append(opts, kgo.SASL(scram.Auth{User: c.SASLUser, Pass: c.SASLPassword}.AsSha256Mechanism()))
	case "scram-sha-512":
		opts = append(opts, kgo.SASL(scram.Auth{User: c.SASLUser, Pass: c.SASLPassword}.AsSha512Mechanism()))
	default:
		return nil, fmt.Errorf("kafka: unsupported sasl mechanism %q", c.SASLMechanism)
	}

	if c.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	return opts, nil
}

// NewNotifier connects to the brokers. With CreateTopic set the topic is
// created first.
func NewNotifier(ctx context.Context, cfg Config, logger zerolog.Logger) (*Notifier, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create client: %w", err)
	}

	if cfg.CreateTopic {
		if err := ensureTopic(ctx, client, cfg.Topic); err != nil {
			client.Close()
			return nil, err
		}
	}

	logger.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka notifier ready")
	return &Notifier{client: client, topic: cfg.Topic, logger: logger}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	// kadm.Client.Close would close the shared kgo client, so it is not called.
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 1, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("kafka: failed to create topic: %w", err)
	}
	return checkCreated(resp)
}

// checkCreated accepts topics that were created or already existed.
func checkCreated(resp kadm.CreateTopicResponses) error {
	for _, t := range resp.Sorted() {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka: failed to create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

func record(topic string, d relay.Donation) (*kgo.Record, error) {
	value, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("kafka: could not marshal donation: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(d.Herotag),
		Value: value,
	}, nil
}

func (n *Notifier) Notify(ctx context.Context, d relay.Donation) error {
	r, err := record(n.topic, d)
	if err != nil {
		return err
	}
	if err := n.client.ProduceSync(ctx, r).FirstErr(); err != nil {
		return fmt.Errorf("kafka: failed to produce donation: %w", err)
	}
	n.logger.Debug().Str("herotag", d.Herotag).Msg("donation produced")
	return nil
}

func (n *Notifier) Close() error {
	n.client.Close()
	return nil
}
