// Package config loads the command line configuration from flags,
// STREAMPARTICLES_* environment variables and optional .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. STREAMPARTICLES_API_KEY.
const EnvPrefix = "STREAMPARTICLES"

// Config holds all configuration of the command line
type Config struct {
	Client ClientConfig `mapstructure:"client"`
	Mock   MockConfig   `mapstructure:"mock"`
	Sinks  SinksConfig  `mapstructure:"sinks"`
	Log    LogConfig    `mapstructure:"log"`
}

// ClientConfig holds the StreamParticles credentials and endpoint
type ClientConfig struct {
	Herotag          string        `mapstructure:"herotag"`
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// MockConfig holds the mock service configuration
type MockConfig struct {
	Address     string        `mapstructure:"address"`
	TokenSecret string        `mapstructure:"token_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`
	// Streamers are "herotag:apikey" pairs registered at startup.
	Streamers []string `mapstructure:"streamers"`
}

// SinksConfig selects where watched donations are relayed
type SinksConfig struct {
	Stdout   bool           `mapstructure:"stdout"`
	File     string         `mapstructure:"file"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// KafkaConfig holds the Kafka sink configuration
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	SASLMechanism string   `mapstructure:"sasl_mechanism"`
	SASLUser      string   `mapstructure:"sasl_user"`
	SASLPassword  string   `mapstructure:"sasl_password"`
	TLS           bool     `mapstructure:"tls"`
	CreateTopic   bool     `mapstructure:"create_topic"`
}

// PostgresConfig holds the donation archive configuration
type PostgresConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Enabled reports whether the Kafka sink is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Enabled reports whether the Postgres sink is configured.
func (p PostgresConfig) Enabled() bool {
	return p.DSN != ""
}

var defaults = map[string]any{
	"client.herotag":           "",
	"client.api_key":           "",
	"client.base_url":          "http://localhost:4000",
	"client.http_timeout":      30 * time.Second,
	"client.handshake_timeout": 10 * time.Second,

	"mock.address":      ":4000",
	"mock.token_secret": "streamparticles-dev-secret-change-in-production",
	"mock.token_expiry": 24 * time.Hour,
	"mock.auth_timeout": 5 * time.Second,
	"mock.streamers":    []string{},

	"sinks.stdout":               true,
	"sinks.file":                 "",
	"sinks.kafka.brokers":        []string{},
	"sinks.kafka.topic":          "donations",
	"sinks.kafka.sasl_mechanism": "",
	"sinks.kafka.sasl_user":      "",
	"sinks.kafka.sasl_password":  "",
	"sinks.kafka.tls":            false,
	"sinks.kafka.create_topic":   false,
	"sinks.postgres.driver":      "postgres",
	"sinks.postgres.dsn":         "",

	"log.level": "info",
	"log.file":  "",
}

// New returns a viper instance with defaults registered and environment
// lookup enabled. Nested keys map to variables by replacing dots, e.g.
// client.api_key is read from STREAMPARTICLES_CLIENT_API_KEY.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadEnvFiles loads .env style files into the process environment.
// Variables already set win. Missing files are ignored.
func LoadEnvFiles(files ...string) error {
	for _, file := range files {
		if file == "" {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// Load decodes the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}

// ParseStreamers splits "herotag:apikey" pairs.
func ParseStreamers(pairs []string) (map[string]string, error) {
	streamers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		herotag, apiKey, ok := strings.Cut(pair, ":")
		if !ok || herotag == "" || apiKey == "" {
			return nil, fmt.Errorf("invalid streamer %q, expected herotag:apikey", pair)
		}
		streamers[herotag] = apiKey
	}
	return streamers, nil
}
