package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates application configuration values loaded from environment
// variables.
type Config struct {
	Env      string
	HTTPAddr string

	// ChatStore selects the conversation store backend: memory, mongo or
	// scylla.
	ChatStore string

	MongoURI string
	MongoDB  string

	ScyllaHosts       []string
	ScyllaKeyspace    string
	ScyllaUsername    string
	ScyllaPassword    string
	ScyllaTimeout     time.Duration
	ReplicationFactor int

	// KafkaBrokers enables the cross-node feed bridge when non-empty.
	KafkaBrokers []string
	FeedTopic    string
	FeedGroupID  string

	FeedBuffer  int
	UnreadQuiet time.Duration
	SessionTTL  time.Duration

	PaymentsWebhookSecret string
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:                   getEnv("APP_ENV", "dev"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		ChatStore:             strings.ToLower(getEnv("CHAT_STORE", "memory")),
		MongoURI:              os.Getenv("MONGO_URI"),
		MongoDB:               getEnv("MONGO_DB", "blockhyre"),
		ScyllaKeyspace:        strings.TrimSpace(getEnv("SCYLLA_KEYSPACE", "blockhyre_chat")),
		ScyllaUsername:        strings.TrimSpace(os.Getenv("SCYLLA_USERNAME")),
		ScyllaPassword:        strings.TrimSpace(os.Getenv("SCYLLA_PASSWORD")),
		FeedTopic:             getEnv("FEED_TOPIC", "chat-feed"),
		FeedGroupID:           getEnv("FEED_GROUP_ID", "blockhyre-feed"),
		FeedBuffer:            parseIntWithDefault(os.Getenv("FEED_BUFFER"), 64),
		ReplicationFactor:     parseIntWithDefault(strings.TrimSpace(os.Getenv("SCYLLA_REPLICATION_FACTOR")), 1),
		PaymentsWebhookSecret: os.Getenv("PAYMENTS_WEBHOOK_SECRET"),
	}
	if hosts := getEnv("SCYLLA_HOSTS", "localhost"); hosts != "" {
		cfg.ScyllaHosts = splitAndTrim(hosts)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}

	scyllaTimeout, err := parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.ScyllaTimeout = scyllaTimeout

	quiet, err := parseDurationEnv("UNREAD_QUIET", time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.UnreadQuiet = quiet

	sessionTTL, err := parseDurationEnv("SESSION_TTL", 720*time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL = sessionTTL

	switch cfg.ChatStore {
	case "memory":
	case "mongo":
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("MONGO_URI is required when CHAT_STORE=mongo")
		}
	case "scylla":
		if len(cfg.ScyllaHosts) == 0 {
			return Config{}, fmt.Errorf("SCYLLA_HOSTS is required when CHAT_STORE=scylla")
		}
		if cfg.ScyllaKeyspace == "" {
			return Config{}, fmt.Errorf("SCYLLA_KEYSPACE is required when CHAT_STORE=scylla")
		}
	default:
		return Config{}, fmt.Errorf("unsupported CHAT_STORE: %s", cfg.ChatStore)
	}
	if cfg.ReplicationFactor < 1 {
		cfg.ReplicationFactor = 1
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntWithDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
