package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"blockhyre/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewSession ensures schema exists and returns a connected Scylla session.
func NewSession(cfg config.Config, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.ScyllaKeyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", cfg.ScyllaKeyspace)
	}

	baseCluster := gocql.NewCluster(cfg.ScyllaHosts...)
	baseCluster.Timeout = cfg.ScyllaTimeout
	baseCluster.Consistency = gocql.Quorum
	setAuth(baseCluster, cfg)

	baseSession, err := baseCluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()

	if err := ensureKeyspace(context.Background(), baseSession, cfg); err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Timeout = cfg.ScyllaTimeout
	cluster.Keyspace = cfg.ScyllaKeyspace
	cluster.Consistency = gocql.Quorum
	setAuth(cluster, cfg)

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", cfg.ScyllaKeyspace, err)
	}
	if err := ensureTables(context.Background(), session, cfg); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.ScyllaHosts, "keyspace", cfg.ScyllaKeyspace)
	}
	return session, nil
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, cfg config.Config) error {
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.ScyllaKeyspace, cfg.ReplicationFactor,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

func ensureTables(ctx context.Context, session *gocql.Session, cfg config.Config) error {
	conversations := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.conversations (
	id text PRIMARY KEY,
	owner_id text,
	renter_id text,
	listing_id text,
	pair_key text,
	created_at timestamp,
	last_message_at timestamp,
	last_message_id text,
	last_sender_id text,
	last_recipient_id text,
	last_preview text
);`, cfg.ScyllaKeyspace)
	if err := session.Query(conversations).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}

	// Pair rows double as the uniqueness guard: creation goes through a
	// lightweight transaction on this table.
	pairs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.conversations_by_pair (
	pair_key text PRIMARY KEY,
	conversation_id text
);`, cfg.ScyllaKeyspace)
	if err := session.Query(pairs).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create conversations_by_pair table: %w", err)
	}

	messages := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.messages (
	conversation_id text,
	id text,
	sender_id text,
	recipient_id text,
	body text,
	kind text,
	read boolean,
	created_at timestamp,
	PRIMARY KEY (conversation_id, id)
);`, cfg.ScyllaKeyspace)
	if err := session.Query(messages).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	counts := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.unread_counts (
	user_id text,
	conversation_id text,
	n counter,
	PRIMARY KEY (user_id, conversation_id)
);`, cfg.ScyllaKeyspace)
	if err := session.Query(counts).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create unread_counts table: %w", err)
	}
	return nil
}

func setAuth(cluster *gocql.ClusterConfig, cfg config.Config) {
	if cfg.ScyllaUsername == "" {
		return
	}
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: cfg.ScyllaUsername,
		Password: cfg.ScyllaPassword,
	}
	// avoid long stalls on auth/connect
	cluster.ConnectTimeout = cfg.ScyllaTimeout
	cluster.Timeout = cfg.ScyllaTimeout
}
