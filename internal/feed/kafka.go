package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Bridge replicates feed events across nodes through Kafka. Local events are
// published to the topic keyed by conversation id; remote events are folded
// back into the local broker. Events carry the origin node id so a node
// never re-delivers its own traffic.
type Bridge struct {
	Local    *Broker
	Topic    string
	NodeID   string
	Logger   *slog.Logger
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
}

type BridgeConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	NodeID  string
}

func NewBridge(cfg BridgeConfig, local *Broker, logger *slog.Logger) (*Bridge, error) {
	producerCfg := sarama.NewConfig()
	producerCfg.Version = sarama.V2_5_0_0
	producerCfg.Producer.RequiredAcks = sarama.WaitForAll
	producerCfg.Producer.Idempotent = true
	producerCfg.Producer.Retry.Max = 3
	producerCfg.Net.MaxOpenRequests = 1
	producerCfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerCfg)
	if err != nil {
		return nil, err
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	consumerCfg := sarama.NewConfig()
	consumerCfg.Version = sarama.V2_5_0_0
	group, err := sarama.NewConsumerGroup(cfg.Brokers, bridgeGroupID(cfg.GroupID, nodeID), consumerCfg)
	if err != nil {
		_ = producer.Close()
		return nil, err
	}
	return &Bridge{
		Local:    local,
		Topic:    cfg.Topic,
		NodeID:   nodeID,
		Logger:   logger,
		producer: producer,
		group:    group,
	}, nil
}

// bridgeGroupID derives a per-node consumer group. Every node must consume
// the full topic to fan events out to its own subscribers; a shared group
// would hand each event to a single member.
func bridgeGroupID(base, nodeID string) string {
	if base == "" {
		return nodeID
	}
	return base + "-" + nodeID
}

// Publish forwards a local event to the local broker and to Kafka. The
// Kafka leg is best-effort; a failed publish is logged, never surfaced, and
// cured by the consumers' authoritative reconciliation.
func (b *Bridge) Publish(ctx context.Context, event Event, channels ...string) {
	event.Origin = b.NodeID
	if b.Local != nil {
		b.Local.Publish(ctx, event, channels...)
	}
	payload, err := json.Marshal(wireEvent{Event: event, Channels: channels})
	if err != nil {
		if b.Logger != nil {
			b.Logger.Error("feed bridge encode failed", "error", err)
		}
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: b.Topic,
		Key:   sarama.StringEncoder(event.Message.ConversationID),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil && b.Logger != nil {
		b.Logger.Warn("feed bridge publish failed", "error", err, "topic", b.Topic)
	}
}

// Run consumes remote events until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	handler := bridgeHandler{bridge: b}
	for {
		if err := b.group.Consume(ctx, []string{b.Topic}, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (b *Bridge) Close() error {
	var err error
	if b.producer != nil {
		err = b.producer.Close()
	}
	if b.group != nil {
		if cerr := b.group.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type wireEvent struct {
	Event    Event    `json:"event"`
	Channels []string `json:"channels"`
}

type bridgeHandler struct {
	bridge *Bridge
}

func (h bridgeHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h bridgeHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h bridgeHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var wire wireEvent
		if err := json.Unmarshal(message.Value, &wire); err != nil {
			if h.bridge.Logger != nil {
				h.bridge.Logger.Warn("feed bridge decode failed", "error", err)
			}
			sess.MarkMessage(message, "")
			continue
		}
		if wire.Event.Origin != h.bridge.NodeID && h.bridge.Local != nil {
			h.bridge.Local.Publish(sess.Context(), wire.Event, wire.Channels...)
		}
		sess.MarkMessage(message, "")
	}
	return nil
}

var _ Publisher = (*Bridge)(nil)
