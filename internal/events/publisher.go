// Package events publishes presence changes (joins, leaves, room moves,
// kicks) to a message bus for downstream consumers such as the friend
// notification service. Consumption and fan-out are out of scope here; this
// is the producer side only.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/cory-johannsen/atrium/internal/config"
)

// Presence event types.
const (
	TypeJoin       = "join"
	TypeLeave      = "leave"
	TypeRoomChange = "room_change"
	TypeKick       = "kick"
)

// Event is one presence change.
type Event struct {
	// Type is one of the Type* constants.
	Type string `json:"type"`
	// Player is the player name, the partition key.
	Player string `json:"player"`
	// Room is the room the player is in after the change (empty on leave).
	Room string `json:"room,omitempty"`
	// Addr is the session's address:port key.
	Addr string `json:"addr"`
	// Time is when the change was observed.
	Time time.Time `json:"time"`
}

// Publisher delivers presence events. Implementations must be safe for
// concurrent use from every connection goroutine.
type Publisher interface {
	Publish(ev Event) error
	Close() error
}

// Noop discards all events. Used when events.enabled is false.
type Noop struct{}

// Publish discards the event.
func (Noop) Publish(Event) error { return nil }

// Close is a no-op.
func (Noop) Close() error { return nil }

// Kafka publishes presence events to a Kafka topic with a synchronous
// producer. Events for the same player land on the same partition.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

// NewKafka connects a synchronous producer to the configured brokers.
//
// Precondition: cfg.Brokers and cfg.Topic must be non-empty.
// Postcondition: Returns a ready Kafka publisher or a non-nil error.
func NewKafka(cfg config.EventsConfig, logger *zap.Logger) (*Kafka, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Version = sarama.V2_0_0_0
	sc.ClientID = cfg.ClientID

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	return &Kafka{
		producer: producer,
		topic:    cfg.Topic,
		log:      logger,
	}, nil
}

// Publish sends one presence event, keyed by player name.
//
// Postcondition: Returns a non-nil error when encoding or producing fails;
// callers treat failures as non-fatal.
func (k *Kafka) Publish(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding presence event: %w", err)
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.Player),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("producing presence event: %w", err)
	}

	k.log.Debug("presence event published",
		zap.String("type", ev.Type),
		zap.String("player", ev.Player),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close shuts down the producer.
func (k *Kafka) Close() error {
	return k.producer.Close()
}
