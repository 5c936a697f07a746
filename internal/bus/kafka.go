package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/opensource-finance/avia/internal/domain"
)

const tenantHeader = "avia-org"

// KafkaBus implements EventBus on Kafka for the Enterprise tier. Each bus
// topic maps to one Kafka topic keyed by organization, so an organization's
// messages stay ordered within a partition. Subscribers read through a
// consumer group per organization and skip other organizations' records.
type KafkaBus struct {
	mu      sync.Mutex
	brokers []string
	groupID string
	writers map[string]*kafkago.Writer
	subs    map[string]*kafkaSubscription
	logger  *slog.Logger
	closed  bool
}

type kafkaSubscription struct {
	id       string
	tenantID string
	topic    string
	reader   *kafkago.Reader
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewKafkaBus creates a Kafka-backed event bus. Writers and readers connect
// lazily.
func NewKafkaBus(cfg domain.EventBusConfig, logger *slog.Logger) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("kafka bus requires at least one broker")
	}
	if logger == nil {
		logger = slog.Default()
	}
	groupID := cfg.ConsumerGroup
	if groupID == "" {
		groupID = "avia-workers"
	}
	return &KafkaBus{
		brokers: cfg.KafkaBrokers,
		groupID: groupID,
		writers: make(map[string]*kafkago.Writer),
		subs:    make(map[string]*kafkaSubscription),
		logger:  logger,
	}, nil
}

func (b *KafkaBus) writer(topic string) (*kafkago.Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if w, ok := b.writers[topic]; ok {
		return w, nil
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(b.brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	b.writers[topic] = w
	return w, nil
}

// encodeKafkaMessage wraps a payload in the bus envelope.
func encodeKafkaMessage(ctx context.Context, tenantID, topic string, payload []byte) (kafkago.Message, *domain.Message, error) {
	msg := envelope(ctx, tenantID, topic, payload)
	data, err := json.Marshal(msg)
	if err != nil {
		return kafkago.Message{}, nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(tenantID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: tenantHeader, Value: []byte(tenantID)},
		},
	}, msg, nil
}

// decodeKafkaMessage unwraps a record. ok is false for another tenant's record.
func decodeKafkaMessage(tenantID string, m kafkago.Message) (*domain.Message, bool, error) {
	for _, h := range m.Headers {
		if h.Key == tenantHeader && string(h.Value) != tenantID {
			return nil, false, nil
		}
	}
	var msg domain.Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return nil, false, err
	}
	if msg.TenantID != tenantID {
		return nil, false, nil
	}
	return &msg, true, nil
}

// Publish writes a message to the topic, keyed by organization.
func (b *KafkaBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return ErrNoTenant
	}

	km, _, err := encodeKafkaMessage(ctx, tenantID, topic, payload)
	if err != nil {
		return err
	}
	w, err := b.writer(topic)
	if err != nil {
		return err
	}
	if err := w.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a consumer for one organization's messages on topic.
// Offsets are committed after the handler returns, even when it fails.
func (b *KafkaBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  b.brokers,
		Topic:    topic,
		GroupID:  b.groupID + "." + tenantID,
		MinBytes: 1,
		MaxBytes: 10 * 1024 * 1024,
	})

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		reader:   reader,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	b.subs[sub.id] = sub

	go b.consume(subCtx, sub, handler)
	return sub, nil
}

func (b *KafkaBus) consume(ctx context.Context, sub *kafkaSubscription, handler domain.MessageHandler) {
	defer close(sub.done)
	for {
		m, err := sub.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return
			}
			b.logger.Error("kafka fetch failed", "topic", sub.topic, "org_id", sub.tenantID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		msg, ok, err := decodeKafkaMessage(sub.tenantID, m)
		switch {
		case err != nil:
			b.logger.Error("failed to decode kafka message",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
		case ok:
			if err := handler(deliveryContext(ctx, msg), msg); err != nil {
				b.logger.Error("handler error",
					"topic", m.Topic,
					"org_id", sub.tenantID,
					"message_id", msg.ID,
					"offset", m.Offset,
					"error", err,
				)
			}
		}

		if err := sub.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			b.logger.Error("kafka commit failed",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
		}
	}
}

// Ping dials the first reachable broker.
func (b *KafkaBus) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range b.brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close stops every consumer and flushes writers.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	writers := b.writers
	b.subs = make(map[string]*kafkaSubscription)
	b.writers = make(map[string]*kafkago.Writer)
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	for topic, w := range writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing writer for topic %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// Unsubscribe stops the consumer and closes its reader.
func (s *kafkaSubscription) Unsubscribe() error {
	s.cancel()
	<-s.done
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("closing kafka reader: %w", err)
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}
