package bus

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/metrics"
)

const defaultChannelBuffer = 1000

// ChannelBus is the in-process community tier bus. Each subscription owns a
// buffered channel drained by one goroutine, so an organization's messages
// on a topic are handled in publish order.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	logger *slog.Logger
	routes map[string][]*channelSubscription
	closed bool
}

type channelSubscription struct {
	bus    *ChannelBus
	route  string
	topic  string
	inbox  chan *domain.Message
	cancel context.CancelFunc
	once   sync.Once
}

// NewChannelBus creates a channel bus whose subscribers buffer up to
// buffer messages before drops.
func NewChannelBus(buffer int, logger *slog.Logger) *ChannelBus {
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelBus{
		buffer: buffer,
		logger: logger,
		routes: make(map[string][]*channelSubscription),
	}
}

// Publish fans a message out to the organization's subscribers on topic.
// It never blocks: a subscriber with a full buffer misses the message.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return ErrNoTenant
	}
	msg := envelope(ctx, tenantID, topic, payload)

	// Sends happen under the read lock so Close cannot close an inbox mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.routes[subject(tenantID, topic)] {
		select {
		case sub.inbox <- msg:
		default:
			metrics.BusDroppedTotal.WithLabelValues(topic).Inc()
			b.logger.Warn("subscriber buffer full, message dropped",
				"topic", topic,
				"org_id", tenantID,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

// Subscribe starts delivering the organization's messages on topic to
// handler until the subscription, ctx or the bus ends.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:    b,
		route:  subject(tenantID, topic),
		topic:  topic,
		inbox:  make(chan *domain.Message, b.buffer),
		cancel: cancel,
	}
	b.routes[sub.route] = append(b.routes[sub.route], sub)

	go b.drain(subCtx, sub, handler)
	return sub, nil
}

func (b *ChannelBus) drain(ctx context.Context, sub *channelSubscription, handler domain.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.inbox:
			if !ok {
				return
			}
			if err := handler(deliveryContext(ctx, msg), msg); err != nil {
				b.logger.Error("handler error",
					"topic", msg.Topic,
					"org_id", msg.TenantID,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Later calls are no-ops.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.routes {
		for _, sub := range subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	clear(b.routes)
	return nil
}

// subscribers reports how many subscriptions are attached to the
// organization's topic.
func (b *ChannelBus) subscribers(tenantID, topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.routes[subject(tenantID, topic)])
}

// Unsubscribe detaches the subscription. Buffered messages are discarded.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := slices.DeleteFunc(b.routes[s.route], func(o *channelSubscription) bool { return o == s })
		if len(subs) == 0 {
			delete(b.routes, s.route)
		} else {
			b.routes[s.route] = subs
		}
	})
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
