// Package bus provides event bus implementations for Avia.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/avia/internal/domain"
)

var (
	// ErrNoTenant is returned when a call omits the organization.
	ErrNoTenant = errors.New("bus: tenant ID is required")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus: closed")
)

// New creates an event bus from configuration: in-process channels for the
// community tier, NATS for pro and Kafka for enterprise.
func New(cfg domain.EventBusConfig, logger *slog.Logger) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize, logger), nil
	case "nats":
		return NewNATSBus(cfg, logger)
	case "kafka":
		return NewKafkaBus(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// envelope wraps a payload for delivery. The caller's trace context rides
// in Metadata so consumers continue the publishing request's trace.
func envelope(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	md := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(md))
	return &domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  md,
		Timestamp: time.Now().UnixNano(),
	}
}

// deliveryContext restores the publisher's trace context onto ctx.
func deliveryContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
}

// subject names an organization's stream of a topic, e.g.
// avia.claim.analyze.org-apex.
func subject(tenantID, topic string) string {
	return topic + "." + tenantID
}
