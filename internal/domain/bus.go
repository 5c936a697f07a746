package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community), NATS (Pro) or Kafka (Enterprise).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string `yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds

	// Kafka settings (Enterprise tier)
	KafkaBrokers []string `yaml:"kafkaBrokers"`

	// ConsumerGroup is the NATS queue group and the Kafka consumer group
	// prefix shared by every Avia instance.
	ConsumerGroup string `yaml:"consumerGroup"`
}

// Topic names for the claim analysis pipeline.
const (
	TopicClaimAnalyze  = "avia.claim.analyze"
	TopicClaimAnalyzed = "avia.claim.analyzed"
	TopicClaimAlert    = "avia.claim.alert"
	TopicClaimDecided  = "avia.claim.decided"
)

// AnalyzeRequest is the payload of TopicClaimAnalyze.
type AnalyzeRequest struct {
	ClaimID     string `json:"claimId"`
	OrgID       string `json:"orgId"`
	RequestedBy string `json:"requestedBy,omitempty"`
	TraceID     string `json:"traceId,omitempty"`
}

// AnalysisEvent is the payload of TopicClaimAnalyzed and TopicClaimAlert.
type AnalysisEvent struct {
	ClaimID     string    `json:"claimId"`
	OrgID       string    `json:"orgId"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	OverallRisk float64   `json:"overallRisk"`
	NextAction  string    `json:"nextAction"`
	Mode        string    `json:"mode"`
	Flags       int       `json:"flags"`
}
