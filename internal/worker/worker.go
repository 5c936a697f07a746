// Package worker runs queued claim analyses from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/metrics"
)

// Analyzer runs the analysis pipeline for one claim.
type Analyzer interface {
	Analyze(ctx context.Context, orgID, claimID string) (*domain.Claim, error)
}

// Worker consumes analyze requests per organization and publishes the
// outcome of each analysis.
type Worker struct {
	bus      domain.EventBus
	analyzer Analyzer
	logger   *slog.Logger
	tracer   trace.Tracer

	mu            sync.Mutex
	subscriptions map[string]domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// OrgIDs lists the organizations whose queues are consumed.
	OrgIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, analyzer Analyzer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:           bus,
		analyzer:      analyzer,
		logger:        logger,
		tracer:        otel.Tracer("avia-worker"),
		subscriptions: make(map[string]domain.Subscription),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start subscribes to the analyze topic of each organization. Organizations
// already being consumed are skipped, so Start may be called again as
// organizations are added.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.OrgIDs) == 0 {
		return errors.New("worker: no organizations to consume")
	}

	started := 0
	for _, orgID := range cfg.OrgIDs {
		if err := w.startOrgWorker(orgID); err != nil {
			w.logger.Error("failed to start worker for organization",
				"org_id", orgID,
				"error", err,
			)
			continue
		}
		started++
	}

	w.logger.Info("workers started", "org_count", started)
	return nil
}

func (w *Worker) startOrgWorker(orgID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.subscriptions[orgID]; ok {
		return nil
	}

	sub, err := w.bus.Subscribe(w.ctx, orgID, domain.TopicClaimAnalyze, func(ctx context.Context, msg *domain.Message) error {
		return w.processClaim(ctx, orgID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions[orgID] = sub

	w.logger.Info("organization worker started",
		"org_id", orgID,
		"topic", domain.TopicClaimAnalyze,
	)
	return nil
}

// processClaim analyzes the requested claim and publishes the result. High
// risk results are also published to the alert topic.
func (w *Worker) processClaim(ctx context.Context, orgID string, msg *domain.Message) error {
	start := time.Now()

	ctx, span := w.tracer.Start(ctx, "worker.processClaim",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("org.id", orgID),
			attribute.String("messaging.message.id", msg.ID),
		),
	)
	defer span.End()

	var req domain.AnalyzeRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		metrics.WorkerMessagesTotal.WithLabelValues("invalid").Inc()
		w.logger.Error("failed to parse analyze request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// The subscription's organization wins over the payload.
	if req.OrgID != "" && req.OrgID != orgID {
		metrics.WorkerMessagesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("analyze request for %s delivered to %s", req.OrgID, orgID)
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	w.logger.Debug("processing claim",
		"claim_id", req.ClaimID,
		"org_id", orgID,
		"trace_id", traceID,
	)

	claim, err := w.analyzer.Analyze(ctx, orgID, req.ClaimID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.WorkerMessagesTotal.WithLabelValues("failed").Inc()
		w.logger.Error("claim analysis failed",
			"claim_id", req.ClaimID,
			"org_id", orgID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	a := claim.Analysis
	event := domain.AnalysisEvent{
		ClaimID:     claim.ID,
		OrgID:       orgID,
		RiskLevel:   a.RiskLevel,
		OverallRisk: a.OverallRisk,
		NextAction:  a.NextAction,
		Mode:        a.Model.Mode,
		Flags:       len(a.Flags),
	}
	payload, _ := json.Marshal(event)

	if err := w.bus.Publish(ctx, orgID, domain.TopicClaimAnalyzed, payload); err != nil {
		w.logger.Error("failed to publish analysis",
			"claim_id", claim.ID,
			"error", err,
		)
	}

	if ShouldAlert(a) {
		if err := w.bus.Publish(ctx, orgID, domain.TopicClaimAlert, payload); err != nil {
			w.logger.Error("failed to publish alert",
				"claim_id", claim.ID,
				"error", err,
			)
		}
	}

	metrics.WorkerMessagesTotal.WithLabelValues("processed").Inc()
	w.logger.Info("claim processed",
		"claim_id", claim.ID,
		"org_id", orgID,
		"trace_id", traceID,
		"risk_level", a.RiskLevel,
		"overall_risk", a.OverallRisk,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// ShouldAlert reports whether an analysis needs immediate attention.
func ShouldAlert(a *domain.Analysis) bool {
	return a != nil && a.RiskLevel == domain.RiskHigh
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for orgID, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"org_id", orgID,
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = make(map[string]domain.Subscription)

	w.logger.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	OrgIDs            []string `json:"orgIds"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	orgs := make([]string, 0, len(w.subscriptions))
	for orgID := range w.subscriptions {
		orgs = append(orgs, orgID)
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		OrgIDs:            orgs,
	}
}
