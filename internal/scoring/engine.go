// Package scoring implements the three-bucket claim risk scoring engine.
//
// A claim record is vectorized, scored by a gradient-boosted classifier and
// an isolation forest, attributed per feature with Tree SHAP, and folded into
// claim, customer and pattern sub-scores that combine 45/30/25 into an
// overall score and risk tier.
package scoring

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/metrics"
)

// Mode says which scorer produced a result.
type Mode string

const (
	// ModeModel results come from the trained models.
	ModeModel Mode = "model"

	// ModeDegraded results come from a fixed formula over claim amount,
	// tenure and severity because the artifacts could not be loaded.
	ModeDegraded Mode = "degraded"
)

// RiskResult is the output of scoring one claim.
type RiskResult struct {
	ClaimRisk        float64          `json:"claimRisk"`
	CustomerRisk     float64          `json:"customerRisk"`
	PatternRisk      float64          `json:"patternRisk"`
	OverallRisk      float64          `json:"overallRisk"`
	RiskLevel        domain.RiskLevel `json:"riskLevel"`
	NextAction       string           `json:"nextAction"`
	TopFeatures      []string         `json:"topFeatures"`
	Mode             Mode             `json:"mode"`
	Attribution      AttributionKind  `json:"attribution,omitempty"`
	FraudProbability float64          `json:"fraudProbability"`
	AnomalyScore     float64          `json:"anomalyScore"`
	ModelVersion     string           `json:"modelVersion,omitempty"`
}

// Options tune the engine.
type Options struct {
	// DisableAttribution skips Tree SHAP and always uses heuristic buckets.
	DisableAttribution bool
}

// Status describes the engine's artifact state.
type Status struct {
	Loaded            bool            `json:"loaded"`
	Mode              Mode            `json:"mode"`
	Version           string          `json:"version,omitempty"`
	Features          int             `json:"features"`
	CategoricalCount  int             `json:"categoricalFeatures"`
	ClassifierTrees   int             `json:"classifierTrees"`
	AnomalyTrees      int             `json:"anomalyTrees"`
	Attribution       AttributionKind `json:"attribution,omitempty"`
	Error             string          `json:"error,omitempty"`
	AttributionReason string          `json:"attributionReason,omitempty"`
}

// Engine scores claims. Artifacts are loaded on first use and never
// reloaded; a failed load leaves the engine in degraded mode for its lifetime.
type Engine struct {
	loader Loader
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer

	once      sync.Once
	bundle    *Bundle
	explainer *TreeExplainer
	loadErr   error
	attrErr   error
}

// NewEngine creates a scoring engine that loads artifacts with loader.
func NewEngine(loader Loader, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		loader: loader,
		opts:   opts,
		logger: logger,
		tracer: otel.Tracer("avia-scoring"),
	}
}

func (e *Engine) load() {
	e.once.Do(func() {
		if e.loader == nil {
			e.loadErr = ErrArtifactsUnavailable
		} else {
			b, err := e.loader()
			switch {
			case err != nil && !errors.Is(err, ErrArtifactsUnavailable):
				e.loadErr = errors.Join(ErrArtifactsUnavailable, err)
			case err != nil:
				e.loadErr = err
			case b == nil:
				e.loadErr = ErrArtifactsUnavailable
			default:
				e.bundle = b
			}
		}

		if e.loadErr != nil {
			metrics.ModelLoaded.Set(0)
			e.logger.Warn("model artifacts unavailable, scoring in degraded mode", "error", e.loadErr)
			return
		}
		metrics.ModelLoaded.Set(1)

		if e.opts.DisableAttribution {
			e.attrErr = errors.New("disabled by configuration")
		} else {
			e.explainer, e.attrErr = NewTreeExplainer(e.bundle.Classifier, len(e.bundle.FeatureNames()))
		}
		if e.attrErr != nil {
			e.logger.Warn("tree attribution unavailable, using heuristic buckets", "error", e.attrErr)
		}

		e.logger.Info("model artifacts loaded",
			"version", e.bundle.Metadata.Version,
			"features", len(e.bundle.FeatureNames()),
			"classifier_trees", len(e.bundle.Classifier.Trees),
			"anomaly_trees", len(e.bundle.Anomaly.Trees),
			"attribution", e.explainer != nil,
		)
	})
}

// Available reports whether model artifacts are loaded. It triggers the
// one-time load.
func (e *Engine) Available() bool {
	e.load()
	return e.loadErr == nil
}

// Status reports the artifact state for diagnostics.
func (e *Engine) Status() Status {
	e.load()
	if e.loadErr != nil {
		return Status{Mode: ModeDegraded, Error: e.loadErr.Error()}
	}
	s := Status{
		Loaded:           true,
		Mode:             ModeModel,
		Version:          e.bundle.Metadata.Version,
		Features:         len(e.bundle.FeatureNames()),
		CategoricalCount: len(e.bundle.codes),
		ClassifierTrees:  len(e.bundle.Classifier.Trees),
		AnomalyTrees:     len(e.bundle.Anomaly.Trees),
		Attribution:      AttributionTreeSHAP,
	}
	if e.explainer == nil {
		s.Attribution = AttributionHeuristic
		s.AttributionReason = e.attrErr.Error()
	}
	return s
}

// Version returns the loaded model version, or "degraded".
func (e *Engine) Version() string {
	e.load()
	if e.loadErr != nil {
		return string(ModeDegraded)
	}
	if e.bundle.Metadata.Version == "" {
		return "unversioned"
	}
	return e.bundle.Metadata.Version
}

// Score returns a RiskResult for any claim record. It never fails: when the
// artifacts are unavailable the result comes from the degraded scorer and
// Mode says so.
func (e *Engine) Score(ctx context.Context, claim domain.ClaimRecord) *RiskResult {
	_, span := e.tracer.Start(ctx, "scoring.Score")
	defer span.End()
	start := time.Now()

	e.load()

	var result *RiskResult
	if e.loadErr != nil {
		result = degradedScore(claim)
	} else {
		result = e.scoreModel(claim)
	}

	metrics.ScoreDuration.Observe(time.Since(start).Seconds())
	metrics.ScoresTotal.WithLabelValues(string(result.Mode), string(result.Attribution), string(result.RiskLevel)).Inc()

	span.SetAttributes(
		attribute.String("scoring.mode", string(result.Mode)),
		attribute.String("scoring.attribution", string(result.Attribution)),
		attribute.Float64("scoring.overall", result.OverallRisk),
		attribute.String("scoring.level", string(result.RiskLevel)),
	)

	return result
}

func (e *Engine) scoreModel(claim domain.ClaimRecord) *RiskResult {
	b := e.bundle
	x := Vectorize(claim, b)

	prob := b.Classifier.Probability(x)
	anomaly := b.Anomaly.Score(x)

	attr := e.attribute(claim, x, prob, anomaly)

	var buckets BucketScores
	switch attr.Kind {
	case AttributionTreeSHAP:
		buckets = Aggregate(attr.Values, b.FeatureNames())
	default:
		h := attr.Heuristic
		buckets = BucketScores{
			Claim:       h.Claim,
			Customer:    h.Customer,
			Pattern:     h.Pattern,
			TopFeatures: h.Labels,
		}
	}

	r := combine(buckets.Claim, buckets.Customer, buckets.Pattern)
	r.TopFeatures = buckets.TopFeatures
	if r.TopFeatures == nil {
		r.TopFeatures = []string{}
	}
	r.Mode = ModeModel
	r.Attribution = attr.Kind
	r.FraudProbability = round4(prob)
	r.AnomalyScore = round4(anomaly)
	r.ModelVersion = b.Metadata.Version
	return r
}

// attribute runs Tree SHAP, falling back to heuristic buckets for this call
// when attribution is unavailable or fails.
func (e *Engine) attribute(claim domain.ClaimRecord, x []float64, prob, anomaly float64) Attribution {
	if e.explainer != nil {
		values, err := e.explainer.Explain(x)
		if err == nil {
			return Attribution{Kind: AttributionTreeSHAP, Values: values}
		}
		metrics.AttributionFallbacksTotal.Inc()
		e.logger.Warn("attribution failed, using heuristic buckets", "error", err)
	}
	h := HeuristicAttribution(claim, prob, anomaly)
	return Attribution{Kind: AttributionHeuristic, Heuristic: &h}
}

// combine rounds bucket scores and derives overall, tier and action.
func combine(claim, customer, pattern float64) *RiskResult {
	r := &RiskResult{
		ClaimRisk:    Round1(clamp(claim)),
		CustomerRisk: Round1(clamp(customer)),
		PatternRisk:  Round1(clamp(pattern)),
	}
	r.OverallRisk = Overall(r.ClaimRisk, r.CustomerRisk, r.PatternRisk)
	r.RiskLevel = TierFor(r.OverallRisk)
	r.NextAction = NextAction(r.RiskLevel)
	return r
}

// ScoreBatch scores claims concurrently with at most workers in flight.
// Results are returned in input order.
func (e *Engine) ScoreBatch(ctx context.Context, claims []domain.ClaimRecord, workers int) ([]*RiskResult, error) {
	if workers <= 0 {
		workers = 4
	}
	e.load()

	results := make([]*RiskResult, len(claims))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, c := range claims {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.Score(gctx, c)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
