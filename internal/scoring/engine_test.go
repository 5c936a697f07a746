package scoring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/metrics"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func failingLoader() (*Bundle, error) {
	return nil, errors.New("no such directory")
}

// heuristicBundle has a classifier without cover, so attribution falls back
// to heuristic buckets. It predicts 0.7 for every claim with anomaly -0.1.
func heuristicBundle(t *testing.T) *Bundle {
	t.Helper()
	clf := &TreeEnsemble{
		BaseScore: 0.7,
		Trees:     []Tree{{Nodes: []TreeNode{{IsLeaf: true, Leaf: 0}}}},
	}
	iso := &IsolationForest{
		MaxSamples: 4,
		Offset:     -0.9,
		Trees:      []IsolationTree{{Nodes: []IsolationNode{{Left: -1, Right: -1, Samples: 1}}}},
	}
	b, err := NewBundle(testMetadata(), identityScaler(len(testFeatures)), testEncoders(), clf, iso)
	if err != nil {
		t.Fatalf("failed to build bundle: %v", err)
	}
	return b
}

func TestEngineDegraded(t *testing.T) {
	e := NewEngine(failingLoader, Options{}, quietLogger())

	if e.Available() {
		t.Fatal("expected engine to be unavailable")
	}

	r := e.Score(context.Background(), domain.ClaimRecord{"total_claim_amount": 80000})

	if r.Mode != ModeDegraded {
		t.Errorf("expected degraded mode, got %s", r.Mode)
	}
	if r.ClaimRisk != 80 || r.CustomerRisk != 50 || r.PatternRisk != 20 {
		t.Errorf("expected buckets 80/50/20, got %v/%v/%v", r.ClaimRisk, r.CustomerRisk, r.PatternRisk)
	}
	if r.OverallRisk != 56 {
		t.Errorf("expected overall 56.0, got %v", r.OverallRisk)
	}
	if r.RiskLevel != domain.RiskMedium {
		t.Errorf("expected Medium, got %s", r.RiskLevel)
	}
	if r.NextAction != ActionQueueForReview {
		t.Errorf("expected %q, got %q", ActionQueueForReview, r.NextAction)
	}
	if r.FraudProbability != 0.56 {
		t.Errorf("expected fraud probability 0.56, got %v", r.FraudProbability)
	}
	if r.AnomalyScore != 0 {
		t.Errorf("expected anomaly 0, got %v", r.AnomalyScore)
	}
	want := []string{"claim amount", "customer tenure", "damage severity"}
	if diff := cmp.Diff(want, r.TopFeatures); diff != "" {
		t.Errorf("top features mismatch (-want +got):\n%s", diff)
	}

	s := e.Status()
	if s.Loaded || s.Mode != ModeDegraded || s.Error == "" {
		t.Errorf("unexpected status: %+v", s)
	}
	if e.Version() != "degraded" {
		t.Errorf("expected version degraded, got %s", e.Version())
	}
}

func TestEngineDegradedFloors(t *testing.T) {
	e := NewEngine(nil, Options{}, quietLogger())

	r := e.Score(context.Background(), domain.ClaimRecord{
		"total_claim_amount": 500,
		"months_as_customer": 240,
		"incident_severity":  "Total Loss",
	})
	if r.ClaimRisk != 10 || r.CustomerRisk != 10 || r.PatternRisk != 40 {
		t.Errorf("expected buckets 10/10/40, got %v/%v/%v", r.ClaimRisk, r.CustomerRisk, r.PatternRisk)
	}
	if r.RiskLevel != domain.RiskLow {
		t.Errorf("expected Low, got %s", r.RiskLevel)
	}
}

func TestEngineHeuristicAttribution(t *testing.T) {
	tests := []struct {
		name  string
		claim domain.ClaimRecord
	}{
		{"LargeTotalLoss", domain.ClaimRecord{
			"total_claim_amount":      80000,
			"incident_severity":       "Total Loss",
			"months_as_customer":      6,
			"police_report_available": "NO",
		}},
		{"NewCustomerNoPoliceReport", domain.ClaimRecord{
			"total_claim_amount":      60000,
			"incident_severity":       "Total Loss",
			"months_as_customer":      3,
			"police_report_available": "NO",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(StaticLoader(heuristicBundle(t)), Options{}, quietLogger())
			r := e.Score(context.Background(), tt.claim)

			if r.Mode != ModeModel {
				t.Fatalf("expected model mode, got %s", r.Mode)
			}
			if r.Attribution != AttributionHeuristic {
				t.Errorf("expected heuristic attribution, got %s", r.Attribution)
			}
			if r.FraudProbability != 0.7 {
				t.Errorf("expected fraud probability 0.7, got %v", r.FraudProbability)
			}
			if r.AnomalyScore != -0.1 {
				t.Errorf("expected anomaly -0.1, got %v", r.AnomalyScore)
			}
			if r.ClaimRisk != 91 || r.CustomerRisk != 60 || r.PatternRisk != 46 {
				t.Errorf("expected buckets 91/60/46, got %v/%v/%v", r.ClaimRisk, r.CustomerRisk, r.PatternRisk)
			}
			if r.OverallRisk != Overall(91, 60, 46) || r.OverallRisk < 65 {
				t.Errorf("expected overall %v, got %v", Overall(91, 60, 46), r.OverallRisk)
			}
			if r.RiskLevel != domain.RiskHigh || r.NextAction != ActionReviewImmediately {
				t.Errorf("expected High / %q, got %s / %q", ActionReviewImmediately, r.RiskLevel, r.NextAction)
			}

			want := []string{"total claim amount", "damage severity", "customer tenure", "police report availability"}
			if diff := cmp.Diff(want, r.TopFeatures); diff != "" {
				t.Errorf("top features mismatch (-want +got):\n%s", diff)
			}

			s := e.Status()
			if s.Attribution != AttributionHeuristic || s.AttributionReason == "" {
				t.Errorf("expected heuristic attribution with a reason, got %+v", s)
			}
		})
	}
}

func TestEngineAttributionFallsBackPerCall(t *testing.T) {
	clf := testClassifier()
	clf.Trees[0].Nodes[4].Leaf = math.Inf(1)
	b, err := NewBundle(testMetadata(), identityScaler(len(testFeatures)), testEncoders(), clf, testForest())
	if err != nil {
		t.Fatalf("failed to build bundle: %v", err)
	}
	e := NewEngine(StaticLoader(b), Options{}, quietLogger())

	if s := e.Status(); s.Attribution != AttributionTreeSHAP {
		t.Fatalf("expected tree_shap attribution at load, got %+v", s)
	}

	claim := domain.ClaimRecord{
		"months_as_customer":      3,
		"policy_state":            "OH",
		"total_claim_amount":      61000,
		"incident_severity":       "Total Loss",
		"police_report_available": "NO",
	}
	before := counterValue(t, metrics.AttributionFallbacksTotal)

	r := e.Score(context.Background(), claim)

	if r.Mode != ModeModel || r.Attribution != AttributionHeuristic {
		t.Fatalf("expected model mode with heuristic attribution, got %s / %s", r.Mode, r.Attribution)
	}

	x := Vectorize(claim, b)
	h := HeuristicAttribution(claim, b.Classifier.Probability(x), b.Anomaly.Score(x))
	want := combine(h.Claim, h.Customer, h.Pattern)
	if r.ClaimRisk != want.ClaimRisk || r.CustomerRisk != want.CustomerRisk || r.PatternRisk != want.PatternRisk {
		t.Errorf("expected heuristic buckets %v/%v/%v, got %v/%v/%v",
			want.ClaimRisk, want.CustomerRisk, want.PatternRisk, r.ClaimRisk, r.CustomerRisk, r.PatternRisk)
	}
	if r.OverallRisk != want.OverallRisk || r.RiskLevel != want.RiskLevel {
		t.Errorf("expected overall %v (%s), got %v (%s)", want.OverallRisk, want.RiskLevel, r.OverallRisk, r.RiskLevel)
	}
	if diff := cmp.Diff(h.Labels, r.TopFeatures); diff != "" {
		t.Errorf("top features mismatch (-want +got):\n%s", diff)
	}

	if got := counterValue(t, metrics.AttributionFallbacksTotal) - before; got != 1 {
		t.Errorf("expected 1 attribution fallback, got %v", got)
	}
	if s := e.Status(); s.Attribution != AttributionTreeSHAP {
		t.Errorf("expected status to keep tree_shap, got %s", s.Attribution)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestEngineTreeSHAP(t *testing.T) {
	e := NewEngine(StaticLoader(newTestBundle(t)), Options{}, quietLogger())

	claim := domain.ClaimRecord{
		"months_as_customer":      3,
		"policy_state":            "OH",
		"total_claim_amount":      61000,
		"incident_severity":       "Total Loss",
		"police_report_available": "NO",
	}

	r := e.Score(context.Background(), claim)

	if r.Mode != ModeModel || r.Attribution != AttributionTreeSHAP {
		t.Fatalf("expected model mode with tree_shap, got %s / %s", r.Mode, r.Attribution)
	}
	if r.ModelVersion != "test-1" {
		t.Errorf("expected model version test-1, got %s", r.ModelVersion)
	}
	for name, v := range map[string]float64{
		"claim":    r.ClaimRisk,
		"customer": r.CustomerRisk,
		"pattern":  r.PatternRisk,
		"overall":  r.OverallRisk,
	} {
		if v < 0 || v > 100 {
			t.Errorf("%s score %v out of range", name, v)
		}
		if v != Round1(v) {
			t.Errorf("%s score %v not rounded to one decimal", name, v)
		}
	}
	if r.OverallRisk != Overall(r.ClaimRisk, r.CustomerRisk, r.PatternRisk) {
		t.Errorf("overall %v does not match buckets", r.OverallRisk)
	}
	if len(r.TopFeatures) == 0 || len(r.TopFeatures) > 6 {
		t.Errorf("expected 1 to 6 top features, got %v", r.TopFeatures)
	}
	if r.TopFeatures[0] != "total claim amount" {
		t.Errorf("expected total claim amount to lead, got %v", r.TopFeatures)
	}

	x := Vectorize(claim, newTestBundle(t))
	wantProb := math.Round(testClassifier().Probability(x)*1e4) / 1e4
	if r.FraudProbability != wantProb {
		t.Errorf("expected fraud probability %v, got %v", wantProb, r.FraudProbability)
	}

	again := e.Score(context.Background(), claim)
	if diff := cmp.Diff(r, again); diff != "" {
		t.Errorf("scoring is not deterministic (-first +second):\n%s", diff)
	}
}

func TestEngineDisableAttribution(t *testing.T) {
	e := NewEngine(StaticLoader(newTestBundle(t)), Options{DisableAttribution: true}, quietLogger())

	r := e.Score(context.Background(), domain.ClaimRecord{"total_claim_amount": 10000, "months_as_customer": 200, "police_report_available": "YES"})
	if r.Attribution != AttributionHeuristic {
		t.Errorf("expected heuristic attribution, got %s", r.Attribution)
	}
	if len(r.TopFeatures) != 0 {
		t.Errorf("expected no heuristic labels, got %v", r.TopFeatures)
	}
	if r.TopFeatures == nil {
		t.Error("expected empty top features, got nil")
	}
}

func TestEngineStatus(t *testing.T) {
	e := NewEngine(StaticLoader(newTestBundle(t)), Options{}, quietLogger())

	want := Status{
		Loaded:           true,
		Mode:             ModeModel,
		Version:          "test-1",
		Features:         5,
		CategoricalCount: 3,
		ClassifierTrees:  4,
		AnomalyTrees:     1,
		Attribution:      AttributionTreeSHAP,
	}
	if diff := cmp.Diff(want, e.Status()); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestEngineLoadsOnce(t *testing.T) {
	calls := 0
	loader := func() (*Bundle, error) {
		calls++
		return nil, ErrArtifactsUnavailable
	}
	e := NewEngine(loader, Options{}, quietLogger())
	for i := 0; i < 3; i++ {
		e.Score(context.Background(), domain.ClaimRecord{})
	}
	e.Status()
	if calls != 1 {
		t.Errorf("expected loader to run once, ran %d times", calls)
	}
}

func TestScoreBatch(t *testing.T) {
	e := NewEngine(failingLoader, Options{}, quietLogger())

	claims := make([]domain.ClaimRecord, 20)
	for i := range claims {
		claims[i] = domain.ClaimRecord{"total_claim_amount": float64((i + 1) * 5000)}
	}

	results, err := e.ScoreBatch(context.Background(), claims, 4)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(results) != len(claims) {
		t.Fatalf("expected %d results, got %d", len(claims), len(results))
	}
	for i, r := range results {
		want := math.Max(10, float64((i+1)*5))
		if r.ClaimRisk != want {
			t.Errorf("result %d: expected claim risk %v, got %v", i, want, r.ClaimRisk)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.ScoreBatch(ctx, claims, 2); err == nil {
		t.Error("expected error for cancelled context")
	}
}
