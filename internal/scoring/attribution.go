package scoring

import (
	"errors"
	"math"
	"strings"

	"github.com/opensource-finance/avia/internal/domain"
)

// ErrAttributionUnavailable is returned when per-feature attribution cannot
// be computed for a prediction.
var ErrAttributionUnavailable = errors.New("feature attribution unavailable")

// AttributionKind says how bucket scores were derived.
type AttributionKind string

const (
	// AttributionTreeSHAP buckets are built from additive per-feature contributions.
	AttributionTreeSHAP AttributionKind = "tree_shap"

	// AttributionHeuristic buckets are rule-of-thumb adjustments to the fraud
	// probability. They are not additive and must not be read as contributions.
	AttributionHeuristic AttributionKind = "heuristic"
)

// Attribution is the result of attributing one prediction. Values is set
// for AttributionTreeSHAP; Heuristic is set for AttributionHeuristic.
type Attribution struct {
	Kind      AttributionKind
	Values    []float64
	Heuristic *HeuristicBuckets
}

// HeuristicBuckets are bucket scores produced without a feature attribution.
type HeuristicBuckets struct {
	Claim    float64
	Customer float64
	Pattern  float64
	Labels   []string
}

// Heuristic bucket adjustments.
const (
	heuristicClaimWeight    = 0.8
	heuristicCustomerWeight = 0.5
	heuristicPatternWeight  = 0.4

	largeClaimAmount = 50000.0
	shortTenure      = 12.0

	largeClaimBump    = 20.0
	totalLossBump     = 15.0
	shortTenureBump   = 25.0
	noPoliceBump      = 15.0
	anomalyMultiplier = -30.0
)

// HeuristicAttribution derives bucket scores from the fraud probability,
// the anomaly score and a few claim fields.
func HeuristicAttribution(claim domain.ClaimRecord, fraudProbability, anomaly float64) HeuristicBuckets {
	base := fraudProbability * 100
	amount := claim.FloatOr("total_claim_amount", 0)
	tenure := claim.FloatOr("months_as_customer", 0)
	severity := strings.ToLower(claim.TextOr("incident_severity", ""))

	h := HeuristicBuckets{
		Claim:    base * heuristicClaimWeight,
		Customer: base * heuristicCustomerWeight,
		Pattern:  base*heuristicPatternWeight + anomaly*anomalyMultiplier,
	}

	if amount > largeClaimAmount {
		h.Claim = math.Min(100, h.Claim+largeClaimBump)
		h.Labels = append(h.Labels, Label("total_claim_amount"))
	}
	if strings.Contains(severity, "total") {
		h.Claim = math.Min(100, h.Claim+totalLossBump)
		h.Labels = append(h.Labels, Label("incident_severity"))
	}
	if tenure < shortTenure {
		h.Customer = math.Min(100, h.Customer+shortTenureBump)
		h.Labels = append(h.Labels, Label("months_as_customer"))
	}
	if NoPoliceReport(claim) {
		h.Pattern = math.Min(100, h.Pattern+noPoliceBump)
		h.Labels = append(h.Labels, Label("police_report_available"))
	}

	h.Claim = clamp(h.Claim)
	h.Customer = clamp(h.Customer)
	h.Pattern = clamp(h.Pattern)
	return h
}

// NoPoliceReport reports whether the claim lacks a filed police report.
// Absent, empty, "?" and "no" all count as missing.
func NoPoliceReport(claim domain.ClaimRecord) bool {
	switch strings.ToLower(strings.TrimSpace(claim.TextOr("police_report_available", ""))) {
	case "no", "?", "":
		return true
	}
	return false
}
