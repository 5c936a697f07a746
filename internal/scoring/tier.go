package scoring

import (
	"math"
	"strconv"

	"github.com/opensource-finance/avia/internal/domain"
)

// Bucket weights in the overall score.
const (
	ClaimWeight    = 0.45
	CustomerWeight = 0.30
	PatternWeight  = 0.25
)

// Tier thresholds on the overall score. Both are inclusive lower bounds.
const (
	HighThreshold   = 65.0
	MediumThreshold = 35.0
)

// Next actions per tier.
const (
	ActionReviewImmediately = "Review Immediately"
	ActionQueueForReview    = "Queue for Review"
	ActionSafeToProceed     = "Safe to Proceed"
)

// Overall combines bucket scores into the overall score, rounded to one decimal.
func Overall(claim, customer, pattern float64) float64 {
	return Round1(ClaimWeight*claim + CustomerWeight*customer + PatternWeight*pattern)
}

// TierFor maps an overall score to a risk tier.
func TierFor(overall float64) domain.RiskLevel {
	switch {
	case overall >= HighThreshold:
		return domain.RiskHigh
	case overall >= MediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// NextAction returns the recommended action for a tier.
func NextAction(level domain.RiskLevel) string {
	switch level {
	case domain.RiskHigh:
		return ActionReviewImmediately
	case domain.RiskMedium:
		return ActionQueueForReview
	default:
		return ActionSafeToProceed
	}
}

// Round1 rounds x to one decimal place. The exact binary value is rounded,
// with ties to even, so 0.15 becomes 0.1 and 2.25 becomes 2.2.
func Round1(x float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', 1, 64), 64)
	if err != nil {
		return x
	}
	return r
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}

func clamp(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x < 0:
		return 0
	case x > 100:
		return 100
	}
	return x
}
