package scoring

import (
	"math"
	"strings"

	"github.com/opensource-finance/avia/internal/domain"
)

// degradedTopFeatures are reported whenever the degraded scorer is used.
var degradedTopFeatures = []string{"claim amount", "customer tenure", "damage severity"}

// degradedScore scores a claim without models:
//
//	claim    = clamp(10..100, amount / 1000)
//	customer = clamp(10..100, 100 - tenure)   tenure defaults to 50
//	pattern  = 40 for total-loss severity, else 20
func degradedScore(claim domain.ClaimRecord) *RiskResult {
	amount := claim.FloatOr("total_claim_amount", 0)
	tenure := claim.FloatOr("months_as_customer", 50)
	severity := strings.ToLower(claim.TextOr("incident_severity", ""))

	claimRisk := math.Min(100, math.Max(10, amount/1000))
	customerRisk := math.Min(100, math.Max(10, 100-tenure))
	patternRisk := 20.0
	if strings.Contains(severity, "total") {
		patternRisk = 40
	}

	r := combine(claimRisk, customerRisk, patternRisk)
	r.TopFeatures = append([]string(nil), degradedTopFeatures...)
	r.Mode = ModeDegraded
	r.FraudProbability = round4(r.OverallRisk / 100)
	r.AnomalyScore = 0
	return r
}
