package scoring

import (
	"sort"
	"strings"
)

// Bucket is one of the three semantic groups a feature's contribution rolls up into.
type Bucket string

const (
	BucketClaim    Bucket = "claim"
	BucketCustomer Bucket = "customer"
	BucketPattern  Bucket = "pattern"
)

const (
	// contributionThreshold is the minimum positive contribution for a
	// feature to be reported as a top feature.
	contributionThreshold = 0.02
	maxTopFeatures        = 6
	minDenominator        = 0.01
)

var claimFeatures = map[string]struct{}{
	"total_claim_amount":          {},
	"injury_claim":                {},
	"property_claim":              {},
	"vehicle_claim":               {},
	"incident_type":               {},
	"collision_type":              {},
	"incident_severity":           {},
	"incident_hour_of_the_day":    {},
	"number_of_vehicles_involved": {},
	"bodily_injuries":             {},
	"witnesses":                   {},
	"property_damage":             {},
	"police_report_available":     {},
	"authorities_contacted":       {},
}

var customerFeatures = map[string]struct{}{
	"months_as_customer":      {},
	"age":                     {},
	"insured_sex":             {},
	"insured_education_level": {},
	"insured_occupation":      {},
	"insured_hobbies":         {},
	"insured_relationship":    {},
	"capital-gains":           {},
	"capital-loss":            {},
	"policy_annual_premium":   {},
	"policy_deductable":       {},
	"umbrella_limit":          {},
}

var featureLabels = map[string]string{
	"months_as_customer":          "customer tenure",
	"age":                         "policyholder age",
	"policy_deductable":           "deductible amount",
	"policy_annual_premium":       "annual premium",
	"umbrella_limit":              "umbrella coverage limit",
	"insured_sex":                 "gender",
	"insured_education_level":     "education level",
	"insured_occupation":          "occupation",
	"insured_relationship":        "relationship status",
	"capital-gains":               "reported capital gains",
	"capital-loss":                "reported capital losses",
	"incident_type":               "type of incident",
	"collision_type":              "collision type",
	"incident_severity":           "damage severity",
	"authorities_contacted":       "authorities contacted",
	"number_of_vehicles_involved": "number of vehicles",
	"bodily_injuries":             "bodily injuries",
	"witnesses":                   "witness count",
	"total_claim_amount":          "total claim amount",
	"injury_claim":                "injury claim portion",
	"property_claim":              "property claim portion",
	"vehicle_claim":               "vehicle claim portion",
	"incident_hour_of_the_day":    "time of incident",
	"auto_make":                   "vehicle make",
	"auto_model":                  "vehicle model",
	"auto_year":                   "vehicle age",
	"policy_state":                "policy state",
	"insured_hobbies":             "policyholder hobbies",
	"incident_state":              "incident location",
	"incident_city":               "incident city",
	"property_damage":             "property damage reported",
	"police_report_available":     "police report availability",
}

// BucketOf returns the bucket a feature belongs to. Features not listed
// under claim or customer belong to pattern.
func BucketOf(feature string) Bucket {
	if _, ok := claimFeatures[feature]; ok {
		return BucketClaim
	}
	if _, ok := customerFeatures[feature]; ok {
		return BucketCustomer
	}
	return BucketPattern
}

// Label returns the investigator-facing name of a feature.
func Label(feature string) string {
	if l, ok := featureLabels[feature]; ok {
		return l
	}
	return strings.ReplaceAll(feature, "_", " ")
}

// BucketScores are the three normalized sub-scores of one claim.
type BucketScores struct {
	Claim       float64
	Customer    float64
	Pattern     float64
	TopFeatures []string
}

// Aggregate folds per-feature contributions into bucket scores.
//
// Each bucket scores 100 × (positive mass / absolute mass), so a bucket whose
// features only push towards fraud scores 100 and one whose features only
// push away scores 0.
func Aggregate(values []float64, names []string) BucketScores {
	var pos, abs [3]float64
	idx := func(b Bucket) int {
		switch b {
		case BucketClaim:
			return 0
		case BucketCustomer:
			return 1
		}
		return 2
	}

	type contribution struct {
		label string
		value float64
	}
	var top []contribution

	for i, v := range values {
		if i >= len(names) {
			break
		}
		b := idx(BucketOf(names[i]))
		if v > 0 {
			pos[b] += v
		}
		abs[b] += absf(v)
		if v > contributionThreshold {
			top = append(top, contribution{label: Label(names[i]), value: v})
		}
	}

	sort.SliceStable(top, func(i, j int) bool { return top[i].value > top[j].value })
	if len(top) > maxTopFeatures {
		top = top[:maxTopFeatures]
	}
	labels := make([]string, 0, len(top))
	for _, c := range top {
		labels = append(labels, c.label)
	}

	score := func(b int) float64 {
		den := abs[b]
		if den < minDenominator {
			den = minDenominator
		}
		return clamp(100 * pos[b] / den)
	}

	return BucketScores{
		Claim:       score(0),
		Customer:    score(1),
		Pattern:     score(2),
		TopFeatures: labels,
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
