package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ClaimRecord holds one insurance claim's raw attributes keyed by field name.
// Values are scalars (string, number, bool) or nil.
type ClaimRecord map[string]any

// Float coerces a field to float64. ok is false when the field is absent,
// null, non-numeric, NaN or infinite.
func (c ClaimRecord) Float(key string) (float64, bool) {
	return ToFloat(c[key])
}

// FloatOr returns the coerced field or def when coercion fails.
func (c ClaimRecord) FloatOr(key string, def float64) float64 {
	if f, ok := c.Float(key); ok {
		return f
	}
	return def
}

// Text renders a field as a string. ok is false when the field is absent or null.
func (c ClaimRecord) Text(key string) (string, bool) {
	return ToText(c[key])
}

// TextOr returns the rendered field or def when it is absent or null.
func (c ClaimRecord) TextOr(key string, def string) string {
	if s, ok := c.Text(key); ok {
		return s
	}
	return def
}

// Clone returns a shallow copy of the record.
func (c ClaimRecord) Clone() ClaimRecord {
	out := make(ClaimRecord, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ToFloat coerces a scalar to float64.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToText renders a scalar the way the training pipeline stringified
// categorical columns: integral numbers without a fraction, booleans as
// True/False.
func ToText(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case bool:
		if x {
			return "True", true
		}
		return "False", true
	case json.Number:
		return x.String(), true
	case float64:
		return formatNumber(x), true
	case float32:
		return formatNumber(float64(x)), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		if f, ok := ToFloat(v); ok {
			return formatNumber(f), true
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ClaimStatus is the investigation state of a claim.
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "pending"
	ClaimAnalyzed  ClaimStatus = "analyzed"
	ClaimEscalated ClaimStatus = "escalated"
	ClaimCleared   ClaimStatus = "cleared"
	ClaimDeferred  ClaimStatus = "deferred"
)

// ClaimSource records where a claim came from.
type ClaimSource string

const (
	// SourceDataset claims were imported from the demo dataset.
	SourceDataset ClaimSource = "dataset"
	// SourceUploaded claims were filed through the API.
	SourceUploaded ClaimSource = "uploaded"
)

// Claim is an insurance claim under investigation, owned by one organization.
type Claim struct {
	ID           string      `json:"id"`
	OrgID        string      `json:"orgId"`
	PolicyNumber string      `json:"policyNumber"`
	Data         ClaimRecord `json:"claimData"`
	Source       ClaimSource `json:"source"`
	Status       ClaimStatus `json:"status"`
	CreatedBy    string      `json:"createdBy,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`

	// Analysis is nil until the claim has been scored.
	Analysis *Analysis `json:"analysis,omitempty"`
}

// RiskLevel is the discrete risk tier of a scored claim.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Analysis is the persisted outcome of scoring a claim.
type Analysis struct {
	RiskLevel     RiskLevel   `json:"riskLevel"`
	ClaimRisk     float64     `json:"claimRisk"`
	CustomerRisk  float64     `json:"customerRisk"`
	PatternRisk   float64     `json:"patternRisk"`
	OverallRisk   float64     `json:"overallRisk"`
	NextAction    string      `json:"nextAction"`
	TopFeatures   []string    `json:"topFeatures"`
	Explanation   string      `json:"explanation"`
	DecisionTrace []TraceStep `json:"decisionTrace"`
	Flags         []RuleFlag  `json:"flags,omitempty"`
	Model         ModelOutput `json:"model"`
	AnalyzedAt    time.Time   `json:"analyzedAt"`
}

// ModelOutput carries the raw model signals behind an analysis.
type ModelOutput struct {
	FraudProbability float64 `json:"fraudProbability"`
	AnomalyScore     float64 `json:"anomalyScore"`
	Mode             string  `json:"mode"`
	Attribution      string  `json:"attribution,omitempty"`
	Version          string  `json:"version,omitempty"`
}

// TraceStep is one numbered step of the decision narrative.
type TraceStep struct {
	Step   int    `json:"step"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}
