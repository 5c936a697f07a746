package domain

// RuleConfig defines an investigator flag rule.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression evaluating to bool
	Expression string `json:"expression"`

	Severity FlagSeverity `json:"severity"`

	// Shown to the investigator when the rule fires
	Reason string `json:"reason"`

	Enabled bool `json:"enabled"`
}

// FlagSeverity ranks how urgently a fired rule needs attention.
type FlagSeverity string

const (
	SeverityInfo     FlagSeverity = "info"
	SeverityWarning  FlagSeverity = "warning"
	SeverityCritical FlagSeverity = "critical"
)

// Valid reports whether s is a known severity.
func (s FlagSeverity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// RuleResult is the output of evaluating one rule against a claim.
type RuleResult struct {
	RuleID    string `json:"ruleId"`
	Triggered bool   `json:"triggered"`
	Error     string `json:"error,omitempty"`
	ProcessMs int64  `json:"processMs"`
}

// RuleFlag is a fired rule attached to an analysis. Flags are advisory.
type RuleFlag struct {
	RuleID   string       `json:"ruleId"`
	Name     string       `json:"name"`
	Severity FlagSeverity `json:"severity"`
	Reason   string       `json:"reason"`
}
