// Package triage turns risk scores into the investigator-facing analysis:
// a numbered decision trace, a plain-language explanation, the intake
// completeness check and the escalation package.
package triage

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/scoring"
)

// Trace step titles.
const (
	StepIntake         = "Claim Intake Assessment"
	StepScoring        = "ML Risk Scoring"
	StepDrivers        = "Key Risk Drivers"
	StepCustomer       = "Customer Profile Review"
	StepClassification = "Risk Classification"
	StepFlags          = "Flag Rules"
)

// shortTenureMonths is the tenure below which a customer counts as new.
const shortTenureMonths = 12

// Build assembles the persisted analysis for a scored claim.
func Build(claim *domain.Claim, risk *scoring.RiskResult, flags []domain.RuleFlag, now time.Time) *domain.Analysis {
	if flags == nil {
		flags = []domain.RuleFlag{}
	}
	topFeatures := risk.TopFeatures
	if topFeatures == nil {
		topFeatures = []string{}
	}

	return &domain.Analysis{
		RiskLevel:     risk.RiskLevel,
		ClaimRisk:     risk.ClaimRisk,
		CustomerRisk:  risk.CustomerRisk,
		PatternRisk:   risk.PatternRisk,
		OverallRisk:   risk.OverallRisk,
		NextAction:    risk.NextAction,
		TopFeatures:   topFeatures,
		Explanation:   Explanation(claim, risk),
		DecisionTrace: Trace(claim, risk, flags),
		Flags:         flags,
		Model: domain.ModelOutput{
			FraudProbability: risk.FraudProbability,
			AnomalyScore:     risk.AnomalyScore,
			Mode:             string(risk.Mode),
			Attribution:      string(risk.Attribution),
			Version:          risk.ModelVersion,
		},
		AnalyzedAt: now.UTC(),
	}
}

// Trace renders the decision trace. A sixth step lists fired flag rules.
func Trace(claim *domain.Claim, risk *scoring.RiskResult, flags []domain.RuleFlag) []domain.TraceStep {
	data := claim.Data
	noReport := scoring.NoPoliceReport(data)

	steps := []domain.TraceStep{
		{
			Title: StepIntake,
			Detail: fmt.Sprintf("Policy %s filed a %s claim for %s. Incident severity: %s.",
				policyNumber(claim), incidentType(data), money(data), strings.ToLower(data.TextOr("incident_severity", "not specified"))),
		},
		{
			Title:  StepScoring,
			Detail: scoringDetail(risk),
		},
		{
			Title:  StepDrivers,
			Detail: driversDetail(risk.TopFeatures, noReport),
		},
		{
			Title:  StepCustomer,
			Detail: customerDetail(data),
		},
		{
			Title:  StepClassification,
			Detail: fmt.Sprintf("Overall risk classified as %s. %s", risk.RiskLevel, recommendation(risk.RiskLevel)),
		},
	}

	if len(flags) > 0 {
		parts := make([]string, len(flags))
		for i, f := range flags {
			parts[i] = fmt.Sprintf("%s (%s): %s", f.Name, f.Severity, f.Reason)
		}
		steps = append(steps, domain.TraceStep{
			Title:  StepFlags,
			Detail: fmt.Sprintf("%d flag %s fired. %s.", len(flags), plural(len(flags), "rule", "rules"), strings.Join(parts, "; ")),
		})
	}

	for i := range steps {
		steps[i].Step = i + 1
	}
	return steps
}

// Explanation renders the tier-specific investigator summary.
func Explanation(claim *domain.Claim, risk *scoring.RiskResult) string {
	data := claim.Data
	kind := incidentType(data)
	amount := money(data)
	drivers := joinTop(risk.TopFeatures, 3)
	overall := math.Round(risk.OverallRisk)

	switch risk.RiskLevel {
	case domain.RiskHigh:
		text := fmt.Sprintf("This %s claim for %s presents several elevated risk indicators. "+
			"The model identified %s as the primary risk drivers. "+
			"With an overall risk score of %.0f/100, this claim warrants immediate investigator attention.",
			kind, amount, drivers, overall)
		if scoring.NoPoliceReport(data) {
			text += " The absence of a police report is a notable concern."
		}
		return text
	case domain.RiskMedium:
		return fmt.Sprintf("This %s claim for %s shows mixed risk signals. "+
			"Key factors include %s. "+
			"The overall risk score of %.0f/100 suggests further review is warranted before a final determination.",
			kind, amount, drivers, overall)
	default:
		return fmt.Sprintf("This %s claim for %s appears consistent with typical filing patterns. "+
			"Risk drivers are minimal, with an overall score of %.0f/100. "+
			"Standard processing is recommended.",
			kind, amount, overall)
	}
}

func scoringDetail(risk *scoring.RiskResult) string {
	buckets := fmt.Sprintf("Claim risk: %.0f, Customer risk: %.0f, Pattern risk: %.0f.",
		risk.ClaimRisk, risk.CustomerRisk, risk.PatternRisk)

	if risk.Mode == scoring.ModeDegraded {
		return fmt.Sprintf("Model artifacts were unavailable, so fallback scoring rated this claim at %.0f/100 overall risk. %s",
			risk.OverallRisk, buckets)
	}
	return fmt.Sprintf("The fraud model scored this claim at %.0f/100 overall risk with a %.0f%% fraud probability. %s",
		risk.OverallRisk, risk.FraudProbability*100, buckets)
}

func driversDetail(topFeatures []string, noReport bool) string {
	var b strings.Builder
	if len(topFeatures) == 0 {
		b.WriteString("No single factor stood out. ")
	} else {
		fmt.Fprintf(&b, "Top contributing factors: %s. ", joinTop(topFeatures, 3))
	}
	if noReport {
		b.WriteString("Police report was not filed, which correlates with higher fraud rates.")
	} else {
		b.WriteString("Police report is on file.")
	}
	return b.String()
}

func customerDetail(data domain.ClaimRecord) string {
	tenure, ok := data.Float("months_as_customer")
	if !ok {
		return "Customer tenure is not on file."
	}
	text := fmt.Sprintf("Customer has been insured for %d months. ", int(tenure))
	if tenure < shortTenureMonths {
		return text + "Short tenure increases risk profile."
	}
	return text + "Established customer relationship noted."
}

func recommendation(level domain.RiskLevel) string {
	switch level {
	case domain.RiskHigh:
		return "Escalation recommended, multiple risk signals detected."
	case domain.RiskMedium:
		return "Further investigation recommended before determination."
	default:
		return "Claim appears routine, standard processing advised."
	}
}

func policyNumber(claim *domain.Claim) string {
	if claim.PolicyNumber != "" {
		return claim.PolicyNumber
	}
	return claim.Data.TextOr("policy_number", "N/A")
}

func incidentType(data domain.ClaimRecord) string {
	kind := strings.ReplaceAll(data.TextOr("incident_type", ""), "_", " ")
	if strings.TrimSpace(kind) == "" {
		return "unspecified"
	}
	return kind
}

// money formats the claim amount as whole dollars.
func money(data domain.ClaimRecord) string {
	amount, ok := data.Float("total_claim_amount")
	if !ok {
		return "an unspecified amount"
	}
	return Dollars(amount)
}

// Dollars formats an amount as whole dollars with thousands separators.
func Dollars(amount float64) string {
	return "$" + humanize.Comma(int64(math.Round(amount)))
}

func joinTop(features []string, n int) string {
	if len(features) == 0 {
		return "no dominant factors"
	}
	return strings.Join(features[:min(n, len(features))], ", ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
