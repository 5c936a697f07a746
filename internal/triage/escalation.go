package triage

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opensource-finance/avia/internal/domain"
)

const notSpecified = "Not specified"

// PackageSummary identifies the escalated claim.
type PackageSummary struct {
	ClaimID          string             `json:"claimId"`
	PolicyNumber     string             `json:"policyNumber"`
	Status           domain.ClaimStatus `json:"status"`
	Source           domain.ClaimSource `json:"source"`
	RiskLevel        string             `json:"riskLevel"`
	OverallRiskScore *float64           `json:"overallRiskScore"`
	IncidentType     string             `json:"incidentType"`
	IncidentSeverity string             `json:"incidentSeverity"`
	TotalClaimAmount string             `json:"totalClaimAmount"`
	CreatedAt        time.Time          `json:"createdAt"`
	AnalyzedAt       *time.Time         `json:"analyzedAt"`
}

// RiskFactors carries the scored risk behind an escalation.
type RiskFactors struct {
	ClaimRiskScore    *float64          `json:"claimRiskScore"`
	CustomerRiskScore *float64          `json:"customerRiskScore"`
	PatternRiskScore  *float64          `json:"patternRiskScore"`
	TopFeatures       []string          `json:"topFeatures"`
	Explanation       string            `json:"explanation,omitempty"`
	Flags             []domain.RuleFlag `json:"flags"`
}

// EvidenceDocument lists one attached document.
type EvidenceDocument struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        string    `json:"size"`
	SHA256      string    `json:"sha256"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Evidence holds the decision trace and supporting documents.
type Evidence struct {
	DecisionTrace []domain.TraceStep `json:"decisionTrace"`
	Documents     []EvidenceDocument `json:"documents"`
}

// InvestigatorNote is one recorded decision.
type InvestigatorNote struct {
	Action domain.DecisionAction `json:"action"`
	Notes  string                `json:"notes"`
	By     string                `json:"by"`
	At     time.Time             `json:"at"`
}

// Package is a claim bundled for referral to a special investigations unit.
type Package struct {
	ClaimID           string             `json:"claimId"`
	Summary           PackageSummary     `json:"summary"`
	RiskFactors       RiskFactors        `json:"riskFactors"`
	Evidence          Evidence           `json:"evidence"`
	InvestigatorNotes []InvestigatorNote `json:"investigatorNotes"`
	PlainText         string             `json:"plainText"`
}

// EscalationPackage assembles the referral package for a claim. now stamps
// the report.
func EscalationPackage(claim *domain.Claim, docs []*domain.Document, decisions []*domain.Decision, now time.Time) *Package {
	data := claim.Data
	pkg := &Package{
		ClaimID: claim.ID,
		Summary: PackageSummary{
			ClaimID:          claim.ID,
			PolicyNumber:     claim.PolicyNumber,
			Status:           claim.Status,
			Source:           claim.Source,
			RiskLevel:        "Not assessed",
			IncidentType:     data.TextOr("incident_type", notSpecified),
			IncidentSeverity: data.TextOr("incident_severity", notSpecified),
			TotalClaimAmount: notSpecified,
			CreatedAt:        claim.CreatedAt,
		},
		RiskFactors: RiskFactors{
			TopFeatures: []string{},
			Flags:       []domain.RuleFlag{},
		},
		Evidence: Evidence{
			DecisionTrace: []domain.TraceStep{},
			Documents:     []EvidenceDocument{},
		},
		InvestigatorNotes: []InvestigatorNote{},
	}

	if amount, ok := data.Float("total_claim_amount"); ok {
		pkg.Summary.TotalClaimAmount = Dollars(amount)
	}

	if a := claim.Analysis; a != nil {
		pkg.Summary.RiskLevel = string(a.RiskLevel)
		pkg.Summary.OverallRiskScore = &a.OverallRisk
		analyzedAt := a.AnalyzedAt
		pkg.Summary.AnalyzedAt = &analyzedAt

		pkg.RiskFactors.ClaimRiskScore = &a.ClaimRisk
		pkg.RiskFactors.CustomerRiskScore = &a.CustomerRisk
		pkg.RiskFactors.PatternRiskScore = &a.PatternRisk
		pkg.RiskFactors.Explanation = a.Explanation
		if a.TopFeatures != nil {
			pkg.RiskFactors.TopFeatures = a.TopFeatures
		}
		if a.Flags != nil {
			pkg.RiskFactors.Flags = a.Flags
		}
		if a.DecisionTrace != nil {
			pkg.Evidence.DecisionTrace = a.DecisionTrace
		}
	}

	for _, d := range docs {
		pkg.Evidence.Documents = append(pkg.Evidence.Documents, EvidenceDocument{
			Filename:    d.Filename,
			ContentType: d.ContentType,
			Size:        humanize.Bytes(uint64(max(d.Size, 0))),
			SHA256:      d.SHA256,
			UploadedAt:  d.UploadedAt,
		})
	}

	for _, d := range decisions {
		by := d.InvestigatorName
		if by == "" {
			by = d.UserID
		}
		pkg.InvestigatorNotes = append(pkg.InvestigatorNotes, InvestigatorNote{
			Action: d.Action,
			Notes:  d.Notes,
			By:     by,
			At:     d.DecidedAt,
		})
	}

	pkg.PlainText = pkg.render(now)
	return pkg
}

const (
	heavyRule = "============================================================"
	lightRule = "----------------------------------------"
)

func (p *Package) render(now time.Time) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line(heavyRule)
	line("AVIA - ESCALATION PACKAGE")
	line(heavyRule)
	line("")

	s := p.Summary
	line("CLAIM SUMMARY")
	line(lightRule)
	line("Claim ID:        %s", s.ClaimID)
	line("Policy Number:   %s", s.PolicyNumber)
	line("Status:          %s", s.Status)
	line("Risk Level:      %s", s.RiskLevel)
	line("Risk Score:      %s", score(s.OverallRiskScore))
	line("Incident Type:   %s", s.IncidentType)
	line("Severity:        %s", s.IncidentSeverity)
	line("Claim Amount:    %s", s.TotalClaimAmount)
	line("Created:         %s", stamp(&s.CreatedAt, now))
	line("Analyzed:        %s", stamp(s.AnalyzedAt, now))
	line("")

	r := p.RiskFactors
	line("KEY RISK FACTORS")
	line(lightRule)
	line("Claim Risk:      %s", score(r.ClaimRiskScore))
	line("Customer Risk:   %s", score(r.CustomerRiskScore))
	line("Pattern Risk:    %s", score(r.PatternRiskScore))
	if len(r.TopFeatures) > 0 {
		line("Indicators:      %s", strings.Join(r.TopFeatures, ", "))
	}
	for _, f := range r.Flags {
		line("Flag:            [%s] %s", strings.ToUpper(string(f.Severity)), f.Reason)
	}
	if r.Explanation != "" {
		line("")
		line("Assessment:")
		line("%s", r.Explanation)
	}
	line("")

	line("EXTRACTED EVIDENCE")
	line(lightRule)
	for _, step := range p.Evidence.DecisionTrace {
		line("  %d. %s: %s", step.Step, step.Title, step.Detail)
	}
	if docs := p.Evidence.Documents; len(docs) > 0 {
		line("")
		line("Documents (%d):", len(docs))
		for _, d := range docs {
			line("  - %s (%s, %s)", d.Filename, d.ContentType, d.Size)
		}
	}
	line("")

	line("INVESTIGATOR NOTES")
	line(lightRule)
	if len(p.InvestigatorNotes) == 0 {
		line("  No investigator notes recorded.")
	}
	for _, n := range p.InvestigatorNotes {
		line("  [%s] by %s at %s", strings.ToUpper(string(n.Action)), n.By, n.At.UTC().Format(time.RFC3339))
		if n.Notes != "" {
			line("    %s", n.Notes)
		}
	}
	line("")

	line(heavyRule)
	line("Generated: %s", now.UTC().Format(time.RFC3339))
	b.WriteString("Avia - Fraud Investigation Platform")
	return b.String()
}

func score(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.1f", *v)
}

func stamp(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "N/A"
	}
	return fmt.Sprintf("%s (%s)", t.UTC().Format(time.RFC3339), humanize.RelTime(*t, now, "ago", "from now"))
}
