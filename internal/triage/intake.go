package triage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/avia/internal/domain"
)

// IntakeStatus says whether a claim is ready for analysis.
type IntakeStatus string

const (
	IntakeIncomplete    IntakeStatus = "INCOMPLETE"
	IntakeNeedsMoreInfo IntakeStatus = "NEEDS_MORE_INFO"
	IntakeReady         IntakeStatus = "READY"
)

// Field is one checked claim field.
type Field struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Value any    `json:"value,omitempty"`
}

// FieldSet splits checked fields into present and missing.
type FieldSet struct {
	Present []Field `json:"present"`
	Missing []Field `json:"missing"`
}

// IntakeReport is the result of an intake completeness check.
type IntakeReport struct {
	ClaimID         string       `json:"claimId"`
	Status          IntakeStatus `json:"status"`
	Message         string       `json:"message"`
	Required        FieldSet     `json:"required"`
	Important       FieldSet     `json:"important"`
	Inconsistencies []string     `json:"inconsistencies"`
	HasDocuments    bool         `json:"hasDocuments"`
	IsDatasetClaim  bool         `json:"isDatasetClaim"`
}

type fieldSpec struct {
	key   string
	label string
}

var requiredFields = []fieldSpec{
	{"policy_number", "Policy Number"},
	{"incident_type", "Incident Type"},
	{"incident_severity", "Incident Severity"},
	{"total_claim_amount", "Total Claim Amount"},
}

var importantFields = []fieldSpec{
	{"bodily_injuries", "Bodily Injuries"},
	{"witnesses", "Witnesses"},
	{"police_report_available", "Police Report"},
	{"property_damage", "Property Damage"},
	{"authorities_contacted", "Authorities Contacted"},
	{"number_of_vehicles_involved", "Vehicles Involved"},
}

// placeholders are values investigators and extraction tools write for
// "no data".
var placeholders = map[string]bool{
	"unknown":       true,
	"n/a":           true,
	"none":          true,
	"\u2014":        true,
	"-":             true,
	"not available": true,
	"not mentioned": true,
}

const maxPlausibleAmount = 1_000_000

// IsEmpty reports whether a claim value carries no information.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	if s == "" {
		return true
	}
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// CheckIntake checks a claim's fields before analysis. documents is the
// number of documents attached to the claim.
func CheckIntake(claim *domain.Claim, documents int) *IntakeReport {
	data := claim.Data
	report := &IntakeReport{
		ClaimID:         claim.ID,
		Inconsistencies: []string{},
		HasDocuments:    documents > 0,
		IsDatasetClaim:  claim.Source == domain.SourceDataset,
	}

	for _, f := range requiredFields {
		v := data[f.key]
		if IsEmpty(v) && f.key == "policy_number" && claim.PolicyNumber != "" {
			v = claim.PolicyNumber
		}
		report.Required.add(f, v)
	}
	for _, f := range importantFields {
		report.Important.add(f, data[f.key])
	}

	if v, ok := data["total_claim_amount"]; ok && v != nil {
		if amount, ok := parseAmount(v); ok {
			if amount <= 0 {
				report.Inconsistencies = append(report.Inconsistencies, "Claim amount is zero or negative")
			}
			if amount > maxPlausibleAmount {
				report.Inconsistencies = append(report.Inconsistencies, "Unusually high claim amount (>$1M)")
			}
		}
	}
	if !report.IsDatasetClaim && !report.HasDocuments {
		report.Inconsistencies = append(report.Inconsistencies, "No supporting documents attached")
	}

	switch {
	case len(report.Required.Missing) > 0:
		report.Status = IntakeIncomplete
		report.Message = fmt.Sprintf("Missing %d required field(s). Claim cannot be analyzed until these are provided.",
			len(report.Required.Missing))
	case len(report.Important.Missing) > 0:
		report.Status = IntakeNeedsMoreInfo
		report.Message = fmt.Sprintf("All required fields present. %d optional field(s) missing, analysis may be less accurate.",
			len(report.Important.Missing))
	default:
		report.Status = IntakeReady
		report.Message = "All fields present. Claim is ready for analysis."
	}

	if len(report.Inconsistencies) > 0 && report.Status == IntakeReady {
		report.Status = IntakeNeedsMoreInfo
		report.Message = "All fields present but some inconsistencies detected. Review before analysis."
	}

	return report
}

func (s *FieldSet) add(f fieldSpec, v any) {
	if s.Present == nil {
		s.Present = []Field{}
	}
	if s.Missing == nil {
		s.Missing = []Field{}
	}
	if IsEmpty(v) {
		s.Missing = append(s.Missing, Field{Field: f.key, Label: f.label})
		return
	}
	s.Present = append(s.Present, Field{Field: f.key, Label: f.label, Value: v})
}

// parseAmount reads an amount, tolerating thousands separators and a
// dollar sign.
func parseAmount(v any) (float64, bool) {
	s, ok := domain.ToText(v)
	if !ok {
		return 0, false
	}
	s = strings.NewReplacer(",", "", "$", "").Replace(strings.TrimSpace(s))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
