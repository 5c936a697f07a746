package domain

import (
	"fmt"
	"strings"
	"time"
)

// Document is a supporting file attached to a claim.
type Document struct {
	ID          string    `json:"id"`
	ClaimID     string    `json:"claimId"`
	OrgID       string    `json:"orgId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	StoragePath string    `json:"-"`
	UploadedBy  string    `json:"uploadedBy"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// DecisionAction is an investigator's determination on a claim.
type DecisionAction string

const (
	ActionEscalate DecisionAction = "escalate"
	ActionGenuine  DecisionAction = "genuine"
	ActionDefer    DecisionAction = "defer"
)

// ParseDecisionAction normalizes user input. "clear" is accepted for genuine.
func ParseDecisionAction(s string) (DecisionAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "escalate":
		return ActionEscalate, nil
	case "genuine", "clear":
		return ActionGenuine, nil
	case "defer":
		return ActionDefer, nil
	}
	return "", fmt.Errorf("action must be escalate, genuine or defer, got %q", s)
}

// Status returns the claim status the action moves a claim into.
func (a DecisionAction) Status() ClaimStatus {
	switch a {
	case ActionEscalate:
		return ClaimEscalated
	case ActionGenuine:
		return ClaimCleared
	case ActionDefer:
		return ClaimDeferred
	}
	return ClaimAnalyzed
}

// Decision records an investigator's action on a claim.
type Decision struct {
	ID               string         `json:"id"`
	ClaimID          string         `json:"claimId"`
	OrgID            string         `json:"orgId"`
	UserID           string         `json:"userId"`
	InvestigatorName string         `json:"investigatorName,omitempty"`
	Action           DecisionAction `json:"action"`
	Notes            string         `json:"notes"`
	DecidedAt        time.Time      `json:"decidedAt"`
}
