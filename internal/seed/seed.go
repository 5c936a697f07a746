// Package seed loads demo organizations, investigators and claims.
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/avia/internal/analysis"
	"github.com/opensource-finance/avia/internal/auth"
	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/repository"
	"github.com/opensource-finance/avia/internal/rules"
	"github.com/opensource-finance/avia/internal/scoring"
	"github.com/opensource-finance/avia/internal/triage"
)

// DefaultPassword is the password of every demo investigator.
const DefaultPassword = "avia2026"

// ModeSeeded marks analyses written by the seeder rather than the engine.
const ModeSeeded scoring.Mode = "seeded"

// analyzedShare is the fraction of each organization's claims given a
// seeded analysis.
const analyzedShare = 0.6

// DemoUser is a seeded investigator account.
type DemoUser struct {
	ID          string
	Username    string
	DisplayName string
	Role        domain.Role
}

// DemoOrg is a seeded organization with the CSV rows [Start, End) as claims.
type DemoOrg struct {
	ID    string
	Name  string
	Users []DemoUser
	Start int
	End   int
}

// DemoOrgs returns the demo tenants.
func DemoOrgs() []DemoOrg {
	return []DemoOrg{
		{
			ID: "org-apex", Name: "Apex Insurance Co.", Start: 0, End: 15,
			Users: []DemoUser{
				{ID: "user-apex-01", Username: "jsmith", DisplayName: "John Smith", Role: domain.RoleInvestigator},
				{ID: "user-apex-02", Username: "mlee", DisplayName: "Maria Lee", Role: domain.RoleSeniorInvestigator},
			},
		},
		{
			ID: "org-nova", Name: "Nova Assurance", Start: 15, End: 25,
			Users: []DemoUser{
				{ID: "user-nova-01", Username: "aturner", DisplayName: "Alex Turner", Role: domain.RoleInvestigator},
			},
		},
		{
			ID: "org-zenith", Name: "Zenith General Insurance", Start: 25, End: 35,
			Users: []DemoUser{
				{ID: "user-zenith-01", Username: "pshah", DisplayName: "Priya Shah", Role: domain.RoleInvestigator},
			},
		},
		{
			ID: "org-horizon", Name: "Horizon Mutual", Start: 35, End: 45,
			Users: []DemoUser{
				{ID: "user-horizon-01", Username: "dchen", DisplayName: "David Chen", Role: domain.RoleInvestigator},
			},
		},
		{
			ID: "org-reliance", Name: "Reliance Shield", Start: 45, End: 50,
			Users: []DemoUser{
				{ID: "user-reliance-01", Username: "rkumar", DisplayName: "Raj Kumar", Role: domain.RoleInvestigator},
			},
		},
	}
}

// Summary reports what a seeding run wrote.
type Summary struct {
	Organizations int      `json:"organizations"`
	Users         int      `json:"users"`
	Claims        int      `json:"claims"`
	Analyzed      int      `json:"analyzed"`
	Decisions     int      `json:"decisions"`
	Skipped       []string `json:"skipped"`
}

// Seeder writes demo data.
type Seeder struct {
	repo   domain.Repository
	rules  *rules.Engine
	orgs   []DemoOrg
	logger *slog.Logger
	now    func() time.Time

	// hash computes password hashes; replaced in tests.
	hash func(string) (string, error)
}

// NewSeeder creates a seeder. ruleEngine may be nil, in which case the
// built-in flag rules are not stored.
func NewSeeder(repo domain.Repository, ruleEngine *rules.Engine, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		repo:   repo,
		rules:  ruleEngine,
		orgs:   DemoOrgs(),
		logger: logger,
		now:    time.Now,
		hash:   auth.HashPassword,
	}
}

// Run seeds organizations and users, then claims from the CSV at csvPath.
// Organizations that already have claims are left alone. A missing CSV
// seeds accounts only.
func (s *Seeder) Run(ctx context.Context, csvPath string) (*Summary, error) {
	summary := &Summary{Skipped: []string{}}

	if err := s.seedAccounts(ctx, summary); err != nil {
		return nil, err
	}

	rows, err := LoadCSV(csvPath)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("claims CSV not found, seeding accounts only", "path", csvPath)
		rows = nil
	} else if err != nil {
		return nil, err
	}

	for i, org := range s.orgs {
		if s.rules != nil {
			if err := rules.Sync(ctx, s.repo, s.rules, org.ID); err != nil {
				return nil, fmt.Errorf("seeding flag rules for %s: %w", org.ID, err)
			}
		}
		if rows == nil {
			continue
		}

		n, err := s.repo.CountClaims(ctx, org.ID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			summary.Skipped = append(summary.Skipped, org.ID)
			continue
		}
		if err := s.seedClaims(ctx, org, rows, uint64(i), summary); err != nil {
			return nil, fmt.Errorf("seeding claims for %s: %w", org.ID, err)
		}
	}

	s.logger.Info("seed complete",
		"organizations", summary.Organizations,
		"users", summary.Users,
		"claims", summary.Claims,
		"analyzed", summary.Analyzed,
		"decisions", summary.Decisions,
		"skipped", len(summary.Skipped),
	)
	return summary, nil
}

func (s *Seeder) seedAccounts(ctx context.Context, summary *Summary) error {
	var hash string
	for _, org := range s.orgs {
		if _, err := s.repo.GetOrganization(ctx, org.ID); errors.Is(err, repository.ErrNotFound) {
			if err := s.repo.SaveOrganization(ctx, &domain.Organization{ID: org.ID, Name: org.Name}); err != nil {
				return err
			}
			summary.Organizations++
		} else if err != nil {
			return err
		}

		for _, u := range org.Users {
			if _, err := s.repo.GetUserByUsername(ctx, u.Username); err == nil {
				continue
			} else if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			if hash == "" {
				h, err := s.hash(DefaultPassword)
				if err != nil {
					return err
				}
				hash = h
			}
			if err := s.repo.SaveUser(ctx, &domain.User{
				ID:           u.ID,
				OrgID:        org.ID,
				Username:     u.Username,
				DisplayName:  u.DisplayName,
				Role:         u.Role,
				PasswordHash: hash,
			}); err != nil {
				return err
			}
			summary.Users++
		}
	}
	return nil
}

func (s *Seeder) seedClaims(ctx context.Context, org DemoOrg, rows []domain.ClaimRecord, stream uint64, summary *Summary) error {
	start, end := min(org.Start, len(rows)), min(org.End, len(rows))
	slice := rows[start:end]
	if len(slice) == 0 {
		return nil
	}

	claims := make([]*domain.Claim, 0, len(slice))
	for _, row := range slice {
		c := &domain.Claim{
			ID:           analysis.NewClaimID(),
			PolicyNumber: row.TextOr("policy_number", fmt.Sprintf("POL-%d", start)),
			Data:         row.Clone(),
			Source:       domain.SourceDataset,
			Status:       domain.ClaimPending,
		}
		if err := s.repo.SaveClaim(ctx, org.ID, c); err != nil {
			return err
		}
		claims = append(claims, c)
		summary.Claims++
	}

	rng := rand.New(rand.NewPCG(42, stream))
	count := max(1, int(float64(len(claims))*analyzedShare))
	investigator := org.Users[0]

	for _, idx := range rng.Perm(len(claims))[:count] {
		c := claims[idx]
		a, status := s.syntheticAnalysis(c, rng)
		if err := s.repo.SaveAnalysis(ctx, org.ID, c.ID, domain.ClaimAnalyzed, a); err != nil {
			return err
		}
		summary.Analyzed++

		action, ok := decisionFor(status)
		if !ok {
			continue
		}
		if err := s.repo.SaveDecision(ctx, org.ID, &domain.Decision{
			ID:               analysis.NewDecisionID(),
			ClaimID:          c.ID,
			UserID:           investigator.ID,
			InvestigatorName: investigator.DisplayName,
			Action:           action,
			Notes:            decisionNotes[action],
			DecidedAt:        s.now().UTC(),
		}); err != nil {
			return err
		}
		summary.Decisions++
	}
	return nil
}

var featurePool = []string{
	"total claim amount", "customer tenure", "damage severity",
	"number of vehicles", "police report availability",
	"bodily injuries", "type of incident", "annual premium",
	"deductible amount", "witness count", "occupation",
	"vehicle age", "incident location", "time of incident",
}

var decisionNotes = map[domain.DecisionAction]string{
	domain.ActionEscalate: "Multiple risk indicators warrant SIU review.",
	domain.ActionGenuine:  "Claim consistent with normal patterns. Approved for processing.",
	domain.ActionDefer:    "Additional documentation requested before final determination.",
}

var statusChoices = map[domain.RiskLevel][]domain.ClaimStatus{
	domain.RiskHigh:   {domain.ClaimAnalyzed, domain.ClaimAnalyzed, domain.ClaimEscalated},
	domain.RiskMedium: {domain.ClaimAnalyzed, domain.ClaimAnalyzed, domain.ClaimDeferred},
	domain.RiskLow:    {domain.ClaimAnalyzed, domain.ClaimCleared, domain.ClaimCleared},
}

// syntheticAnalysis fabricates a plausible analysis from the claim's
// amount, tenure, severity, police report and fraud label, and picks a
// tier-weighted status.
func (s *Seeder) syntheticAnalysis(c *domain.Claim, rng *rand.Rand) (*domain.Analysis, domain.ClaimStatus) {
	risk := SyntheticRisk(c.Data, rng)
	a := triage.Build(c, risk, nil, s.now())
	choices := statusChoices[risk.RiskLevel]
	return a, choices[rng.IntN(len(choices))]
}

// SyntheticRisk draws bucket scores for a claim. The tier, next action
// and overall score follow the engine's weights and thresholds.
func SyntheticRisk(data domain.ClaimRecord, rng *rand.Rand) *scoring.RiskResult {
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

	amount := data.FloatOr("total_claim_amount", 0)
	tenure := data.FloatOr("months_as_customer", 50)
	if tenure == 0 {
		tenure = 50
	}
	severity := strings.ToLower(data.TextOr("incident_severity", ""))
	fraudReported := strings.EqualFold(data.TextOr("fraud_reported", ""), "Y")

	claimRisk := math.Min(100, math.Max(5, amount/800+uniform(-10, 15)))
	switch {
	case strings.Contains(severity, "total"):
		claimRisk = math.Min(100, claimRisk+uniform(15, 30))
	case strings.Contains(severity, "major"):
		claimRisk = math.Min(100, claimRisk+uniform(5, 15))
	}

	customerRisk := math.Min(100, math.Max(5, 80-tenure*0.5+uniform(-15, 20)))

	patternRisk := uniform(10, 55)
	if scoring.NoPoliceReport(data) {
		patternRisk = math.Min(100, patternRisk+uniform(10, 25))
	}

	if fraudReported {
		claimRisk = math.Min(100, claimRisk+uniform(10, 25))
		patternRisk = math.Min(100, patternRisk+uniform(10, 20))
	}

	r := &scoring.RiskResult{
		ClaimRisk:    scoring.Round1(claimRisk),
		CustomerRisk: scoring.Round1(customerRisk),
		PatternRisk:  scoring.Round1(patternRisk),
		Mode:         ModeSeeded,
	}
	r.OverallRisk = scoring.Overall(r.ClaimRisk, r.CustomerRisk, r.PatternRisk)
	r.RiskLevel = scoring.TierFor(r.OverallRisk)
	r.NextAction = scoring.NextAction(r.RiskLevel)
	r.FraudProbability = math.Round(r.OverallRisk/100*1e4) / 1e4
	r.AnomalyScore = math.Round(uniform(-0.3, 0.3)*1e4) / 1e4

	pool := append([]string(nil), featurePool...)
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	r.TopFeatures = pool[:5]
	return r
}

func decisionFor(status domain.ClaimStatus) (domain.DecisionAction, bool) {
	switch status {
	case domain.ClaimEscalated:
		return domain.ActionEscalate, true
	case domain.ClaimCleared:
		return domain.ActionGenuine, true
	case domain.ClaimDeferred:
		return domain.ActionDefer, true
	}
	return "", false
}

// LoadCSV reads a claims CSV with a header row. Numeric cells become
// float64, empty cells are dropped and the rest stay strings.
func LoadCSV(path string) ([]domain.ClaimRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses claim rows from r. Columns with a blank header are skipped.
func ReadCSV(r io.Reader) ([]domain.ClaimRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []domain.ClaimRecord
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row %d: %w", len(rows)+2, err)
		}

		row := make(domain.ClaimRecord, len(header))
		for i, cell := range record {
			if i >= len(header) || header[i] == "" || strings.HasPrefix(header[i], "_c") {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if key := header[i]; key != "policy_number" {
				if f, err := strconv.ParseFloat(cell, 64); err == nil {
					row[key] = f
					continue
				}
			}
			row[header[i]] = cell
		}
		rows = append(rows, row)
	}
	return rows, nil
}
