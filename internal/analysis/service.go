// Package analysis runs the claim analysis pipeline: score, flag, narrate
// and persist. It also records investigator decisions.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/history"
	"github.com/opensource-finance/avia/internal/metrics"
	"github.com/opensource-finance/avia/internal/repository"
	"github.com/opensource-finance/avia/internal/rules"
	"github.com/opensource-finance/avia/internal/scoring"
	"github.com/opensource-finance/avia/internal/triage"
)

// ErrNoDocuments is returned when an uploaded claim is analyzed before any
// supporting document was attached.
var ErrNoDocuments = fmt.Errorf("%w: at least one document must be uploaded before analysis", repository.ErrInvalidInput)

// MaxNotesLength bounds decision notes, in characters.
const MaxNotesLength = 5000

// Scorer produces risk results for claim records.
type Scorer interface {
	Score(ctx context.Context, claim domain.ClaimRecord) *scoring.RiskResult
	Version() string
}

// Service analyzes claims and records decisions.
type Service struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	scorer  Scorer
	rules   *rules.Engine
	history *history.Service
	cfg     domain.ScoringConfig
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	rulesMu     sync.Mutex
	rulesLoaded map[string]bool
}

// Deps are the collaborators of a Service. Cache and Bus may be nil.
type Deps struct {
	Repo    domain.Repository
	Cache   domain.Cache
	Bus     domain.EventBus
	Scorer  Scorer
	Rules   *rules.Engine
	History *history.Service
}

// NewService creates an analysis service.
func NewService(deps Deps, cfg domain.ScoringConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	h := deps.History
	if h == nil {
		h = history.NewService(deps.Repo)
	}
	return &Service{
		repo:        deps.Repo,
		cache:       deps.Cache,
		bus:         deps.Bus,
		scorer:      deps.Scorer,
		rules:       deps.Rules,
		history:     h,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("avia-analysis"),
		now:         time.Now,
		rulesLoaded: make(map[string]bool),
	}
}

// Analyze scores a claim, evaluates flag rules, builds the narrative and
// persists the analysis. The claim moves to analyzed.
func (s *Service) Analyze(ctx context.Context, orgID, claimID string) (*domain.Claim, error) {
	ctx, span := s.tracer.Start(ctx, "analysis.Analyze", trace.WithAttributes(
		attribute.String("org.id", orgID),
		attribute.String("claim.id", claimID),
	))
	defer span.End()

	claim, err := s.repo.GetClaim(ctx, orgID, claimID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	docs, err := s.repo.ListDocuments(ctx, orgID, claimID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	if claim.Source == domain.SourceUploaded && len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	risk := s.score(ctx, orgID, claim.Data)

	flags, err := s.flags(ctx, claim, risk, len(docs))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	analysis := triage.Build(claim, risk, flags, s.now())
	if err := s.repo.SaveAnalysis(ctx, orgID, claimID, domain.ClaimAnalyzed, analysis); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("saving analysis: %w", err)
	}
	claim.Analysis = analysis
	claim.Status = domain.ClaimAnalyzed

	metrics.AnalysesTotal.WithLabelValues(string(analysis.RiskLevel)).Inc()
	for _, f := range flags {
		metrics.FlagsTotal.WithLabelValues(string(f.Severity)).Inc()
	}

	span.SetAttributes(
		attribute.String("analysis.level", string(analysis.RiskLevel)),
		attribute.Float64("analysis.overall", analysis.OverallRisk),
		attribute.Int("analysis.flags", len(flags)),
	)
	s.logger.Info("claim analyzed",
		"org_id", orgID,
		"claim_id", claimID,
		"risk_level", analysis.RiskLevel,
		"overall_risk", analysis.OverallRisk,
		"mode", analysis.Model.Mode,
		"flags", len(flags),
	)
	return claim, nil
}

// Score scores a claim record without persisting anything.
func (s *Service) Score(ctx context.Context, record domain.ClaimRecord) *scoring.RiskResult {
	return s.scorer.Score(ctx, record)
}

// score returns a cached result for an identical record and model version,
// scoring and caching on a miss.
func (s *Service) score(ctx context.Context, orgID string, record domain.ClaimRecord) *scoring.RiskResult {
	if s.cache == nil || s.cfg.CacheTTL <= 0 {
		return s.scorer.Score(ctx, record)
	}

	key, err := ScoreCacheKey(record, s.scorer.Version())
	if err != nil {
		s.logger.Warn("claim record not cacheable", "org_id", orgID, "error", err)
		return s.scorer.Score(ctx, record)
	}

	if data, err := s.cache.Get(ctx, orgID, key); err != nil {
		s.logger.Warn("score cache lookup failed", "org_id", orgID, "error", err)
	} else if data != nil {
		var cached scoring.RiskResult
		if err := json.Unmarshal(data, &cached); err == nil {
			metrics.ScoreCacheHitsTotal.Inc()
			return &cached
		}
	}

	risk := s.scorer.Score(ctx, record)
	if data, err := json.Marshal(risk); err == nil {
		if err := s.cache.Set(ctx, orgID, key, data, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("score cache store failed", "org_id", orgID, "error", err)
		}
	}
	return risk
}

// ScoreCacheKey derives the cache key for a record under a model version.
// Map keys marshal in sorted order, so equal records share a key.
func ScoreCacheKey(record domain.ClaimRecord, version string) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(version))
	return "score:" + hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Service) flags(ctx context.Context, claim *domain.Claim, risk *scoring.RiskResult, documents int) ([]domain.RuleFlag, error) {
	if s.rules == nil {
		return []domain.RuleFlag{}, nil
	}
	if err := s.ensureRules(ctx, claim.OrgID); err != nil {
		s.logger.Warn("flag rules unavailable", "org_id", claim.OrgID, "error", err)
		return []domain.RuleFlag{}, nil
	}

	prior, err := s.history.OtherClaims(ctx, claim, s.cfg.PriorClaimsWindow)
	if err != nil {
		s.logger.Warn("prior claims lookup failed", "org_id", claim.OrgID, "claim_id", claim.ID, "error", err)
		prior = 0
	}

	_, flags, err := s.rules.EvaluateAll(ctx, &rules.EvaluateInput{
		TenantID:      claim.OrgID,
		Claim:         claim.Data,
		Risk:          risk,
		PriorClaims:   prior,
		DocumentCount: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating flag rules: %w", err)
	}
	return flags, nil
}

// ensureRules loads an organization's rules on first use.
func (s *Service) ensureRules(ctx context.Context, orgID string) error {
	s.rulesMu.Lock()
	defer s.rulesMu.Unlock()
	if s.rulesLoaded[orgID] {
		return nil
	}
	if err := rules.Sync(ctx, s.repo, s.rules, orgID); err != nil {
		return err
	}
	s.rulesLoaded[orgID] = true
	return nil
}

// ReloadRules reloads an organization's flag rules from the repository.
func (s *Service) ReloadRules(ctx context.Context, orgID string) (int, error) {
	if s.rules == nil {
		return 0, errors.New("flag rules are not configured")
	}
	s.rulesMu.Lock()
	delete(s.rulesLoaded, orgID)
	s.rulesMu.Unlock()

	if err := s.ensureRules(ctx, orgID); err != nil {
		return 0, err
	}
	return s.rules.RulesCount(orgID), nil
}

// Rules returns an organization's loaded flag rules.
func (s *Service) Rules(ctx context.Context, orgID string) ([]*domain.RuleConfig, error) {
	if s.rules == nil {
		return []*domain.RuleConfig{}, nil
	}
	if err := s.ensureRules(ctx, orgID); err != nil {
		return nil, err
	}
	return s.rules.GetLoadedRules(orgID), nil
}

// SaveRule validates, stores and loads a flag rule.
func (s *Service) SaveRule(ctx context.Context, orgID string, cfg *domain.RuleConfig) error {
	if s.rules == nil {
		return errors.New("flag rules are not configured")
	}
	if err := s.rules.ValidateRule(cfg); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}
	if err := s.ensureRules(ctx, orgID); err != nil {
		return err
	}
	if err := s.repo.SaveRuleConfig(ctx, orgID, cfg); err != nil {
		return err
	}
	cfg.TenantID = orgID
	return s.rules.LoadRule(orgID, cfg)
}

// RequestAnalysis queues a claim for asynchronous analysis.
func (s *Service) RequestAnalysis(ctx context.Context, orgID, claimID, requestedBy, traceID string) error {
	if s.bus == nil {
		return errors.New("event bus is not configured")
	}
	if _, err := s.repo.GetClaim(ctx, orgID, claimID); err != nil {
		return err
	}
	payload, err := json.Marshal(domain.AnalyzeRequest{
		ClaimID:     claimID,
		OrgID:       orgID,
		RequestedBy: requestedBy,
		TraceID:     traceID,
	})
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, orgID, domain.TopicClaimAnalyze, payload)
}

// DecisionInput is an investigator's determination on a claim.
type DecisionInput struct {
	ClaimID string
	Action  string
	Notes   string
}

// Decide records a decision and moves the claim to the action's status.
func (s *Service) Decide(ctx context.Context, user *domain.User, in DecisionInput) (*domain.Decision, error) {
	action, err := domain.ParseDecisionAction(in.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}
	notes := strings.TrimSpace(in.Notes)
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return nil, fmt.Errorf("%w: notes must be at most %d characters", repository.ErrInvalidInput, MaxNotesLength)
	}

	decision := &domain.Decision{
		ID:               NewDecisionID(),
		ClaimID:          in.ClaimID,
		UserID:           user.ID,
		InvestigatorName: user.DisplayName,
		Action:           action,
		Notes:            notes,
		DecidedAt:        s.now().UTC(),
	}
	if err := s.repo.SaveDecision(ctx, user.OrgID, decision); err != nil {
		return nil, err
	}

	metrics.DecisionsTotal.WithLabelValues(string(action)).Inc()
	s.logger.Info("decision recorded",
		"org_id", user.OrgID,
		"claim_id", in.ClaimID,
		"user_id", user.ID,
		"action", action,
	)

	if s.bus != nil {
		if payload, err := json.Marshal(decision); err == nil {
			if err := s.bus.Publish(ctx, user.OrgID, domain.TopicClaimDecided, payload); err != nil {
				s.logger.Warn("failed to publish decision", "claim_id", in.ClaimID, "error", err)
			}
		}
	}
	return decision, nil
}

// NewClaimID returns a claim ID of the form CLM-XXXXXXXX.
func NewClaimID() string {
	return "CLM-" + shortID()
}

// NewDecisionID returns a decision ID of the form DEC-XXXXXXXX.
func NewDecisionID() string {
	return "DEC-" + shortID()
}

func shortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
