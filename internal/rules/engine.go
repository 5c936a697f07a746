// Package rules provides the CEL-Go based flag rule engine.
//
// Flag rules are per-organization boolean expressions over a claim and its
// risk score. A rule that evaluates to true raises a flag carrying the rule's
// severity and reason. Flags are advisory and never change scores.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/scoring"
)

// Engine is the CEL-based rule evaluation engine.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	tenants    map[string]map[string]*CompiledRule
	maxWorkers int
	logger     *slog.Logger
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int, logger *slog.Logger) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Create CEL environment with claim variables
	env, err := cel.NewEnv(
		cel.Variable("claim", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("tenure", cel.DoubleType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("risk", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("prior_claims", cel.IntType),
		cel.Variable("document_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		tenants:    make(map[string]map[string]*CompiledRule),
		maxWorkers: maxWorkers,
		logger:     logger,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule for a tenant, replacing any rule with
// the same ID. A disabled rule is unloaded.
func (e *Engine) LoadRule(tenantID string, cfg *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rules := e.tenants[tenantID]
	if rules == nil {
		rules = make(map[string]*CompiledRule)
		e.tenants[tenantID] = rules
	}
	if !cfg.Enabled {
		delete(rules, cfg.ID)
		return nil
	}
	rules[cfg.ID] = compiled
	return nil
}

// ReloadRules replaces a tenant's rules. Nothing changes if any rule fails
// to compile.
func (e *Engine) ReloadRules(tenantID string, configs []*domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.tenants[tenantID] = newRules
	e.mu.Unlock()

	e.logger.Info("flag rules loaded", "org_id", tenantID, "rules", len(newRules))
	return nil
}

// EvaluateInput holds the claim data for rule evaluation.
type EvaluateInput struct {
	TenantID      string
	Claim         domain.ClaimRecord
	Risk          *scoring.RiskResult
	PriorClaims   int64
	DocumentCount int
}

// Activation builds the CEL variables for an input.
func (in *EvaluateInput) Activation() map[string]any {
	claim := make(map[string]any, len(in.Claim))
	for k, v := range in.Claim {
		claim[k] = v
	}

	risk := map[string]any{
		"claim":             0.0,
		"customer":          0.0,
		"pattern":           0.0,
		"overall":           0.0,
		"level":             "",
		"fraud_probability": 0.0,
		"anomaly_score":     0.0,
		"mode":              "",
	}
	if r := in.Risk; r != nil {
		risk["claim"] = r.ClaimRisk
		risk["customer"] = r.CustomerRisk
		risk["pattern"] = r.PatternRisk
		risk["overall"] = r.OverallRisk
		risk["level"] = string(r.RiskLevel)
		risk["fraud_probability"] = r.FraudProbability
		risk["anomaly_score"] = r.AnomalyScore
		risk["mode"] = string(r.Mode)
	}

	return map[string]any{
		"claim":          claim,
		"amount":         in.Claim.FloatOr("total_claim_amount", 0),
		"tenure":         in.Claim.FloatOr("months_as_customer", 0),
		"severity":       in.Claim.TextOr("incident_severity", ""),
		"risk":           risk,
		"prior_claims":   in.PriorClaims,
		"document_count": int64(in.DocumentCount),
	}
}

// EvaluateAll evaluates a tenant's rules in parallel. Results are ordered by
// rule ID. Flags hold the rules that fired, in the same order.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.RuleResult, []domain.RuleFlag, error) {
	rules := e.snapshot(input.TenantID)
	if len(rules) == 0 {
		return nil, []domain.RuleFlag{}, nil
	}

	activation := input.Activation()
	results := make([]domain.RuleResult, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)
	for i, rule := range rules {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.evaluateRule(rule, activation)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	flags := []domain.RuleFlag{}
	for i, res := range results {
		if res.Error != "" {
			e.logger.Warn("flag rule failed", "org_id", input.TenantID, "rule_id", res.RuleID, "error", res.Error)
			continue
		}
		if res.Triggered {
			cfg := rules[i].Config
			flags = append(flags, domain.RuleFlag{
				RuleID:   cfg.ID,
				Name:     cfg.Name,
				Severity: cfg.Severity,
				Reason:   cfg.Reason,
			})
		}
	}
	return results, flags, nil
}

func (e *Engine) snapshot(tenantID string) []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.tenants[tenantID]))
	for _, rule := range e.tenants[tenantID] {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })
	return rules
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any) domain.RuleResult {
	start := time.Now()
	result := domain.RuleResult{RuleID: rule.Config.ID}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Error = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	if v, ok := out.(types.Bool); ok {
		result.Triggered = bool(v)
	} else {
		result.Error = fmt.Sprintf("expected bool, got %s", out.Type().TypeName())
	}
	result.ProcessMs = time.Since(start).Milliseconds()
	return result
}

// RulesCount returns the number of rules loaded for a tenant.
func (e *Engine) RulesCount(tenantID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tenants[tenantID])
}

// GetLoadedRules returns a tenant's loaded rule configurations ordered by ID.
func (e *Engine) GetLoadedRules(tenantID string) []*domain.RuleConfig {
	rules := e.snapshot(tenantID)
	configs := make([]*domain.RuleConfig, len(rules))
	for i, r := range rules {
		configs[i] = r.Config
	}
	return configs
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tenants = make(map[string]map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	if !cfg.Severity.Valid() {
		return nil, fmt.Errorf("rule %s: severity must be info, warning or critical, got %q", cfg.ID, cfg.Severity)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
