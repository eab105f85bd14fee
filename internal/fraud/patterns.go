package fraud

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// PatternEngine evaluates administrator-configured CEL anomaly screens.
// Screens are compiled once at load and evaluated against every submission
// alongside the built-in detectors.
type PatternEngine struct {
	mu               sync.RWMutex
	env              *cel.Env
	compiledPatterns map[string]*CompiledPattern
	maxWorkers       int
}

// CompiledPattern holds a pre-compiled CEL program.
type CompiledPattern struct {
	Config  *domain.FraudPattern
	Program cel.Program
}

// NewPatternEngine creates a pattern engine with an empty screen set.
func NewPatternEngine(maxWorkers int) (*PatternEngine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment with application variables
	env, err := cel.NewEnv(
		cel.Variable("app", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("requested_amount", cel.DoubleType),
		cel.Variable("annual_revenue", cel.DoubleType),
		cel.Variable("credit_score", cel.DoubleType),
		cel.Variable("business_age", cel.DoubleType),
		cel.Variable("employee_count", cel.DoubleType),
		cel.Variable("years_at_address", cel.DoubleType),
		cel.Variable("business_type", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("program_type", cel.StringType),
		cel.Variable("loan_purpose", cel.StringType),
		// Presence markers so screens can tell "zero" from "not supplied"
		cel.Variable("has_revenue", cel.BoolType),
		cel.Variable("has_credit_score", cel.BoolType),
		cel.Variable("document_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &PatternEngine{
		env:              env,
		compiledPatterns: make(map[string]*CompiledPattern),
		maxWorkers:       maxWorkers,
	}, nil
}

// ValidatePattern compiles a pattern without mutating the loaded set.
func (e *PatternEngine) ValidatePattern(cfg *domain.FraudPattern) error {
	if cfg == nil {
		return fmt.Errorf("fraud pattern is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compilePattern(cfg)
	return err
}

// LoadPattern compiles and loads a single pattern.
func (e *PatternEngine) LoadPattern(cfg *domain.FraudPattern) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compilePattern(cfg)
	if err != nil {
		return err
	}

	e.compiledPatterns[cfg.ID] = compiled

	return nil
}

// LoadPatterns compiles and loads multiple patterns, skipping disabled ones.
func (e *PatternEngine) LoadPatterns(configs []*domain.FraudPattern) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadPattern(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadPatterns clears all loaded screens and loads new ones atomically.
// This enables hot-reloading of patterns from the database.
func (e *PatternEngine) ReloadPatterns(configs []*domain.FraudPattern) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newPatterns := make(map[string]*CompiledPattern)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compilePattern(cfg)
		if err != nil {
			return err
		}
		newPatterns[cfg.ID] = compiled
	}

	e.compiledPatterns = newPatterns

	return nil
}

// Evaluate runs every loaded screen against one application context and
// returns a flag per matching screen, ordered by pattern ID. A screen that
// fails to evaluate is logged and skipped rather than blocking the
// submission.
func (e *PatternEngine) Evaluate(applicant *domain.Applicant, app *domain.Application, docs []*domain.DocumentMetadata) []domain.FraudFlag {
	e.mu.RLock()
	patterns := make([]*CompiledPattern, 0, len(e.compiledPatterns))
	for _, p := range e.compiledPatterns {
		patterns = append(patterns, p)
	}
	e.mu.RUnlock()

	if len(patterns) == 0 {
		return nil
	}

	// Stable flag order regardless of map iteration
	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].Config.ID < patterns[j].Config.ID
	})

	activation := buildActivation(applicant, app, docs)

	// Parallel evaluation using worker pool pattern
	results := make([]*domain.FraudFlag, len(patterns))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, pattern := range patterns {
		wg.Add(1)
		go func(idx int, p *CompiledPattern) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluatePattern(p, activation)
		}(i, pattern)
	}

	wg.Wait()

	var flags []domain.FraudFlag
	for _, r := range results {
		if r != nil {
			flags = append(flags, *r)
		}
	}
	return flags
}

// evaluatePattern runs one screen and returns a flag if it matched.
func (e *PatternEngine) evaluatePattern(p *CompiledPattern, activation map[string]any) *domain.FraudFlag {
	out, _, err := p.Program.Eval(activation)
	if err != nil {
		slog.Warn("fraud pattern evaluation failed",
			"pattern_id", p.Config.ID,
			"pattern_name", p.Config.Name,
			"error", err)
		return nil
	}

	matched, ok := out.(types.Bool)
	if !ok || !bool(matched) {
		return nil
	}

	description := p.Config.Description
	if description == "" {
		description = p.Config.Name
	}

	return &domain.FraudFlag{
		Type:        domain.FlagPatternAnomaly,
		Severity:    p.Config.Severity,
		Description: description,
		Evidence: map[string]interface{}{
			"patternId":   p.Config.ID,
			"patternName": p.Config.Name,
			"expression":  p.Config.Expression,
		},
	}
}

// PatternsCount returns the number of loaded screens.
func (e *PatternEngine) PatternsCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledPatterns)
}

// GetLoadedPatterns returns the currently loaded pattern configurations.
func (e *PatternEngine) GetLoadedPatterns() []*domain.FraudPattern {
	e.mu.RLock()
	defer e.mu.RUnlock()

	patterns := make([]*domain.FraudPattern, 0, len(e.compiledPatterns))
	for _, compiled := range e.compiledPatterns {
		patterns = append(patterns, compiled.Config)
	}
	return patterns
}

// Close cleans up the engine.
func (e *PatternEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledPatterns = make(map[string]*CompiledPattern)
	return nil
}

func (e *PatternEngine) compilePattern(cfg *domain.FraudPattern) (*CompiledPattern, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("fraud pattern requires an ID")
	}
	if !cfg.Severity.Valid() {
		return nil, fmt.Errorf("pattern %s: invalid severity %q", cfg.ID, cfg.Severity)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile pattern %s: %w", cfg.ID, issues.Err())
	}

	// Screens are predicates: anything but bool is a configuration mistake.
	if outputType := ast.OutputType(); outputType != cel.BoolType {
		return nil, fmt.Errorf("pattern %s: expression must return bool, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for pattern %s: %w", cfg.ID, err)
	}

	return &CompiledPattern{
		Config:  cfg,
		Program: program,
	}, nil
}

// buildActivation flattens the application context into CEL variables.
// Optional numerics default to zero with a separate presence marker.
func buildActivation(applicant *domain.Applicant, app *domain.Application, docs []*domain.DocumentMetadata) map[string]any {
	activation := map[string]any{
		"requested_amount": 0.0,
		"annual_revenue":   0.0,
		"credit_score":     0.0,
		"business_age":     0.0,
		"employee_count":   0.0,
		"years_at_address": 0.0,
		"business_type":    "",
		"state":            "",
		"program_type":     "",
		"loan_purpose":     "",
		"has_revenue":      false,
		"has_credit_score": false,
		"document_count":   int64(len(docs)),
	}

	appMap := map[string]any{}
	if app != nil {
		activation["requested_amount"] = app.RequestedAmount
		activation["program_type"] = app.ProgramType
		activation["loan_purpose"] = app.LoanPurpose
		appMap["id"] = app.ID
		appMap["program_type"] = app.ProgramType
		appMap["requested_amount"] = app.RequestedAmount
		appMap["loan_purpose"] = app.LoanPurpose
	}
	activation["app"] = appMap

	if applicant != nil {
		if applicant.AnnualRevenue != nil {
			activation["annual_revenue"] = *applicant.AnnualRevenue
			activation["has_revenue"] = true
		}
		if applicant.CreditScore != nil {
			activation["credit_score"] = *applicant.CreditScore
			activation["has_credit_score"] = true
		}
		if applicant.BusinessAge != nil {
			activation["business_age"] = *applicant.BusinessAge
		}
		if applicant.EmployeeCount != nil {
			activation["employee_count"] = *applicant.EmployeeCount
		}
		if applicant.YearsAtAddress != nil {
			activation["years_at_address"] = *applicant.YearsAtAddress
		}
		activation["business_type"] = applicant.BusinessType
		activation["state"] = applicant.State
	}

	return activation
}
