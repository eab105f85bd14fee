package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrInvalidRule means a rule version is structurally unusable
	// (missing program type, bad version, inverted window).
	ErrInvalidRule = errors.New("invalid rule")

	// ErrUnknownField means a criterion references a field outside the
	// accessor registry.
	ErrUnknownField = errors.New("unknown criterion field")

	// ErrInvalidCriterion means a criterion could never evaluate
	// meaningfully (bad operator, negative weight, operand type mismatch).
	ErrInvalidCriterion = errors.New("invalid criterion")
)

// ValidateRule checks a complete rule version before it enters the catalog.
// Validation happens at load time so a malformed rule is rejected up front
// instead of surfacing as silent criterion failures during scoring.
func ValidateRule(rule *domain.ProgramRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidRule)
	}
	if rule.ProgramType == "" {
		return fmt.Errorf("%w: programType is required", ErrInvalidRule)
	}
	if rule.Version < 1 {
		return fmt.Errorf("%w: version %d must be positive", ErrInvalidRule, rule.Version)
	}
	if rule.ActiveFrom.IsZero() {
		return fmt.Errorf("%w: activeFrom is required", ErrInvalidRule)
	}
	if rule.ActiveTo != nil && !rule.ActiveTo.After(rule.ActiveFrom) {
		return fmt.Errorf("%w: activeTo %s is not after activeFrom %s",
			ErrInvalidRule, rule.ActiveTo.Format("2006-01-02"), rule.ActiveFrom.Format("2006-01-02"))
	}
	return ValidateConfig(&rule.Rules)
}

// ValidateConfig checks a rule payload: every criterion field must be
// registered, operators must be in the closed set, numeric operators need
// numeric operands on both sides, and weights must be non-negative.
func ValidateConfig(cfg *domain.ProgramRulesConfig) error {
	if cfg.PassingScore < 0 || cfg.PassingScore > 100 {
		return fmt.Errorf("%w: passingScore %v outside 0-100", ErrInvalidCriterion, cfg.PassingScore)
	}

	for i, c := range cfg.EligibilityCriteria {
		spec, known := fieldRegistry[c.Field]
		if !known {
			return fmt.Errorf("%w: criterion %d references %q (known fields: %s)",
				ErrUnknownField, i, c.Field, strings.Join(KnownFields(), ", "))
		}
		if c.Operator == domain.OpUnknown {
			return fmt.Errorf("%w: criterion %d (%s) has no operator", ErrInvalidCriterion, i, c.Field)
		}
		if c.Weight < 0 {
			return fmt.Errorf("%w: criterion %d (%s) has negative weight %v", ErrInvalidCriterion, i, c.Field, c.Weight)
		}
		if c.Operator.Numeric() {
			if spec.kind != kindNumber {
				return fmt.Errorf("%w: criterion %d applies numeric operator %s to non-numeric field %s",
					ErrInvalidCriterion, i, c.Operator, c.Field)
			}
			if _, ok := toFloat(c.Value); !ok {
				return fmt.Errorf("%w: criterion %d (%s) operator %s needs a numeric value, got %T",
					ErrInvalidCriterion, i, c.Field, c.Operator, c.Value)
			}
		}
	}

	return nil
}
