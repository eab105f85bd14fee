package rules

import (
	"encoding/json"
	"log/slog"
	"reflect"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EvaluateCriterion runs one criterion against the application input.
// Missing fields and non-coercible operands are criterion failures folded
// into the result, never errors: one bad data point must not abort the
// whole scoring run. Deterministic and side-effect-free.
func EvaluateCriterion(c domain.EligibilityCriterion, in *ScoringInput) domain.CriterionResult {
	result := domain.CriterionResult{
		Field:         c.Field,
		Description:   c.Description,
		ExpectedValue: c.Value,
		Operator:      c.Operator,
		Weight:        c.Weight,
	}

	actual, ok := ResolveField(in, c.Field)
	if !ok {
		// Missing data is a normal applicant state: fail the criterion and
		// let the confidence score carry the incompleteness signal.
		return result
	}
	result.Resolved = true
	result.ActualValue = actual

	if compare(c.Operator, c.Field, actual, c.Value) {
		result.Passed = true
		result.PointsEarned = c.Weight
	}

	return result
}

// compare dispatches over the closed operator set. Rule validation keeps
// unknown operators out of the catalog, so the default arm only guards
// criteria constructed outside a validated rule.
func compare(op domain.Operator, field string, actual, expected interface{}) bool {
	switch op {
	case domain.OpGTE, domain.OpLTE, domain.OpGT, domain.OpLT:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			slog.Warn("criterion operands not numeric",
				"field", field,
				"operator", op.String(),
				"actual", actual,
				"expected", expected,
			)
			return false
		}
		switch op {
		case domain.OpGTE:
			return a >= b
		case domain.OpLTE:
			return a <= b
		case domain.OpGT:
			return a > b
		default:
			return a < b
		}
	case domain.OpEQ:
		return valuesEqual(actual, expected)
	case domain.OpNEQ:
		return !valuesEqual(actual, expected)
	}
	return false
}

// toFloat coerces scalars to float64. JSON decoding produces float64 for
// numbers, but rule values may also arrive as ints from Go callers or as
// numeric strings from form-sourced configurations.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// valuesEqual is deep equality with numeric normalization, so 1 and 1.0
// compare equal regardless of how each side was decoded.
func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}
