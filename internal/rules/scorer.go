package rules

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Score evaluates every criterion of the rule version against the
// application, in declaration order, and aggregates the weighted result.
//
// Algorithm:
//  1. Evaluate each criterion via EvaluateCriterion, keeping declaration order
//  2. score = 100 * sum(pointsEarned) / sum(weights), rounded to two decimals
//  3. passed = score >= passingScore
//  4. confidenceScore = 100 * resolved / evaluated
//
// A rule whose weights sum to zero scores 0 and never passes: a
// misconfigured empty rule must not auto-approve applications.
func Score(rule *domain.ProgramRule, in *ScoringInput) *domain.EligibilityResult {
	criteria := rule.Rules.EligibilityCriteria

	results := make([]domain.CriterionResult, 0, len(criteria))
	var totalWeight, earned float64
	resolved := 0

	for _, c := range criteria {
		r := EvaluateCriterion(c, in)
		results = append(results, r)

		totalWeight += c.Weight
		earned += r.PointsEarned
		if r.Resolved {
			resolved++
		}
	}

	out := &domain.EligibilityResult{
		ProgramRulesApplied: []string{rule.Key()},
		CriteriaResults:     results,
		ConfidenceScore:     100,
	}

	if totalWeight > 0 {
		out.Score = round2(100 * earned / totalWeight)
		out.Passed = out.Score >= rule.Rules.PassingScore
	}

	if len(criteria) > 0 {
		out.ConfidenceScore = round2(100 * float64(resolved) / float64(len(criteria)))
	}

	out.Reasons = buildReasons(results, out.Score)

	return out
}

// buildReasons lists every failed criterion in declaration order, or a single
// affirmative line when everything passed. Passing-criterion detail stays
// available in CriteriaResults.
func buildReasons(results []domain.CriterionResult, score float64) []string {
	var reasons []string
	for _, r := range results {
		if r.Passed {
			continue
		}
		reasons = append(reasons, failureReason(r))
	}
	if len(reasons) == 0 {
		reasons = []string{fmt.Sprintf("All eligibility criteria met (score %.2f)", score)}
	}
	return reasons
}

func failureReason(r domain.CriterionResult) string {
	desc := r.Description
	if desc == "" {
		desc = fmt.Sprintf("Criterion %s %s %v", r.Field, r.Operator, r.ExpectedValue)
	}
	if !r.Resolved {
		return fmt.Sprintf("%s (no value provided for %s)", desc, r.Field)
	}
	return fmt.Sprintf("%s (got %v, requires %s %v)", desc, r.ActualValue, r.Operator, r.ExpectedValue)
}

// round2 rounds to two decimal places, the precision of the persisted
// score columns.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
