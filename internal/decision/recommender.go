// Package decision folds eligibility and fraud outcomes into the final
// recommended action for one application, and assembles the persisted
// decision record.
package decision

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Recommend maps a scoring run and a fraud analysis to a single action.
// Fraud investigation takes priority over every eligibility outcome, and an
// incomplete assessment is never turned into a rejection: the applicant is
// asked for the missing information first. Reasoning is always non-empty.
func Recommend(eligibility *domain.EligibilityResult, fraud *domain.FraudAnalysis) *domain.Recommendation {
	if eligibility == nil {
		eligibility = &domain.EligibilityResult{}
	}
	if fraud == nil {
		fraud = &domain.FraudAnalysis{}
	}

	if fraud.RequiresInvestigation {
		reasoning := []string{
			fmt.Sprintf("Application flagged for fraud investigation (risk score %d)", fraud.RiskScore),
		}
		for _, flag := range fraud.Flags {
			reasoning = append(reasoning, fmt.Sprintf("[%s] %s: %s", flag.Severity, flag.Type, flag.Description))
		}
		return &domain.Recommendation{Action: domain.ActionRequestInfo, Reasoning: reasoning}
	}

	if !eligibility.Passed && eligibility.ConfidenceScore < 100 {
		reasoning := []string{
			fmt.Sprintf("Eligibility could not be fully assessed (confidence %.0f%%)", eligibility.ConfidenceScore),
		}
		for _, field := range eligibility.MissingFields() {
			reasoning = append(reasoning, fmt.Sprintf("Missing value for %s", field))
		}
		return &domain.Recommendation{Action: domain.ActionRequestInfo, Reasoning: reasoning}
	}

	if !eligibility.Passed {
		reasoning := eligibility.Reasons
		if len(reasoning) == 0 {
			reasoning = []string{fmt.Sprintf("Eligibility score %.2f is below the passing threshold", eligibility.Score)}
		}
		return &domain.Recommendation{Action: domain.ActionReject, Reasoning: reasoning}
	}

	reasoning := make([]string, 0, len(eligibility.Reasons)+1)
	reasoning = append(reasoning, eligibility.Reasons...)
	if len(reasoning) == 0 {
		reasoning = append(reasoning, "Application meets all program requirements")
	}
	if n := len(fraud.Flags); n > 0 {
		reasoning = append(reasoning, fmt.Sprintf("%d fraud indicator(s) noted below the investigation threshold", n))
	}
	return &domain.Recommendation{Action: domain.ActionApprove, Reasoning: reasoning}
}
