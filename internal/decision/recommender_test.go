package decision

import (
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func passedEligibility() *domain.EligibilityResult {
	return &domain.EligibilityResult{
		Score:               100,
		Passed:              true,
		Reasons:             []string{"All eligibility criteria met (score 100.00)"},
		ProgramRulesApplied: []string{"microloan:3"},
		ConfidenceScore:     100,
	}
}

func failedEligibility(confidence float64) *domain.EligibilityResult {
	return &domain.EligibilityResult{
		Score:               20,
		Passed:              false,
		Reasons:             []string{"Annual revenue of at least $50,000 (got 30000, requires >= 50000)"},
		ProgramRulesApplied: []string{"microloan:3"},
		ConfidenceScore:     confidence,
		CriteriaResults: []domain.CriterionResult{
			{Field: "annualRevenue", Passed: false, Resolved: true},
			{Field: "creditScore", Passed: false, Resolved: confidence == 100},
		},
	}
}

func cleanFraud() *domain.FraudAnalysis {
	return &domain.FraudAnalysis{}
}

func investigationFraud() *domain.FraudAnalysis {
	return &domain.FraudAnalysis{
		RiskScore: 60,
		Flags: []domain.FraudFlag{
			{Type: domain.FlagDuplicateEIN, Severity: domain.SeverityHigh, Description: "EIN is already registered to a different applicant (Shadow Holdings LLC)"},
		},
		RequiresInvestigation: true,
	}
}

func TestRecommend(t *testing.T) {
	t.Run("FraudInvestigationWins", func(t *testing.T) {
		// Investigation outranks even a perfect eligibility score.
		rec := Recommend(passedEligibility(), investigationFraud())

		if rec.Action != domain.ActionRequestInfo {
			t.Errorf("expected REQUEST_INFO, got %s", rec.Action)
		}
		if len(rec.Reasoning) < 2 {
			t.Fatalf("expected headline plus flag lines, got %v", rec.Reasoning)
		}
		if !strings.Contains(rec.Reasoning[0], "fraud investigation") {
			t.Errorf("headline should name the investigation, got %q", rec.Reasoning[0])
		}
		if !strings.Contains(rec.Reasoning[1], domain.FlagDuplicateEIN) {
			t.Errorf("flag line should name the flag type, got %q", rec.Reasoning[1])
		}
	})

	t.Run("IncompleteAssessment", func(t *testing.T) {
		rec := Recommend(failedEligibility(50), cleanFraud())

		if rec.Action != domain.ActionRequestInfo {
			t.Errorf("expected REQUEST_INFO, got %s", rec.Action)
		}
		joined := strings.Join(rec.Reasoning, "\n")
		if !strings.Contains(joined, "creditScore") {
			t.Errorf("reasoning should name the missing field, got %v", rec.Reasoning)
		}
	})

	t.Run("FailedWithFullConfidence", func(t *testing.T) {
		eligibility := failedEligibility(100)
		rec := Recommend(eligibility, cleanFraud())

		if rec.Action != domain.ActionReject {
			t.Errorf("expected REJECT, got %s", rec.Action)
		}
		if len(rec.Reasoning) != len(eligibility.Reasons) {
			t.Errorf("rejection reasoning should be the failure reasons, got %v", rec.Reasoning)
		}
	})

	t.Run("Approve", func(t *testing.T) {
		rec := Recommend(passedEligibility(), cleanFraud())

		if rec.Action != domain.ActionApprove {
			t.Errorf("expected APPROVE, got %s", rec.Action)
		}
		if len(rec.Reasoning) == 0 {
			t.Error("approval must still carry reasoning")
		}
	})

	t.Run("ApproveWithNotedFlags", func(t *testing.T) {
		fraudResult := &domain.FraudAnalysis{
			RiskScore: 10,
			Flags: []domain.FraudFlag{
				{Type: domain.FlagPatternAnomaly, Severity: domain.SeverityLow, Description: "Requested amount exceeds 2.0x stated annual revenue"},
			},
		}
		rec := Recommend(passedEligibility(), fraudResult)

		if rec.Action != domain.ActionApprove {
			t.Errorf("below-threshold flags should not block approval, got %s", rec.Action)
		}
		joined := strings.Join(rec.Reasoning, "\n")
		if !strings.Contains(joined, "fraud indicator") {
			t.Errorf("reasoning should note the flags, got %v", rec.Reasoning)
		}
	})

	t.Run("PassedLowConfidenceStillApproves", func(t *testing.T) {
		// The completeness check only guards failing applications.
		eligibility := passedEligibility()
		eligibility.ConfidenceScore = 50

		rec := Recommend(eligibility, cleanFraud())
		if rec.Action != domain.ActionApprove {
			t.Errorf("expected APPROVE, got %s", rec.Action)
		}
	})

	t.Run("ReasoningNeverEmpty", func(t *testing.T) {
		cases := []struct {
			name        string
			eligibility *domain.EligibilityResult
			fraud       *domain.FraudAnalysis
		}{
			{"nil inputs", nil, nil},
			{"empty structs", &domain.EligibilityResult{}, &domain.FraudAnalysis{}},
			{"bare pass", &domain.EligibilityResult{Passed: true, ConfidenceScore: 100}, cleanFraud()},
			{"bare fail", &domain.EligibilityResult{Passed: false, ConfidenceScore: 100}, cleanFraud()},
			{"bare investigation", passedEligibility(), &domain.FraudAnalysis{RequiresInvestigation: true}},
		}
		for _, tc := range cases {
			rec := Recommend(tc.eligibility, tc.fraud)
			if len(rec.Reasoning) == 0 {
				t.Errorf("%s: reasoning is empty for action %s", tc.name, rec.Action)
			}
		}
	})
}

func TestNeedsReview(t *testing.T) {
	requestInfo := &domain.Decision{Action: domain.ActionRequestInfo}
	investigate := &domain.Decision{
		Action: domain.ActionApprove,
		Fraud:  domain.FraudAnalysis{RequiresInvestigation: true},
	}
	approved := &domain.Decision{Action: domain.ActionApprove}
	rejected := &domain.Decision{Action: domain.ActionReject}

	if !NeedsReview(requestInfo) {
		t.Error("REQUEST_INFO should land in the review queue")
	}
	if !NeedsReview(investigate) {
		t.Error("investigation should land in the review queue")
	}
	if NeedsReview(approved) || NeedsReview(rejected) {
		t.Error("closed decisions should not need review")
	}
}

func TestSummary(t *testing.T) {
	d := &domain.Decision{
		ID:            "dec-001",
		ApplicationID: "app-001",
		ProgramType:   "microloan",
		Action:        domain.ActionReject,
		Reasoning:     []string{"Annual revenue of at least $50,000 (got 30000, requires >= 50000)"},
		Timestamp:     time.Now().UTC(),
		Eligibility: domain.EligibilityResult{
			Score:               20,
			ConfidenceScore:     100,
			ProgramRulesApplied: []string{"microloan:3"},
		},
		Fraud: domain.FraudAnalysis{
			RiskScore: 10,
			Flags: []domain.FraudFlag{
				{Type: domain.FlagPatternAnomaly, Severity: domain.SeverityLow, Description: "Requested amount exceeds 2.0x stated annual revenue"},
			},
		},
	}

	text := Summary(d)
	for _, want := range []string{"dec-001", "app-001", "REJECT", "microloan:3", "Annual revenue", "PATTERN_ANOMALY"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}
