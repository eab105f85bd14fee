package decision

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func fptr(v float64) *float64 { return &v }

func microloanCatalog(t *testing.T) *rules.Catalog {
	t.Helper()

	v1End := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	catalog := rules.NewCatalog()
	err := catalog.Load([]*domain.ProgramRule{
		{
			ProgramType: "microloan",
			Version:     1,
			ActiveFrom:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			ActiveTo:    &v1End,
			Rules: domain.ProgramRulesConfig{
				EligibilityCriteria: []domain.EligibilityCriterion{
					{Field: "businessAge", Operator: domain.OpGTE, Value: 2.0, Weight: 50, Description: "At least two years in operation"},
				},
				PassingScore: 50,
			},
		},
		{
			ProgramType: "microloan",
			Version:     3,
			ActiveFrom:  v1End,
			Rules: domain.ProgramRulesConfig{
				EligibilityCriteria: []domain.EligibilityCriterion{
					{Field: "businessAge", Operator: domain.OpGTE, Value: 1.0, Weight: 20, Description: "At least one year in operation"},
					{Field: "annualRevenue", Operator: domain.OpGTE, Value: 50000.0, Weight: 30, Description: "Annual revenue of at least $50,000"},
				},
				PassingScore: 40,
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	return catalog
}

func noDuplicate(ctx context.Context, ein string) (*domain.ApplicantRef, error) {
	return nil, nil
}

func oneSubmission(ctx context.Context, applicantID string, window time.Duration) (int64, error) {
	return 1, nil
}

func screeningInput() *ProcessInput {
	return &ProcessInput{
		TraceID: "trace-001",
		Application: &domain.Application{
			ID:              "app-001",
			ProgramType:     "microloan",
			ApplicantID:     "apl-001",
			RequestedAmount: 40000,
			SubmittedAt:     time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		Applicant: &domain.Applicant{
			ID:            "apl-001",
			LegalName:     "Riverside Bakery Inc",
			EIN:           "12-3456789",
			BusinessType:  "llc",
			BusinessAge:   fptr(4),
			AnnualRevenue: fptr(220000),
			State:         "CA",
		},
	}
}

func TestProcessorScreensApplication(t *testing.T) {
	proc := NewProcessor(microloanCatalog(t), fraud.NewAnalyzer(noDuplicate, oneSubmission, nil))

	d, err := proc.Process(context.Background(), screeningInput())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if d.ID == "" {
		t.Error("decision needs an ID")
	}
	if d.ApplicationID != "app-001" || d.ProgramType != "microloan" {
		t.Errorf("decision does not reference the application: %+v", d)
	}
	if d.Action != domain.ActionApprove {
		t.Errorf("expected APPROVE, got %s (%v)", d.Action, d.Reasoning)
	}
	if d.Eligibility.Score != 100 {
		t.Errorf("expected score 100, got %.2f", d.Eligibility.Score)
	}
	if len(d.Eligibility.ProgramRulesApplied) != 1 || d.Eligibility.ProgramRulesApplied[0] != "microloan:3" {
		t.Errorf("expected microloan:3 applied, got %v", d.Eligibility.ProgramRulesApplied)
	}
	if d.Metadata.CriteriaEvaluated != 2 {
		t.Errorf("expected 2 criteria evaluated, got %d", d.Metadata.CriteriaEvaluated)
	}
	if d.Metadata.FlagsRaised != 0 {
		t.Errorf("expected 0 flags, got %d", d.Metadata.FlagsRaised)
	}
	if d.Metadata.TraceID != "trace-001" {
		t.Errorf("expected traceID 'trace-001', got '%s'", d.Metadata.TraceID)
	}
	if d.Metadata.EngineVersion == "" {
		t.Error("missing engine version")
	}
	if d.Metadata.TotalMs < 0 {
		t.Error("TotalMs should be non-negative")
	}
}

func TestProcessorRejectPath(t *testing.T) {
	proc := NewProcessor(microloanCatalog(t), fraud.NewAnalyzer(noDuplicate, oneSubmission, nil))

	input := screeningInput()
	input.Applicant.BusinessAge = fptr(0.5)
	input.Applicant.AnnualRevenue = fptr(30000)

	d, err := proc.Process(context.Background(), input)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if d.Action != domain.ActionReject {
		t.Errorf("expected REJECT, got %s (%v)", d.Action, d.Reasoning)
	}
	if d.Eligibility.ConfidenceScore != 100 {
		t.Errorf("all fields were supplied, confidence should be 100, got %.2f", d.Eligibility.ConfidenceScore)
	}
	if len(d.Reasoning) != 2 {
		t.Errorf("expected both failure reasons, got %v", d.Reasoning)
	}
}

func TestProcessorRequestInfoOnMissingData(t *testing.T) {
	proc := NewProcessor(microloanCatalog(t), fraud.NewAnalyzer(noDuplicate, oneSubmission, nil))

	input := screeningInput()
	input.Applicant.BusinessAge = fptr(0.5)
	input.Applicant.AnnualRevenue = nil

	d, err := proc.Process(context.Background(), input)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if d.Action != domain.ActionRequestInfo {
		t.Errorf("expected REQUEST_INFO for incomplete data, got %s (%v)", d.Action, d.Reasoning)
	}
	if d.Eligibility.ConfidenceScore != 50 {
		t.Errorf("expected confidence 50, got %.2f", d.Eligibility.ConfidenceScore)
	}
}

func TestProcessorFraudInvestigation(t *testing.T) {
	duplicate := func(ctx context.Context, ein string) (*domain.ApplicantRef, error) {
		return &domain.ApplicantRef{ApplicantID: "apl-999", LegalName: "Shadow Holdings LLC", EIN: ein}, nil
	}
	proc := NewProcessor(microloanCatalog(t), fraud.NewAnalyzer(duplicate, oneSubmission, nil))

	d, err := proc.Process(context.Background(), screeningInput())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if d.Action != domain.ActionRequestInfo {
		t.Errorf("investigation must route to REQUEST_INFO, got %s", d.Action)
	}
	if !d.Fraud.RequiresInvestigation {
		t.Error("expected RequiresInvestigation")
	}
	if d.Metadata.FlagsRaised != 1 {
		t.Errorf("expected 1 flag raised, got %d", d.Metadata.FlagsRaised)
	}
}

func TestProcessorNoActiveRule(t *testing.T) {
	proc := NewProcessor(microloanCatalog(t), nil)

	input := screeningInput()
	input.Application.ProgramType = "disaster-relief"

	d, err := proc.Process(context.Background(), input)
	if err == nil {
		t.Fatal("expected error for unknown program")
	}
	if !errors.Is(err, rules.ErrNoActiveRule) {
		t.Errorf("expected ErrNoActiveRule, got %v", err)
	}
	if d != nil {
		t.Error("no decision should be returned on resolution failure")
	}
}

func TestProcessorLookupFailurePropagates(t *testing.T) {
	broken := func(ctx context.Context, ein string) (*domain.ApplicantRef, error) {
		return nil, fmt.Errorf("index unavailable")
	}
	proc := NewProcessor(microloanCatalog(t), fraud.NewAnalyzer(broken, oneSubmission, nil))

	_, err := proc.Process(context.Background(), screeningInput())
	if !errors.Is(err, fraud.ErrLookupFailed) {
		t.Errorf("expected ErrLookupFailed, got %v", err)
	}
}

func TestProcessorAsOfPinsRuleVersion(t *testing.T) {
	proc := NewProcessor(microloanCatalog(t), nil)

	input := screeningInput()
	input.AsOf = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	input.Applicant.BusinessAge = fptr(4)

	d, err := proc.Process(context.Background(), input)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(d.Eligibility.ProgramRulesApplied) != 1 || d.Eligibility.ProgramRulesApplied[0] != "microloan:1" {
		t.Errorf("expected microloan:1 for March 2024, got %v", d.Eligibility.ProgramRulesApplied)
	}
}

func TestProcessorWithoutAnalyzer(t *testing.T) {
	proc := NewProcessor(microloanCatalog(t), nil)

	d, err := proc.Process(context.Background(), screeningInput())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if d.Action != domain.ActionApprove {
		t.Errorf("expected APPROVE, got %s", d.Action)
	}
	if d.Fraud.RiskScore != 0 || len(d.Fraud.Flags) != 0 {
		t.Errorf("expected empty fraud analysis, got %+v", d.Fraud)
	}
}
