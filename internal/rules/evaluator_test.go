package rules

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func fptr(v float64) *float64 {
	return &v
}

func TestEvaluateCriterion_Operators(t *testing.T) {
	in := &ScoringInput{
		Applicant: &domain.Applicant{CreditScore: fptr(680)},
	}

	tests := []struct {
		name     string
		operator domain.Operator
		value    interface{}
		want     bool
	}{
		{"gte passes above", domain.OpGTE, 650.0, true},
		{"gte passes at boundary", domain.OpGTE, 680.0, true},
		{"gte fails below", domain.OpGTE, 700.0, false},
		{"lte passes below", domain.OpLTE, 700.0, true},
		{"lte fails above", domain.OpLTE, 650.0, false},
		{"gt passes above", domain.OpGT, 650.0, true},
		{"gt fails at boundary", domain.OpGT, 680.0, false},
		{"lt passes below", domain.OpLT, 700.0, true},
		{"lt fails at boundary", domain.OpLT, 680.0, false},
		{"eq passes on match", domain.OpEQ, 680.0, true},
		{"eq normalizes int", domain.OpEQ, 680, true},
		{"eq fails on mismatch", domain.OpEQ, 700.0, false},
		{"neq passes on mismatch", domain.OpNEQ, 700.0, true},
		{"neq fails on match", domain.OpNEQ, 680.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := domain.EligibilityCriterion{
				Field:    "creditScore",
				Operator: tt.operator,
				Value:    tt.value,
				Weight:   10,
			}

			r := EvaluateCriterion(c, in)
			if r.Passed != tt.want {
				t.Errorf("creditScore 680 %s %v: got passed=%v, want %v",
					tt.operator, tt.value, r.Passed, tt.want)
			}

			wantPoints := 0.0
			if tt.want {
				wantPoints = 10.0
			}
			if r.PointsEarned != wantPoints {
				t.Errorf("expected pointsEarned %.1f, got %.1f", wantPoints, r.PointsEarned)
			}
			if !r.Resolved {
				t.Error("creditScore was supplied, expected Resolved=true")
			}
		})
	}
}

func TestEvaluateCriterion_MissingField(t *testing.T) {
	// Applicant never supplied a credit score
	in := &ScoringInput{
		Applicant: &domain.Applicant{LegalName: "Acme Bakery LLC"},
	}

	c := domain.EligibilityCriterion{
		Field:       "creditScore",
		Operator:    domain.OpGTE,
		Value:       650.0,
		Weight:      25,
		Description: "Minimum credit score of 650",
	}

	r := EvaluateCriterion(c, in)
	if r.Passed {
		t.Error("missing field should fail the criterion")
	}
	if r.Resolved {
		t.Error("missing field should not count as resolved")
	}
	if r.PointsEarned != 0 {
		t.Errorf("expected 0 points for missing field, got %.1f", r.PointsEarned)
	}
}

func TestEvaluateCriterion_ExplicitZeroIsPresent(t *testing.T) {
	// A newly formed business legitimately reports businessAge 0 --
	// that is present data failing on merit, not missing data.
	in := &ScoringInput{
		Applicant: &domain.Applicant{BusinessAge: fptr(0)},
	}

	c := domain.EligibilityCriterion{
		Field:    "businessAge",
		Operator: domain.OpGTE,
		Value:    1.0,
		Weight:   20,
	}

	r := EvaluateCriterion(c, in)
	if !r.Resolved {
		t.Error("explicit zero should resolve")
	}
	if r.Passed {
		t.Error("businessAge 0 should fail >= 1")
	}
	if r.ActualValue != 0.0 {
		t.Errorf("expected actualValue 0, got %v", r.ActualValue)
	}
}

func TestEvaluateCriterion_NumericStringCoercion(t *testing.T) {
	in := &ScoringInput{
		Applicant: &domain.Applicant{AnnualRevenue: fptr(60000)},
	}

	// Form-sourced rule configs sometimes carry numbers as strings
	c := domain.EligibilityCriterion{
		Field:    "annualRevenue",
		Operator: domain.OpGTE,
		Value:    "50000",
		Weight:   30,
	}

	r := EvaluateCriterion(c, in)
	if !r.Passed {
		t.Error("revenue 60000 should pass >= \"50000\" after coercion")
	}
}

func TestEvaluateCriterion_NonNumericOperandFails(t *testing.T) {
	in := &ScoringInput{
		Applicant: &domain.Applicant{BusinessType: "llc"},
	}

	// Numeric operator against a string field: criterion failure, not a crash
	c := domain.EligibilityCriterion{
		Field:    "businessType",
		Operator: domain.OpGTE,
		Value:    5.0,
		Weight:   10,
	}

	r := EvaluateCriterion(c, in)
	if r.Passed {
		t.Error("non-coercible operand should fail the criterion")
	}
	if !r.Resolved {
		t.Error("the field itself was present, expected Resolved=true")
	}
}

func TestEvaluateCriterion_StringEquality(t *testing.T) {
	in := &ScoringInput{
		Applicant: &domain.Applicant{BusinessType: "llc", State: "CA"},
	}

	eq := domain.EligibilityCriterion{
		Field:    "businessType",
		Operator: domain.OpEQ,
		Value:    "llc",
		Weight:   10,
	}
	if r := EvaluateCriterion(eq, in); !r.Passed {
		t.Error("businessType == llc should pass")
	}

	neq := domain.EligibilityCriterion{
		Field:    "applicant.state",
		Operator: domain.OpNEQ,
		Value:    "TX",
		Weight:   10,
	}
	if r := EvaluateCriterion(neq, in); !r.Passed {
		t.Error("state CA != TX should pass")
	}
}

func TestEvaluateCriterion_UnknownField(t *testing.T) {
	in := &ScoringInput{
		Applicant: &domain.Applicant{CreditScore: fptr(700)},
	}

	c := domain.EligibilityCriterion{
		Field:    "ownerBirthday",
		Operator: domain.OpGTE,
		Value:    1.0,
		Weight:   10,
	}

	r := EvaluateCriterion(c, in)
	if r.Passed || r.Resolved {
		t.Error("unregistered field should evaluate as unresolved failure")
	}
}

func TestEvaluateCriterion_RequestedAmount(t *testing.T) {
	in := &ScoringInput{
		Application: &domain.Application{RequestedAmount: 25000},
	}

	c := domain.EligibilityCriterion{
		Field:    "requestedAmount",
		Operator: domain.OpLTE,
		Value:    50000.0,
		Weight:   15,
	}

	r := EvaluateCriterion(c, in)
	if !r.Passed {
		t.Errorf("requested 25000 should pass <= 50000, got passed=%v", r.Passed)
	}
}

func TestKnownFields(t *testing.T) {
	if !KnownField("businessAge") {
		t.Error("businessAge should be registered")
	}
	if !KnownField("applicant.yearsAtAddress") {
		t.Error("applicant.yearsAtAddress should be registered")
	}
	if KnownField("ssn") {
		t.Error("ssn must not be registered")
	}

	names := KnownFields()
	if len(names) != 8 {
		t.Errorf("expected 8 registered fields, got %d: %v", len(names), names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("KnownFields not sorted: %q before %q", names[i-1], names[i])
		}
	}
}
