package domain

import (
	"time"
)

// CriterionResult is the outcome of evaluating one criterion against one
// application. Produced fresh per scoring run and embedded in
// EligibilityResult; never persisted on its own.
type CriterionResult struct {
	Field         string      `json:"field"`
	Description   string      `json:"description"`
	Passed        bool        `json:"passed"`
	ActualValue   interface{} `json:"actualValue"`
	ExpectedValue interface{} `json:"expectedValue"`
	Operator      Operator    `json:"operator"`
	Weight        float64     `json:"weight"`
	PointsEarned  float64     `json:"pointsEarned"`

	// Resolved is false when the application had no value for the field.
	// Unresolved criteria fail and lower the confidence score.
	Resolved bool `json:"resolved"`
}

// EligibilityResult aggregates all criterion results for one scoring run.
// CriteriaResults and Reasons preserve criterion declaration order so the
// reasoning text is reproducible.
type EligibilityResult struct {
	Score               float64           `json:"score"`
	Passed              bool              `json:"passed"`
	Reasons             []string          `json:"reasons"`
	ProgramRulesApplied []string          `json:"programRulesApplied"`
	ConfidenceScore     float64           `json:"confidenceScore"`
	CriteriaResults     []CriterionResult `json:"criteriaResults"`
}

// MissingFields returns the fields of criteria that could not be resolved
// from the application, in declaration order.
func (e *EligibilityResult) MissingFields() []string {
	var fields []string
	for _, cr := range e.CriteriaResults {
		if !cr.Resolved {
			fields = append(fields, cr.Field)
		}
	}
	return fields
}

// Fraud flag types.
const (
	FlagDuplicateEIN       = "DUPLICATE_EIN"
	FlagSuspiciousDocument = "SUSPICIOUS_DOCUMENT"
	FlagDataMismatch       = "DATA_MISMATCH"
	FlagPatternAnomaly     = "PATTERN_ANOMALY"
)

// Severity ranks a fraud flag.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// FraudFlag is one detected anomaly. Flags are appended in detection order
// and never deduplicated across runs.
type FraudFlag struct {
	Type        string                 `json:"type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
}

// FraudAnalysis is the fraud analyzer's aggregate output for one application.
type FraudAnalysis struct {
	RiskScore             int         `json:"riskScore"`
	Flags                 []FraudFlag `json:"flags"`
	RequiresInvestigation bool        `json:"requiresInvestigation"`
}

// HasHighSeverity reports whether any flag is HIGH.
func (f *FraudAnalysis) HasHighSeverity() bool {
	for _, flag := range f.Flags {
		if flag.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// Recommended actions.
const (
	ActionApprove     = "APPROVE"
	ActionReject      = "REJECT"
	ActionRequestInfo = "REQUEST_INFO"
)

// Recommendation is the decision recommender's output: a single action plus
// the ordered reasoning behind it. Reasoning is never empty.
type Recommendation struct {
	Action    string   `json:"action"`
	Reasoning []string `json:"reasoning"`
}

// Decision is the persisted audit record for one screened application.
type Decision struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	ProgramType   string    `json:"programType"`
	Action        string    `json:"action"`
	Reasoning     []string  `json:"reasoning"`
	Timestamp     time.Time `json:"timestamp"`

	Eligibility EligibilityResult `json:"eligibility"`
	Fraud       FraudAnalysis     `json:"fraud"`

	Metadata DecisionMetadata `json:"metadata"`
}

// DecisionMetadata carries processing information for audit and tracing.
type DecisionMetadata struct {
	TraceID           string `json:"traceId"`
	ResolveMs         int64  `json:"resolveMs"`
	ScoreMs           int64  `json:"scoreMs"`
	FraudMs           int64  `json:"fraudMs"`
	TotalMs           int64  `json:"totalMs"`
	CriteriaEvaluated int    `json:"criteriaEvaluated"`
	FlagsRaised       int    `json:"flagsRaised"`
	EngineVersion     string `json:"engineVersion"`
}

// DecisionResponse is the API response for a screened application.
type DecisionResponse struct {
	DecisionID      string           `json:"decisionId"`
	ApplicationID   string           `json:"applicationId"`
	ProgramType     string           `json:"programType"`
	Action          string           `json:"action"`
	Score           float64          `json:"score"`
	Passed          bool             `json:"passed"`
	ConfidenceScore float64          `json:"confidenceScore"`
	RiskScore       int              `json:"riskScore"`
	Reasoning       []string         `json:"reasoning"`
	Metadata        DecisionMetadata `json:"metadata"`
}

// ToResponse converts a Decision to an API response.
func (d *Decision) ToResponse() *DecisionResponse {
	return &DecisionResponse{
		DecisionID:      d.ID,
		ApplicationID:   d.ApplicationID,
		ProgramType:     d.ProgramType,
		Action:          d.Action,
		Score:           d.Eligibility.Score,
		Passed:          d.Eligibility.Passed,
		ConfidenceScore: d.Eligibility.ConfidenceScore,
		RiskScore:       d.Fraud.RiskScore,
		Reasoning:       d.Reasoning,
		Metadata:        d.Metadata,
	}
}
