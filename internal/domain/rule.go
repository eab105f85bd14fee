package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProgramRule is one immutable, versioned rule set for a lending program.
// New requirements produce a new version; existing versions are never mutated,
// so past decisions remain reproducible.
type ProgramRule struct {
	ProgramType string `json:"programType"`
	Version     int    `json:"version"`

	// Effective window, half-open: activeFrom inclusive, activeTo exclusive.
	// A nil activeTo means open-ended.
	ActiveFrom time.Time  `json:"activeFrom"`
	ActiveTo   *time.Time `json:"activeTo,omitempty"`

	Rules ProgramRulesConfig `json:"rules"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Key returns the "programType:version" identifier recorded on results.
func (r *ProgramRule) Key() string {
	return fmt.Sprintf("%s:%d", r.ProgramType, r.Version)
}

// ActiveAt reports whether the rule's effective window contains ts.
func (r *ProgramRule) ActiveAt(ts time.Time) bool {
	if ts.Before(r.ActiveFrom) {
		return false
	}
	if r.ActiveTo != nil && !ts.Before(*r.ActiveTo) {
		return false
	}
	return true
}

// ProgramRulesConfig is the declarative payload of a rule version. It is a
// persisted contract: the JSON shape round-trips losslessly through storage.
type ProgramRulesConfig struct {
	EligibilityCriteria []EligibilityCriterion `json:"eligibilityCriteria"`

	// Scalar bounds surfaced to applicants and admin screens
	MinCreditScore float64 `json:"minCreditScore,omitempty"`
	MaxLoanAmount  float64 `json:"maxLoanAmount,omitempty"`
	MinBusinessAge float64 `json:"minBusinessAge,omitempty"`

	RequiredDocuments []string `json:"requiredDocuments,omitempty"`

	// Minimum weighted score (0-100) an application must reach to pass
	PassingScore float64 `json:"passingScore"`
}

// EligibilityCriterion is one weighted, operator-based test against an
// application field. Criteria are value objects with no identity beyond
// their containing rule.
type EligibilityCriterion struct {
	Field       string      `json:"field"`
	Operator    Operator    `json:"operator"`
	Value       interface{} `json:"value"`
	Weight      float64     `json:"weight"`
	Description string      `json:"description"`
}

// Operator identifies the comparison a criterion applies. The set is closed;
// evaluation dispatches over these values exhaustively, and rule validation
// rejects anything that did not parse to one of them.
type Operator int

const (
	OpUnknown Operator = iota // zero value, never valid in a stored rule
	OpGTE
	OpLTE
	OpEQ
	OpNEQ
	OpGT
	OpLT
)

var operatorSymbols = map[Operator]string{
	OpGTE: ">=",
	OpLTE: "<=",
	OpEQ:  "==",
	OpNEQ: "!=",
	OpGT:  ">",
	OpLT:  "<",
}

var symbolOperators = map[string]Operator{
	">=": OpGTE,
	"<=": OpLTE,
	"==": OpEQ,
	"!=": OpNEQ,
	">":  OpGT,
	"<":  OpLT,
}

// ParseOperator maps a wire symbol to its Operator.
func ParseOperator(symbol string) (Operator, error) {
	op, ok := symbolOperators[symbol]
	if !ok {
		return OpUnknown, fmt.Errorf("unknown operator %q", symbol)
	}
	return op, nil
}

// Numeric reports whether the operator orders its operands, requiring both
// sides to coerce to numbers.
func (op Operator) Numeric() bool {
	switch op {
	case OpGTE, OpLTE, OpGT, OpLT:
		return true
	}
	return false
}

func (op Operator) String() string {
	if s, ok := operatorSymbols[op]; ok {
		return s
	}
	return "?"
}

// MarshalJSON writes the operator as its wire symbol (">=", "==", ...).
func (op Operator) MarshalJSON() ([]byte, error) {
	s, ok := operatorSymbols[op]
	if !ok {
		return nil, fmt.Errorf("cannot marshal unknown operator %d", int(op))
	}
	return json.Marshal(s)
}

// UnmarshalJSON parses a wire symbol, rejecting anything outside the closed set.
func (op *Operator) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOperator(s)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

// FraudPattern is an administrator-configured anomaly screen evaluated by the
// fraud analyzer alongside the built-in detectors.
type FraudPattern struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression over the application context; must compile to bool
	Expression string `json:"expression"`

	// Severity assigned to the flag when the expression matches
	Severity Severity `json:"severity"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
