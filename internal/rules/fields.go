package rules

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ScoringInput is the application context criteria are evaluated against.
// All records are read-only during a scoring run.
type ScoringInput struct {
	Application *domain.Application
	Applicant   *domain.Applicant
	Documents   []*domain.DocumentMetadata
}

// fieldKind tells validation which operators make sense for a field.
type fieldKind int

const (
	kindNumber fieldKind = iota
	kindString
)

// fieldSpec is one entry in the accessor registry: a typed extraction
// function plus the kind validation checks operators against.
type fieldSpec struct {
	kind    fieldKind
	resolve func(in *ScoringInput) (interface{}, bool)
}

// fieldRegistry maps every criterion field name a rule may reference to its
// extraction function. Rule validation rejects names outside this map, so a
// typo in a rule configuration fails at load time, not mid-evaluation.
var fieldRegistry = map[string]fieldSpec{
	"businessAge": {kindNumber, func(in *ScoringInput) (interface{}, bool) {
		if in.Applicant == nil {
			return nil, false
		}
		return floatValue(in.Applicant.BusinessAge)
	}},
	"annualRevenue": {kindNumber, func(in *ScoringInput) (interface{}, bool) {
		if in.Applicant == nil {
			return nil, false
		}
		return floatValue(in.Applicant.AnnualRevenue)
	}},
	"creditScore": {kindNumber, func(in *ScoringInput) (interface{}, bool) {
		if in.Applicant == nil {
			return nil, false
		}
		return floatValue(in.Applicant.CreditScore)
	}},
	"requestedAmount": {kindNumber, func(in *ScoringInput) (interface{}, bool) {
		if in.Application == nil {
			return nil, false
		}
		return in.Application.RequestedAmount, true
	}},
	"employeeCount": {kindNumber, func(in *ScoringInput) (interface{}, bool) {
		if in.Applicant == nil {
			return nil, false
		}
		return floatValue(in.Applicant.EmployeeCount)
	}},
	"businessType": {kindString, func(in *ScoringInput) (interface{}, bool) {
		if in.Applicant == nil {
			return nil, false
		}
		return stringValue(in.Applicant.BusinessType)
	}},
	"applicant.state": {kindString, func(in *ScoringInput) (interface{}, bool) {
		if in.Applicant == nil {
			return nil, false
		}
		return stringValue(in.Applicant.State)
	}},
	"applicant.yearsAtAddress": {kindNumber, func(in *ScoringInput) (interface{}, bool) {
		if in.Applicant == nil {
			return nil, false
		}
		return floatValue(in.Applicant.YearsAtAddress)
	}},
}

func floatValue(v *float64) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func stringValue(v string) (interface{}, bool) {
	if v == "" {
		return nil, false
	}
	return v, true
}

// ResolveField extracts a registered field's value from the input.
// ok is false when the field is registered but the application has no value
// for it, or when the name is not registered at all.
func ResolveField(in *ScoringInput, name string) (interface{}, bool) {
	spec, known := fieldRegistry[name]
	if !known {
		return nil, false
	}
	return spec.resolve(in)
}

// KnownField reports whether name is in the accessor registry.
func KnownField(name string) bool {
	_, ok := fieldRegistry[name]
	return ok
}

// KnownFields returns the registered field names in sorted order, for
// validation error messages and admin documentation.
func KnownFields() []string {
	names := make([]string, 0, len(fieldRegistry))
	for name := range fieldRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
