package domain

import (
	"time"
)

// Application represents a submitted lending application to be screened.
type Application struct {
	// Core identifiers
	ID          string `json:"id"`
	ProgramType string `json:"programType"`

	// Owning applicant
	ApplicantID string `json:"applicantId"`

	// Financial details
	RequestedAmount float64 `json:"requestedAmount"`
	LoanPurpose     string  `json:"loanPurpose,omitempty"`

	// Review pipeline status
	Status string `json:"status"`

	// Temporal
	SubmittedAt time.Time `json:"submittedAt"`
	CreatedAt   time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Applicant is the business profile an application is scored against.
// Profiles are collected incrementally, so the optional numeric fields are
// pointers: nil means the applicant never supplied the value, which is
// distinct from an explicit zero (a newly formed business has BusinessAge 0).
type Applicant struct {
	ID        string `json:"id"`
	LegalName string `json:"legalName"`

	// Employer Identification Number, normalized to digits only for lookups
	EIN string `json:"ein"`

	BusinessType  string   `json:"businessType,omitempty"` // e.g., "llc", "sole_prop", "s_corp"
	BusinessAge   *float64 `json:"businessAge,omitempty"`  // years in operation
	AnnualRevenue *float64 `json:"annualRevenue,omitempty"`
	CreditScore   *float64 `json:"creditScore,omitempty"`
	EmployeeCount *float64 `json:"employeeCount,omitempty"`

	// Registered address
	State          string   `json:"state,omitempty"`
	YearsAtAddress *float64 `json:"yearsAtAddress,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// DocumentMetadata describes one uploaded supporting document after upstream
// classification and field extraction.
type DocumentMetadata struct {
	ID            string `json:"id"`
	ApplicationID string `json:"applicationId"`

	// Classification (e.g., "w9", "tax_return", "bank_statement")
	DocType    string  `json:"docType"`
	Confidence float64 `json:"confidence"` // classifier confidence, 0.0-1.0

	// Fields extracted from the document body, keyed by semantic name
	// (e.g., "businessName", "ein", "reportedRevenue")
	ExtractedFields map[string]string `json:"extractedFields,omitempty"`

	// Set by upstream validation when the document needs human eyes
	NeedsManualReview bool `json:"needsManualReview"`

	UploadedAt time.Time `json:"uploadedAt"`
}

// ApplicationRequest is the API request payload for submitting an application.
type ApplicationRequest struct {
	ProgramType     string                 `json:"programType" validate:"required"`
	Applicant       ApplicantProfile       `json:"applicant" validate:"required"`
	RequestedAmount float64                `json:"requestedAmount" validate:"required,gt=0"`
	LoanPurpose     string                 `json:"loanPurpose,omitempty"`
	Documents       []DocumentUpload       `json:"documents,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// ApplicantProfile carries the applicant fields supplied at submission.
// Omitted numeric fields stay nil and score as missing data.
type ApplicantProfile struct {
	LegalName      string   `json:"legalName" validate:"required"`
	EIN            string   `json:"ein" validate:"required"`
	BusinessType   string   `json:"businessType,omitempty"`
	BusinessAge    *float64 `json:"businessAge,omitempty"`
	AnnualRevenue  *float64 `json:"annualRevenue,omitempty"`
	CreditScore    *float64 `json:"creditScore,omitempty"`
	EmployeeCount  *float64 `json:"employeeCount,omitempty"`
	State          string   `json:"state,omitempty"`
	YearsAtAddress *float64 `json:"yearsAtAddress,omitempty"`
}

// DocumentUpload carries pre-classified document metadata supplied at submission.
type DocumentUpload struct {
	DocType           string            `json:"docType"`
	Confidence        float64           `json:"confidence"`
	ExtractedFields   map[string]string `json:"extractedFields,omitempty"`
	NeedsManualReview bool              `json:"needsManualReview,omitempty"`
}

// Application status constants for the review pipeline.
const (
	StatusSubmitted   = "submitted"
	StatusScored      = "scored"
	StatusUnderReview = "under_review"
)

// ToRecords converts a request to Applicant, Application, and DocumentMetadata
// domain objects. Identifiers are left empty for the caller to assign.
func (r *ApplicationRequest) ToRecords() (*Applicant, *Application, []*DocumentMetadata) {
	now := time.Now().UTC()

	applicant := &Applicant{
		LegalName:      r.Applicant.LegalName,
		EIN:            r.Applicant.EIN,
		BusinessType:   r.Applicant.BusinessType,
		BusinessAge:    r.Applicant.BusinessAge,
		AnnualRevenue:  r.Applicant.AnnualRevenue,
		CreditScore:    r.Applicant.CreditScore,
		EmployeeCount:  r.Applicant.EmployeeCount,
		State:          r.Applicant.State,
		YearsAtAddress: r.Applicant.YearsAtAddress,
		CreatedAt:      now,
	}

	application := &Application{
		ProgramType:     r.ProgramType,
		RequestedAmount: r.RequestedAmount,
		LoanPurpose:     r.LoanPurpose,
		Status:          StatusSubmitted,
		SubmittedAt:     now,
		CreatedAt:       now,
		Metadata:        r.Metadata,
	}

	docs := make([]*DocumentMetadata, 0, len(r.Documents))
	for _, d := range r.Documents {
		docs = append(docs, &DocumentMetadata{
			DocType:           d.DocType,
			Confidence:        d.Confidence,
			ExtractedFields:   d.ExtractedFields,
			NeedsManualReview: d.NeedsManualReview,
			UploadedAt:        now,
		})
	}

	return applicant, application, docs
}
