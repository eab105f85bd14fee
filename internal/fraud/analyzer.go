// Package fraud implements anomaly detection over applicant, application,
// and document signals. Detectors are independent and append flags in a
// fixed order; the aggregate risk score and investigation verdict are
// derived from the flags alone.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrLookupFailed wraps failures of external lookups consulted during
// analysis. Callers use errors.Is to tell an unavailable index apart from
// a completed analysis.
var ErrLookupFailed = errors.New("fraud lookup failed")

// EINLookup finds the applicant already registered under an EIN, if any.
// Implementations return (nil, nil) when the EIN has not been seen.
type EINLookup func(ctx context.Context, ein string) (*domain.ApplicantRef, error)

// SubmissionCounter reports how many applications an applicant filed within
// the trailing window, including the one under analysis.
type SubmissionCounter func(ctx context.Context, applicantID string, window time.Duration) (int64, error)

// Analyzer inspects one application for fraud signals. The zero value is
// not usable; construct with NewAnalyzer and adjust the exported tunables
// before first use if the defaults do not fit the program.
type Analyzer struct {
	einLookup EINLookup
	counter   SubmissionCounter
	screens   *PatternEngine

	// SeverityWeights maps flag severity to risk score contribution.
	SeverityWeights map[domain.Severity]int

	// InvestigateThreshold is the risk score at or above which an
	// application is routed to manual investigation.
	InvestigateThreshold int

	// DocConfidenceFloor is the minimum extraction confidence before a
	// document is flagged. Below half the floor the flag escalates to HIGH.
	DocConfidenceFloor float64

	// FieldMatchThreshold is the minimum cross-document similarity before
	// two extracted values are considered a mismatch.
	FieldMatchThreshold float64

	// AmountRevenueRatio bounds the requested amount as a multiple of
	// stated annual revenue.
	AmountRevenueRatio float64

	// VelocityLimit and VelocityWindow bound repeat submissions per
	// applicant.
	VelocityLimit  int64
	VelocityWindow time.Duration
}

// NewAnalyzer creates an analyzer with default tunables. Any collaborator
// may be nil, which disables the detectors that depend on it.
func NewAnalyzer(einLookup EINLookup, counter SubmissionCounter, screens *PatternEngine) *Analyzer {
	return &Analyzer{
		einLookup: einLookup,
		counter:   counter,
		screens:   screens,
		SeverityWeights: map[domain.Severity]int{
			domain.SeverityLow:    10,
			domain.SeverityMedium: 30,
			domain.SeverityHigh:   60,
		},
		InvestigateThreshold: 50,
		DocConfidenceFloor:   0.7,
		FieldMatchThreshold:  0.85,
		AmountRevenueRatio:   2.0,
		VelocityLimit:        3,
		VelocityWindow:       24 * time.Hour,
	}
}

// Analyze runs every detector over the submission. External lookups run
// synchronously and their failure aborts the whole analysis with
// ErrLookupFailed; skipping a fraud check silently would let an applicant
// benefit from an outage.
func (a *Analyzer) Analyze(ctx context.Context, applicant *domain.Applicant, app *domain.Application, docs []*domain.DocumentMetadata) (*domain.FraudAnalysis, error) {
	var flags []domain.FraudFlag

	dupFlags, err := a.checkDuplicateEIN(ctx, applicant)
	if err != nil {
		return nil, err
	}
	flags = append(flags, dupFlags...)

	flags = append(flags, a.checkDataMismatch(docs)...)
	flags = append(flags, a.checkSuspiciousDocuments(docs)...)

	anomalyFlags, err := a.checkPatternAnomalies(ctx, applicant, app)
	if err != nil {
		return nil, err
	}
	flags = append(flags, anomalyFlags...)

	if a.screens != nil {
		flags = append(flags, a.screens.Evaluate(applicant, app, docs)...)
	}

	analysis := &domain.FraudAnalysis{Flags: flags}

	score := 0
	for _, f := range flags {
		score += a.SeverityWeights[f.Severity]
	}
	if score > 100 {
		score = 100
	}
	analysis.RiskScore = score
	analysis.RequiresInvestigation = analysis.HasHighSeverity() || score >= a.InvestigateThreshold

	return analysis, nil
}

// checkDuplicateEIN consults the EIN index for a different applicant
// already registered under the same EIN.
func (a *Analyzer) checkDuplicateEIN(ctx context.Context, applicant *domain.Applicant) ([]domain.FraudFlag, error) {
	if a.einLookup == nil || applicant == nil || applicant.EIN == "" {
		return nil, nil
	}

	ref, err := a.einLookup(ctx, applicant.EIN)
	if err != nil {
		return nil, fmt.Errorf("%w: duplicate EIN check: %v", ErrLookupFailed, err)
	}
	if ref == nil || ref.ApplicantID == "" || ref.ApplicantID == applicant.ID {
		return nil, nil
	}

	return []domain.FraudFlag{{
		Type:        domain.FlagDuplicateEIN,
		Severity:    domain.SeverityHigh,
		Description: fmt.Sprintf("EIN is already registered to a different applicant (%s)", ref.LegalName),
		Evidence: map[string]interface{}{
			"ein":                 applicant.EIN,
			"existingApplicantId": ref.ApplicantID,
			"existingLegalName":   ref.LegalName,
		},
	}}, nil
}

// checkDataMismatch cross-checks fields extracted from two or more
// documents. Any field whose values diverge below the match threshold
// raises one flag naming the worst-matching pair.
func (a *Analyzer) checkDataMismatch(docs []*domain.DocumentMetadata) []domain.FraudFlag {
	type extracted struct {
		docID   string
		docType string
		value   string
	}

	byField := make(map[string][]extracted)
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		for name, value := range doc.ExtractedFields {
			if value == "" {
				continue
			}
			byField[name] = append(byField[name], extracted{docID: doc.ID, docType: doc.DocType, value: value})
		}
	}

	names := make([]string, 0, len(byField))
	for name, values := range byField {
		if len(values) >= 2 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var flags []domain.FraudFlag
	for _, name := range names {
		values := byField[name]

		worst := 1.0
		var left, right extracted
		for i := 0; i < len(values); i++ {
			for j := i + 1; j < len(values); j++ {
				if s := Similarity(values[i].value, values[j].value); s < worst {
					worst = s
					left, right = values[i], values[j]
				}
			}
		}

		if worst >= a.FieldMatchThreshold {
			continue
		}

		flags = append(flags, domain.FraudFlag{
			Type:     domain.FlagDataMismatch,
			Severity: domain.SeverityMedium,
			Description: fmt.Sprintf("Documents disagree on %s: %q (%s) vs %q (%s)",
				name, left.value, left.docType, right.value, right.docType),
			Evidence: map[string]interface{}{
				"field":      name,
				"similarity": worst,
				"documents":  []string{left.docID, right.docID},
				"values":     []string{left.value, right.value},
			},
		})
	}
	return flags
}

// checkSuspiciousDocuments flags documents whose extraction confidence is
// below the floor or that upstream validation marked for manual review.
func (a *Analyzer) checkSuspiciousDocuments(docs []*domain.DocumentMetadata) []domain.FraudFlag {
	var flags []domain.FraudFlag
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		switch {
		case doc.Confidence < a.DocConfidenceFloor:
			severity := domain.SeverityMedium
			if doc.Confidence < a.DocConfidenceFloor/2 {
				severity = domain.SeverityHigh
			}
			flags = append(flags, domain.FraudFlag{
				Type:     domain.FlagSuspiciousDocument,
				Severity: severity,
				Description: fmt.Sprintf("Document %s classified as %s with low confidence %.2f",
					doc.ID, doc.DocType, doc.Confidence),
				Evidence: map[string]interface{}{
					"documentId": doc.ID,
					"docType":    doc.DocType,
					"confidence": doc.Confidence,
					"threshold":  a.DocConfidenceFloor,
				},
			})
		case doc.NeedsManualReview:
			flags = append(flags, domain.FraudFlag{
				Type:        domain.FlagSuspiciousDocument,
				Severity:    domain.SeverityMedium,
				Description: fmt.Sprintf("Document %s was flagged for manual review by upstream validation", doc.ID),
				Evidence: map[string]interface{}{
					"documentId": doc.ID,
					"docType":    doc.DocType,
				},
			})
		}
	}
	return flags
}

// checkPatternAnomalies covers the built-in statistical screens: requested
// amount far beyond stated revenue, and submission velocity.
func (a *Analyzer) checkPatternAnomalies(ctx context.Context, applicant *domain.Applicant, app *domain.Application) ([]domain.FraudFlag, error) {
	var flags []domain.FraudFlag

	if app != nil && applicant != nil && applicant.AnnualRevenue != nil {
		revenue := *applicant.AnnualRevenue
		if revenue > 0 && app.RequestedAmount > revenue*a.AmountRevenueRatio {
			flags = append(flags, domain.FraudFlag{
				Type:     domain.FlagPatternAnomaly,
				Severity: domain.SeverityLow,
				Description: fmt.Sprintf("Requested amount %.0f exceeds %.1fx stated annual revenue %.0f",
					app.RequestedAmount, a.AmountRevenueRatio, revenue),
				Evidence: map[string]interface{}{
					"requestedAmount": app.RequestedAmount,
					"annualRevenue":   revenue,
					"ratio":           a.AmountRevenueRatio,
				},
			})
		}
	}

	if a.counter != nil && app != nil && app.ApplicantID != "" {
		count, err := a.counter(ctx, app.ApplicantID, a.VelocityWindow)
		if err != nil {
			return nil, fmt.Errorf("%w: submission velocity check: %v", ErrLookupFailed, err)
		}
		if count > a.VelocityLimit {
			flags = append(flags, domain.FraudFlag{
				Type:     domain.FlagPatternAnomaly,
				Severity: domain.SeverityLow,
				Description: fmt.Sprintf("Applicant filed %d applications within %s",
					count, a.VelocityWindow),
				Evidence: map[string]interface{}{
					"applicantId": app.ApplicantID,
					"count":       count,
					"limit":       a.VelocityLimit,
					"windowSecs":  int64(a.VelocityWindow.Seconds()),
				},
			})
		}
	}

	return flags, nil
}
