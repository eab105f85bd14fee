package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const engineVersion = "kestrel-1.0"

// Processor runs the full screening pipeline for one application: resolve
// the active program rule, score eligibility, analyze fraud signals, and
// fold both into a persisted decision record.
type Processor struct {
	catalog  *rules.Catalog
	analyzer *fraud.Analyzer
}

// NewProcessor creates a processor. analyzer may be nil, in which case
// applications are screened on eligibility alone.
func NewProcessor(catalog *rules.Catalog, analyzer *fraud.Analyzer) *Processor {
	return &Processor{
		catalog:  catalog,
		analyzer: analyzer,
	}
}

// ProcessInput contains all data needed for one screening run.
type ProcessInput struct {
	TraceID     string
	Application *domain.Application
	Applicant   *domain.Applicant
	Documents   []*domain.DocumentMetadata

	// AsOf pins rule resolution to a point in time. Zero means the
	// application's submission time, falling back to now.
	AsOf time.Time

	// StartTime marks when the request entered the system, for the
	// end-to-end latency in the decision metadata.
	StartTime time.Time
}

// Process screens one application. Rule resolution and fraud lookup
// failures abort the run; the caller decides how to surface them.
func (p *Processor) Process(ctx context.Context, input *ProcessInput) (*domain.Decision, error) {
	start := time.Now()
	if input.StartTime.IsZero() {
		input.StartTime = start
	}

	asOf := input.AsOf
	if asOf.IsZero() {
		asOf = input.Application.SubmittedAt
	}

	resolveStart := time.Now()
	rule, err := p.catalog.ResolveActiveRule(input.Application.ProgramType, asOf)
	if err != nil {
		return nil, err
	}
	resolveMs := time.Since(resolveStart).Milliseconds()

	scoreStart := time.Now()
	eligibility := rules.Score(rule, &rules.ScoringInput{
		Application: input.Application,
		Applicant:   input.Applicant,
		Documents:   input.Documents,
	})
	scoreMs := time.Since(scoreStart).Milliseconds()

	analysis := &domain.FraudAnalysis{}
	var fraudMs int64
	if p.analyzer != nil {
		fraudStart := time.Now()
		analysis, err = p.analyzer.Analyze(ctx, input.Applicant, input.Application, input.Documents)
		if err != nil {
			return nil, err
		}
		fraudMs = time.Since(fraudStart).Milliseconds()
	}

	rec := Recommend(eligibility, analysis)

	return &domain.Decision{
		ID:            uuid.New().String(),
		ApplicationID: input.Application.ID,
		ProgramType:   input.Application.ProgramType,
		Action:        rec.Action,
		Reasoning:     rec.Reasoning,
		Timestamp:     time.Now().UTC(),
		Eligibility:   *eligibility,
		Fraud:         *analysis,
		Metadata: domain.DecisionMetadata{
			TraceID:           input.TraceID,
			ResolveMs:         resolveMs,
			ScoreMs:           scoreMs,
			FraudMs:           fraudMs,
			TotalMs:           time.Since(input.StartTime).Milliseconds(),
			CriteriaEvaluated: len(eligibility.CriteriaResults),
			FlagsRaised:       len(analysis.Flags),
			EngineVersion:     engineVersion,
		},
	}, nil
}
