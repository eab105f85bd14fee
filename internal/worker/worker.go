// Package worker provides async application screening off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Worker consumes submitted applications from the EventBus, screens them,
// and publishes the resulting decisions.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	processor *decision.Processor

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, processor *decision.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the submission topic and begins screening.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicApplicationSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicApplicationSubmitted,
	)

	return nil
}

// SubmissionMessage is the message payload for application screening.
type SubmissionMessage struct {
	ApplicationID string     `json:"applicationId"`
	TraceID       string     `json:"traceId,omitempty"`
	AsOf          *time.Time `json:"asOf,omitempty"`
}

// handleMessage screens one submitted application.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	// Parse message
	var subMsg SubmissionMessage
	if err := json.Unmarshal(msg.Payload, &subMsg); err != nil {
		slog.Error("failed to parse submission message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	traceID := subMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("screening application",
		"application_id", subMsg.ApplicationID,
		"trace_id", traceID,
	)

	// 1. Load the submission
	app, err := w.repo.GetApplication(ctx, subMsg.ApplicationID)
	if err != nil {
		slog.Error("failed to load application",
			"application_id", subMsg.ApplicationID,
			"error", err,
		)
		return err
	}

	applicant, err := w.repo.GetApplicant(ctx, app.ApplicantID)
	if err != nil {
		slog.Error("failed to load applicant",
			"application_id", app.ID,
			"applicant_id", app.ApplicantID,
			"error", err,
		)
		return err
	}

	docs, err := w.repo.ListDocuments(ctx, app.ID)
	if err != nil {
		slog.Error("failed to load documents",
			"application_id", app.ID,
			"error", err,
		)
		return err
	}

	// 2. Screen it
	input := &decision.ProcessInput{
		TraceID:     traceID,
		Application: app,
		Applicant:   applicant,
		Documents:   docs,
		StartTime:   start,
	}
	if subMsg.AsOf != nil {
		input.AsOf = *subMsg.AsOf
	}

	dec, err := w.processor.Process(ctx, input)
	if err != nil {
		slog.Error("screening failed",
			"application_id", app.ID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	// 3. Persist decision and advance the application
	if err := w.repo.SaveDecision(ctx, dec); err != nil {
		slog.Error("failed to save decision",
			"application_id", app.ID,
			"decision_id", dec.ID,
			"error", err,
		)
	}

	app.Status = domain.StatusScored
	if decision.NeedsReview(dec) {
		app.Status = domain.StatusUnderReview
	}
	if err := w.repo.SaveApplication(ctx, app); err != nil {
		slog.Error("failed to update application status",
			"application_id", app.ID,
			"error", err,
		)
	}

	// 4. Publish the decision
	resultPayload, _ := json.Marshal(dec)
	if err := w.bus.Publish(ctx, domain.TopicDecisionCompleted, resultPayload); err != nil {
		slog.Error("failed to publish decision",
			"application_id", app.ID,
			"error", err,
		)
	}

	// 5. If it needs human eyes, publish to the review topic
	if decision.NeedsReview(dec) {
		if err := w.bus.Publish(ctx, domain.TopicReviewFlagged, resultPayload); err != nil {
			slog.Error("failed to publish review flag",
				"application_id", app.ID,
				"error", err,
			)
		}
	}

	slog.Info("application screened",
		"application_id", app.ID,
		"action", dec.Action,
		"score", dec.Eligibility.Score,
		"risk_score", dec.Fraud.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
