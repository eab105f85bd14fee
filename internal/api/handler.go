package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/lookup"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	catalog   *rules.Catalog
	patterns  *fraud.PatternEngine
	processor *decision.Processor
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, catalog *rules.Catalog, patterns *fraud.PatternEngine, processor *decision.Processor, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		catalog:   catalog,
		patterns:  patterns,
		processor: processor,
		version:   version,
	}
}

// SubmitApplication handles POST /applications requests.
func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	// Parse request
	var req domain.ApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate required fields
	if req.ProgramType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "programType is required",
		})
		return
	}
	if req.Applicant.LegalName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "applicant.legalName is required",
		})
		return
	}
	ein := lookup.NormalizeEIN(req.Applicant.EIN)
	if ein == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "applicant.ein must contain at least one digit",
		})
		return
	}
	if req.RequestedAmount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "requestedAmount must be positive",
		})
		return
	}

	// Build records. EINs are stored normalized so cross-reference lookups
	// see one spelling.
	applicant, app, docs := req.ToRecords()
	applicant.EIN = ein

	// Returning applicants keep their ID. An EIN match alone is not enough;
	// the legal name must match too, so a known EIN resubmitted under a
	// different name reaches the fraud analyzer as a separate applicant.
	if h.repo != nil {
		if existing, err := h.repo.FindApplicantByEIN(ctx, ein); err == nil {
			if fraud.Normalize(existing.LegalName) == fraud.Normalize(applicant.LegalName) {
				applicant.ID = existing.ID
			}
		}
	}
	if applicant.ID == "" {
		applicant.ID = uuid.New().String()
	}

	app.ID = uuid.New().String()
	app.ApplicantID = applicant.ID
	for _, doc := range docs {
		doc.ID = uuid.New().String()
		doc.ApplicationID = app.ID
	}

	// Save submission if repository is available
	if h.repo != nil {
		if err := h.repo.SaveApplicant(ctx, applicant); err != nil {
			slog.Error("failed to save applicant", "applicant_id", applicant.ID, "error", err)
			// Continue even if save fails? For now, yes, to prioritize screening.
		}
		if err := h.repo.SaveApplication(ctx, app); err != nil {
			slog.Error("failed to save application", "application_id", app.ID, "error", err)
		}
		for _, doc := range docs {
			if err := h.repo.SaveDocument(ctx, doc); err != nil {
				slog.Error("failed to save document", "document_id", doc.ID, "error", err)
			}
		}
	}

	// Synchronous screening
	input := &decision.ProcessInput{
		TraceID:     traceID,
		Application: app,
		Applicant:   applicant,
		Documents:   docs,
		StartTime:   start,
	}

	dec, err := h.processor.Process(ctx, input)
	if err != nil {
		switch {
		case errors.Is(err, rules.ErrNoActiveRule):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "no active rule for program " + app.ProgramType,
			})
		case errors.Is(err, fraud.ErrLookupFailed):
			slog.Error("fraud lookup failed", "application_id", app.ID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "fraud screening temporarily unavailable",
			})
		default:
			slog.Error("screening failed", "application_id", app.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "screening failed",
			})
		}
		return
	}

	// Persist decision and advance the application
	if h.repo != nil {
		if err := h.repo.SaveDecision(ctx, dec); err != nil {
			slog.Error("failed to save decision", "decision_id", dec.ID, "error", err)
		}

		app.Status = domain.StatusScored
		if decision.NeedsReview(dec) {
			app.Status = domain.StatusUnderReview
		}
		if err := h.repo.SaveApplication(ctx, app); err != nil {
			slog.Error("failed to update application status", "application_id", app.ID, "error", err)
		}
	}

	// Notify downstream consumers
	if h.bus != nil {
		payload, _ := json.Marshal(dec)
		if err := h.bus.Publish(ctx, domain.TopicDecisionCompleted, payload); err != nil {
			slog.Error("failed to publish decision", "decision_id", dec.ID, "error", err)
		}
		if decision.NeedsReview(dec) {
			if err := h.bus.Publish(ctx, domain.TopicReviewFlagged, payload); err != nil {
				slog.Error("failed to publish review flag", "decision_id", dec.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, dec.ToResponse())
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetApplication retrieves an application by ID.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "id")

	if appID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "application id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	app, err := h.repo.GetApplication(ctx, appID)
	if err != nil {
		slog.Error("failed to get application", "id", appID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "application not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, app)
}

// GetApplicationDecision retrieves the latest decision for an application.
func (h *Handler) GetApplicationDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "id")

	if appID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "application id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dec, err := h.repo.GetDecisionByApplication(ctx, appID)
	if err != nil {
		slog.Error("failed to get decision for application", "application_id", appID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "decision not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, dec)
}

// GetDecision retrieves a decision audit record by ID.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decisionID := chi.URLParam(r, "id")

	if decisionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dec, err := h.repo.GetDecision(ctx, decisionID)
	if err != nil {
		slog.Error("failed to get decision", "id", decisionID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "decision not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, dec)
}

// ListPrograms returns the program types with at least one loaded rule version.
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	programs := h.catalog.Programs()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"programs": programs,
		"count":    len(programs),
	})
}

// ListProgramRules returns all loaded rule versions for a program, newest first.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListProgramRules(w http.ResponseWriter, r *http.Request) {
	programType := chi.URLParam(r, "programType")

	if programType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "program type is required",
		})
		return
	}

	versions := h.catalog.Versions(programType)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"programType": programType,
		"rules":       versions,
		"count":       len(versions),
		"source":      "database",
	})
}

// GetActiveRule resolves the rule version in effect for a program. The
// optional asOf query parameter (RFC 3339) pins resolution to a point in
// time; the default is now.
func (h *Handler) GetActiveRule(w http.ResponseWriter, r *http.Request) {
	programType := chi.URLParam(r, "programType")

	if programType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "program type is required",
		})
		return
	}

	var asOf time.Time
	if raw := r.URL.Query().Get("asOf"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "asOf must be an RFC 3339 timestamp",
			})
			return
		}
		asOf = parsed
	}

	rule, err := h.catalog.ResolveActiveRule(programType, asOf)
	if err != nil {
		if errors.Is(err, rules.ErrNoActiveRule) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no active rule for program " + programType,
			})
			return
		}
		slog.Error("rule resolution failed", "program", programType, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "rule resolution failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateProgramRuleRequest is the request body for creating a rule version.
type CreateProgramRuleRequest struct {
	Version    int                       `json:"version"`
	ActiveFrom time.Time                 `json:"activeFrom"`
	ActiveTo   *time.Time                `json:"activeTo,omitempty"`
	Rules      domain.ProgramRulesConfig `json:"rules"`
}

// CreateProgramRule creates a new rule version for a program and loads it
// into the catalog. Versions are append-only; resubmitting an existing
// version is rejected.
func (h *Handler) CreateProgramRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	programType := chi.URLParam(r, "programType")

	if programType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "program type is required",
		})
		return
	}

	var req CreateProgramRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule := &domain.ProgramRule{
		ProgramType: programType,
		Version:     req.Version,
		ActiveFrom:  req.ActiveFrom,
		ActiveTo:    req.ActiveTo,
		Rules:       req.Rules,
		CreatedAt:   time.Now().UTC(),
	}

	if err := rules.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	// Persist first so the catalog never carries a version the database
	// does not have
	if h.repo != nil {
		if err := h.repo.SaveProgramRule(ctx, rule); err != nil {
			if errors.Is(err, repository.ErrInvalidInput) {
				writeJSON(w, http.StatusConflict, map[string]string{
					"error": "rule version already exists",
				})
				return
			}
			slog.Error("failed to save program rule", "key", rule.Key(), "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	if err := h.catalog.Add(rule); err != nil {
		slog.Error("failed to load rule into catalog", "key", rule.Key(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rule: " + err.Error(),
		})
		return
	}

	slog.Info("program rule created", "key", rule.Key())
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule version created and loaded.",
	})
}

// ReloadRules reloads all program rules from the database into the catalog.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	// Load rules from database
	dbRules, err := h.repo.ListAllProgramRules(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	// Reload into catalog
	if err := h.catalog.Reload(dbRules); err != nil {
		slog.Error("failed to reload rules into catalog", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ============================================================================
// FRAUD PATTERN HANDLERS
// ============================================================================

// CreateFraudPatternRequest is the request body for creating a fraud pattern.
type CreateFraudPatternRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Expression  string          `json:"expression"`
	Severity    domain.Severity `json:"severity"`
	Enabled     bool            `json:"enabled"`
}

// ListFraudPatterns returns all loaded fraud patterns.
func (h *Handler) ListFraudPatterns(w http.ResponseWriter, r *http.Request) {
	if h.patterns == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "pattern engine not available",
		})
		return
	}

	loaded := h.patterns.GetLoadedPatterns()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetFraudPattern retrieves a fraud pattern by ID. Disabled patterns are not
// loaded into the engine, so the repository is checked as a fallback.
func (h *Handler) GetFraudPattern(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patternID := chi.URLParam(r, "id")

	if patternID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "pattern id is required",
		})
		return
	}

	if h.patterns != nil {
		for _, p := range h.patterns.GetLoadedPatterns() {
			if p.ID == patternID {
				writeJSON(w, http.StatusOK, p)
				return
			}
		}
	}

	if h.repo != nil {
		if p, err := h.repo.GetFraudPattern(ctx, patternID); err == nil {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "pattern not found",
	})
}

// CreateFraudPattern creates a new fraud pattern and saves it to the database.
func (h *Handler) CreateFraudPattern(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateFraudPatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate required fields
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if !req.Severity.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be LOW, MEDIUM, or HIGH",
		})
		return
	}

	now := time.Now().UTC()
	pattern := &domain.FraudPattern{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Severity:    req.Severity,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Validate CEL expression without touching the loaded set
	if h.patterns != nil {
		if err := h.patterns.ValidatePattern(pattern); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid CEL expression: " + err.Error(),
			})
			return
		}
	}

	// Persist to repository
	if h.repo != nil {
		if err := h.repo.SaveFraudPattern(ctx, pattern); err != nil {
			slog.Error("failed to save fraud pattern", "id", pattern.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save pattern",
			})
			return
		}
	}

	slog.Info("fraud pattern created", "id", pattern.ID, "name", pattern.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"pattern": pattern,
		"message": "Pattern created. Call POST /fraud/patterns/reload to apply changes.",
	})
}

// DeleteFraudPattern disables a fraud pattern and auto-reloads the engine.
func (h *Handler) DeleteFraudPattern(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patternID := chi.URLParam(r, "id")

	if patternID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "pattern id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteFraudPattern(ctx, patternID); err != nil {
			slog.Error("failed to delete fraud pattern", "id", patternID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "pattern not found",
			})
			return
		}

		// Auto-reload pattern engine after delete
		if h.patterns != nil {
			dbPatterns, err := h.repo.ListFraudPatterns(ctx)
			if err != nil {
				slog.Error("failed to reload patterns after delete", "error", err)
			} else if err := h.patterns.ReloadPatterns(dbPatterns); err != nil {
				slog.Error("failed to reload patterns after delete", "error", err)
			} else {
				slog.Info("patterns auto-reloaded after delete", "count", h.patterns.PatternsCount())
			}
		}
	}

	slog.Info("fraud pattern deleted", "id", patternID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Pattern deleted and engine reloaded.",
	})
}

// ReloadFraudPatterns reloads all fraud patterns from the database into the engine.
func (h *Handler) ReloadFraudPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if h.patterns == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "pattern engine not available",
		})
		return
	}

	// Load patterns from database
	dbPatterns, err := h.repo.ListFraudPatterns(ctx)
	if err != nil {
		slog.Error("failed to list patterns from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load patterns from database",
		})
		return
	}

	// Reload into engine, disabled patterns are skipped
	if err := h.patterns.ReloadPatterns(dbPatterns); err != nil {
		slog.Error("failed to reload patterns into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload patterns: " + err.Error(),
		})
		return
	}

	slog.Info("fraud patterns reloaded from database", "count", h.patterns.PatternsCount())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "fraud patterns reloaded successfully",
		"count":   h.patterns.PatternsCount(),
	})
}
