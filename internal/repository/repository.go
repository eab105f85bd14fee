// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveProgramRule inserts a new rule version. Versions are append-only:
// saving an existing (programType, version) pair fails instead of updating,
// so decisions made under a version stay reproducible.
func (r *SQLRepository) SaveProgramRule(ctx context.Context, rule *domain.ProgramRule) error {
	if rule == nil || rule.ProgramType == "" {
		return fmt.Errorf("%w: programType is required", ErrInvalidInput)
	}
	if rule.Version < 1 {
		return fmt.Errorf("%w: version must be positive", ErrInvalidInput)
	}

	var exists int
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(1) FROM program_rules WHERE program_type = ? AND version = ?`),
		rule.ProgramType, rule.Version,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: program rule %s already exists", ErrInvalidInput, rule.Key())
	}

	payload, err := json.Marshal(rule.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules payload: %w", err)
	}

	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO program_rules (
			program_type, version, active_from, active_to, rules, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ProgramType, rule.Version,
		rule.ActiveFrom, rule.ActiveTo,
		string(payload), createdAt,
	)
	return err
}

// GetProgramRule retrieves one rule version.
func (r *SQLRepository) GetProgramRule(ctx context.Context, programType string, version int) (*domain.ProgramRule, error) {
	query := `
		SELECT program_type, version, active_from, active_to, rules, created_at
		FROM program_rules
		WHERE program_type = ? AND version = ?
	`

	rule, err := scanProgramRule(r.db.QueryRowContext(ctx, r.rebind(query), programType, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListProgramRules retrieves all versions for a program, newest first.
func (r *SQLRepository) ListProgramRules(ctx context.Context, programType string) ([]*domain.ProgramRule, error) {
	query := `
		SELECT program_type, version, active_from, active_to, rules, created_at
		FROM program_rules
		WHERE program_type = ?
		ORDER BY version DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), programType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectProgramRules(rows)
}

// ListAllProgramRules retrieves every rule version for every program, used
// to seed the in-memory catalog at startup and on reload.
func (r *SQLRepository) ListAllProgramRules(ctx context.Context) ([]*domain.ProgramRule, error) {
	query := `
		SELECT program_type, version, active_from, active_to, rules, created_at
		FROM program_rules
		ORDER BY program_type, version DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectProgramRules(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProgramRule(row rowScanner) (*domain.ProgramRule, error) {
	var rule domain.ProgramRule
	var activeTo sql.NullTime
	var payload string

	if err := row.Scan(
		&rule.ProgramType, &rule.Version,
		&rule.ActiveFrom, &activeTo,
		&payload, &rule.CreatedAt,
	); err != nil {
		return nil, err
	}

	if activeTo.Valid {
		t := activeTo.Time
		rule.ActiveTo = &t
	}
	if err := json.Unmarshal([]byte(payload), &rule.Rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules payload for %s: %w", rule.Key(), err)
	}

	return &rule, nil
}

func collectProgramRules(rows *sql.Rows) ([]*domain.ProgramRule, error) {
	var rules []*domain.ProgramRule
	for rows.Next() {
		rule, err := scanProgramRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// SaveApplicant stores an applicant profile. Profiles are collected
// incrementally, so saving an existing ID updates it in place.
func (r *SQLRepository) SaveApplicant(ctx context.Context, applicant *domain.Applicant) error {
	if applicant == nil || applicant.ID == "" {
		return fmt.Errorf("%w: applicant ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO applicants (
			id, legal_name, ein, business_type, business_age, annual_revenue,
			credit_score, employee_count, state, years_at_address, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			legal_name = excluded.legal_name,
			ein = excluded.ein,
			business_type = excluded.business_type,
			business_age = excluded.business_age,
			annual_revenue = excluded.annual_revenue,
			credit_score = excluded.credit_score,
			employee_count = excluded.employee_count,
			state = excluded.state,
			years_at_address = excluded.years_at_address
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		applicant.ID, applicant.LegalName, applicant.EIN, applicant.BusinessType,
		applicant.BusinessAge, applicant.AnnualRevenue,
		applicant.CreditScore, applicant.EmployeeCount,
		applicant.State, applicant.YearsAtAddress,
		applicant.CreatedAt,
	)
	return err
}

// GetApplicant retrieves an applicant by ID.
func (r *SQLRepository) GetApplicant(ctx context.Context, applicantID string) (*domain.Applicant, error) {
	query := `
		SELECT id, legal_name, ein, business_type, business_age, annual_revenue,
			   credit_score, employee_count, state, years_at_address, created_at
		FROM applicants
		WHERE id = ?
	`

	applicant, err := scanApplicant(r.db.QueryRowContext(ctx, r.rebind(query), applicantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return applicant, err
}

// FindApplicantByEIN retrieves the earliest applicant registered under an
// EIN. The duplicate-EIN check wants the original registrant, not the most
// recent one.
func (r *SQLRepository) FindApplicantByEIN(ctx context.Context, ein string) (*domain.Applicant, error) {
	if ein == "" {
		return nil, fmt.Errorf("%w: ein is required", ErrInvalidInput)
	}

	query := `
		SELECT id, legal_name, ein, business_type, business_age, annual_revenue,
			   credit_score, employee_count, state, years_at_address, created_at
		FROM applicants
		WHERE ein = ?
		ORDER BY created_at ASC
		LIMIT 1
	`

	applicant, err := scanApplicant(r.db.QueryRowContext(ctx, r.rebind(query), ein))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return applicant, err
}

func scanApplicant(row rowScanner) (*domain.Applicant, error) {
	var a domain.Applicant
	var businessAge, annualRevenue, creditScore, employeeCount, yearsAtAddress sql.NullFloat64

	if err := row.Scan(
		&a.ID, &a.LegalName, &a.EIN, &a.BusinessType,
		&businessAge, &annualRevenue,
		&creditScore, &employeeCount,
		&a.State, &yearsAtAddress,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}

	a.BusinessAge = nullableFloat(businessAge)
	a.AnnualRevenue = nullableFloat(annualRevenue)
	a.CreditScore = nullableFloat(creditScore)
	a.EmployeeCount = nullableFloat(employeeCount)
	a.YearsAtAddress = nullableFloat(yearsAtAddress)

	return &a, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// SaveApplication stores a submitted application.
func (r *SQLRepository) SaveApplication(ctx context.Context, app *domain.Application) error {
	if app == nil || app.ID == "" {
		return fmt.Errorf("%w: application ID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(app.Metadata)

	query := `
		INSERT INTO applications (
			id, program_type, applicant_id, requested_amount, loan_purpose,
			status, submitted_at, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			metadata = excluded.metadata
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		app.ID, app.ProgramType, app.ApplicantID,
		app.RequestedAmount, app.LoanPurpose,
		app.Status, app.SubmittedAt, app.CreatedAt,
		string(metadata),
	)
	return err
}

// GetApplication retrieves an application by ID.
func (r *SQLRepository) GetApplication(ctx context.Context, appID string) (*domain.Application, error) {
	query := `
		SELECT id, program_type, applicant_id, requested_amount, loan_purpose,
			   status, submitted_at, created_at, metadata
		FROM applications
		WHERE id = ?
	`

	var app domain.Application
	var metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), appID).Scan(
		&app.ID, &app.ProgramType, &app.ApplicantID,
		&app.RequestedAmount, &app.LoanPurpose,
		&app.Status, &app.SubmittedAt, &app.CreatedAt,
		&metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata != "" && metadata != "null" {
		json.Unmarshal([]byte(metadata), &app.Metadata)
	}

	return &app, nil
}

// ListApplicationsByApplicant retrieves an applicant's applications
// submitted at or after since, newest first.
func (r *SQLRepository) ListApplicationsByApplicant(ctx context.Context, applicantID string, since time.Time) ([]*domain.Application, error) {
	query := `
		SELECT id, program_type, applicant_id, requested_amount, loan_purpose,
			   status, submitted_at, created_at, metadata
		FROM applications
		WHERE applicant_id = ?
		  AND submitted_at >= ?
		ORDER BY submitted_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), applicantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*domain.Application
	for rows.Next() {
		var app domain.Application
		var metadata string

		if err := rows.Scan(
			&app.ID, &app.ProgramType, &app.ApplicantID,
			&app.RequestedAmount, &app.LoanPurpose,
			&app.Status, &app.SubmittedAt, &app.CreatedAt,
			&metadata,
		); err != nil {
			return nil, err
		}

		if metadata != "" && metadata != "null" {
			json.Unmarshal([]byte(metadata), &app.Metadata)
		}

		apps = append(apps, &app)
	}

	return apps, rows.Err()
}

// SaveDocument stores uploaded document metadata.
func (r *SQLRepository) SaveDocument(ctx context.Context, doc *domain.DocumentMetadata) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("%w: document ID is required", ErrInvalidInput)
	}

	fields, _ := json.Marshal(doc.ExtractedFields)

	needsReview := 0
	if doc.NeedsManualReview {
		needsReview = 1
	}

	query := `
		INSERT INTO documents (
			id, application_id, doc_type, confidence, extracted_fields,
			needs_manual_review, uploaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		doc.ID, doc.ApplicationID, doc.DocType, doc.Confidence,
		string(fields), needsReview, doc.UploadedAt,
	)
	return err
}

// ListDocuments retrieves all documents attached to an application.
func (r *SQLRepository) ListDocuments(ctx context.Context, appID string) ([]*domain.DocumentMetadata, error) {
	query := `
		SELECT id, application_id, doc_type, confidence, extracted_fields,
			   needs_manual_review, uploaded_at
		FROM documents
		WHERE application_id = ?
		ORDER BY uploaded_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.DocumentMetadata
	for rows.Next() {
		var doc domain.DocumentMetadata
		var fields string
		var needsReview int

		if err := rows.Scan(
			&doc.ID, &doc.ApplicationID, &doc.DocType, &doc.Confidence,
			&fields, &needsReview, &doc.UploadedAt,
		); err != nil {
			return nil, err
		}

		doc.NeedsManualReview = needsReview == 1
		if fields != "" && fields != "null" {
			json.Unmarshal([]byte(fields), &doc.ExtractedFields)
		}

		docs = append(docs, &doc)
	}

	return docs, rows.Err()
}

// SaveDecision stores a decision audit record.
func (r *SQLRepository) SaveDecision(ctx context.Context, decision *domain.Decision) error {
	if decision == nil || decision.ID == "" {
		return fmt.Errorf("%w: decision ID is required", ErrInvalidInput)
	}

	reasoning, _ := json.Marshal(decision.Reasoning)
	eligibility, _ := json.Marshal(decision.Eligibility)
	fraud, _ := json.Marshal(decision.Fraud)
	metadata, _ := json.Marshal(decision.Metadata)

	query := `
		INSERT INTO decisions (
			id, application_id, program_type, action, reasoning, timestamp,
			eligibility, fraud, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		decision.ID, decision.ApplicationID, decision.ProgramType,
		decision.Action, string(reasoning), decision.Timestamp,
		string(eligibility), string(fraud), string(metadata),
	)
	return err
}

// GetDecision retrieves a decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, decisionID string) (*domain.Decision, error) {
	query := `
		SELECT id, application_id, program_type, action, reasoning, timestamp,
			   eligibility, fraud, metadata
		FROM decisions
		WHERE id = ?
	`

	decision, err := scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), decisionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return decision, err
}

// GetDecisionByApplication retrieves the most recent decision for an
// application.
func (r *SQLRepository) GetDecisionByApplication(ctx context.Context, appID string) (*domain.Decision, error) {
	query := `
		SELECT id, application_id, program_type, action, reasoning, timestamp,
			   eligibility, fraud, metadata
		FROM decisions
		WHERE application_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	decision, err := scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), appID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return decision, err
}

func scanDecision(row rowScanner) (*domain.Decision, error) {
	var d domain.Decision
	var reasoning, eligibility, fraud, metadata string

	if err := row.Scan(
		&d.ID, &d.ApplicationID, &d.ProgramType,
		&d.Action, &reasoning, &d.Timestamp,
		&eligibility, &fraud, &metadata,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(reasoning), &d.Reasoning); err != nil {
		return nil, fmt.Errorf("failed to parse decision reasoning: %w", err)
	}
	if err := json.Unmarshal([]byte(eligibility), &d.Eligibility); err != nil {
		return nil, fmt.Errorf("failed to parse eligibility result: %w", err)
	}
	if err := json.Unmarshal([]byte(fraud), &d.Fraud); err != nil {
		return nil, fmt.Errorf("failed to parse fraud analysis: %w", err)
	}
	json.Unmarshal([]byte(metadata), &d.Metadata)

	return &d, nil
}

// SaveFraudPattern stores a fraud pattern, updating it if the ID exists.
func (r *SQLRepository) SaveFraudPattern(ctx context.Context, pattern *domain.FraudPattern) error {
	if pattern == nil || pattern.ID == "" {
		return fmt.Errorf("%w: pattern ID is required", ErrInvalidInput)
	}

	enabled := 0
	if pattern.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO fraud_patterns (
			id, name, description, expression, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		pattern.ID, pattern.Name, pattern.Description,
		pattern.Expression, string(pattern.Severity), enabled,
		now, now,
	)
	return err
}

// GetFraudPattern retrieves a fraud pattern by ID, enabled or not.
func (r *SQLRepository) GetFraudPattern(ctx context.Context, patternID string) (*domain.FraudPattern, error) {
	query := `
		SELECT id, name, description, expression, severity, enabled, created_at, updated_at
		FROM fraud_patterns
		WHERE id = ?
	`

	pattern, err := scanFraudPattern(r.db.QueryRowContext(ctx, r.rebind(query), patternID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return pattern, err
}

// ListFraudPatterns retrieves every fraud pattern. Disabled patterns are
// included so admin screens can show them; the pattern engine skips them
// at load.
func (r *SQLRepository) ListFraudPatterns(ctx context.Context) ([]*domain.FraudPattern, error) {
	query := `
		SELECT id, name, description, expression, severity, enabled, created_at, updated_at
		FROM fraud_patterns
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*domain.FraudPattern
	for rows.Next() {
		pattern, err := scanFraudPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern)
	}

	return patterns, rows.Err()
}

func scanFraudPattern(row rowScanner) (*domain.FraudPattern, error) {
	var p domain.FraudPattern
	var severity string
	var enabled int

	if err := row.Scan(
		&p.ID, &p.Name, &p.Description,
		&p.Expression, &severity, &enabled,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.Severity = domain.Severity(severity)
	p.Enabled = enabled == 1

	return &p, nil
}

// DeleteFraudPattern soft-deletes a pattern by setting enabled = 0.
func (r *SQLRepository) DeleteFraudPattern(ctx context.Context, patternID string) error {
	query := `
		UPDATE fraud_patterns
		SET enabled = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), patternID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
