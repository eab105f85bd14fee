package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaProgramRules stores one row per rule version. Versions are
// append-only; there is no updated_at because rows are never mutated.
const schemaProgramRules = `
CREATE TABLE IF NOT EXISTS program_rules (
    program_type TEXT NOT NULL,
    version INTEGER NOT NULL,
    active_from TIMESTAMP NOT NULL,
    active_to TIMESTAMP,
    rules TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (program_type, version)
);

CREATE INDEX IF NOT EXISTS idx_program_rules_type ON program_rules(program_type);
`

const schemaApplicants = `
CREATE TABLE IF NOT EXISTS applicants (
    id TEXT PRIMARY KEY,
    legal_name TEXT NOT NULL,
    ein TEXT NOT NULL,
    business_type TEXT,
    business_age REAL,
    annual_revenue REAL,
    credit_score REAL,
    employee_count REAL,
    state TEXT,
    years_at_address REAL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applicants_ein ON applicants(ein);
`

const schemaApplications = `
CREATE TABLE IF NOT EXISTS applications (
    id TEXT PRIMARY KEY,
    program_type TEXT NOT NULL,
    applicant_id TEXT NOT NULL,
    requested_amount REAL NOT NULL,
    loan_purpose TEXT,
    status TEXT NOT NULL,
    submitted_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_applications_applicant ON applications(applicant_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_applications_program ON applications(program_type);
CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);
`

const schemaDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    application_id TEXT NOT NULL,
    doc_type TEXT NOT NULL,
    confidence REAL NOT NULL,
    extracted_fields TEXT,
    needs_manual_review INTEGER NOT NULL DEFAULT 0,
    uploaded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_application ON documents(application_id);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    application_id TEXT NOT NULL,
    program_type TEXT NOT NULL,
    action TEXT NOT NULL,
    reasoning TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    eligibility TEXT NOT NULL,
    fraud TEXT NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_application ON decisions(application_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_decisions_action ON decisions(action);
`

const schemaFraudPatterns = `
CREATE TABLE IF NOT EXISTS fraud_patterns (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_patterns_enabled ON fraud_patterns(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaProgramRules,
		schemaApplicants,
		schemaApplications,
		schemaDocuments,
		schemaDecisions,
		schemaFraudPatterns,
	}
}
