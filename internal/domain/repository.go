// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Program rule operations. Rule versions are append-only: SaveProgramRule
	// inserts a new version and fails if (programType, version) already exists.
	SaveProgramRule(ctx context.Context, rule *ProgramRule) error
	GetProgramRule(ctx context.Context, programType string, version int) (*ProgramRule, error)
	ListProgramRules(ctx context.Context, programType string) ([]*ProgramRule, error)
	ListAllProgramRules(ctx context.Context) ([]*ProgramRule, error)

	// Applicant operations
	SaveApplicant(ctx context.Context, applicant *Applicant) error
	GetApplicant(ctx context.Context, applicantID string) (*Applicant, error)
	FindApplicantByEIN(ctx context.Context, ein string) (*Applicant, error)

	// Application operations
	SaveApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, appID string) (*Application, error)
	ListApplicationsByApplicant(ctx context.Context, applicantID string, since time.Time) ([]*Application, error)

	// Document operations
	SaveDocument(ctx context.Context, doc *DocumentMetadata) error
	ListDocuments(ctx context.Context, appID string) ([]*DocumentMetadata, error)

	// Decision audit records
	SaveDecision(ctx context.Context, decision *Decision) error
	GetDecision(ctx context.Context, decisionID string) (*Decision, error)
	GetDecisionByApplication(ctx context.Context, appID string) (*Decision, error)

	// Fraud pattern operations
	SaveFraudPattern(ctx context.Context, pattern *FraudPattern) error
	GetFraudPattern(ctx context.Context, patternID string) (*FraudPattern, error)
	ListFraudPatterns(ctx context.Context) ([]*FraudPattern, error)
	DeleteFraudPattern(ctx context.Context, patternID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
