package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (standalone) + Redis (cluster).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetApplicantRef retrieves a cached EIN-index entry.
	GetApplicantRef(ctx context.Context, ein string) (*ApplicantRef, error)

	// SetApplicantRef caches an EIN-index entry so duplicate-EIN lookups
	// avoid a database round trip.
	SetApplicantRef(ctx context.Context, ein string, ref *ApplicantRef, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for submission-velocity checks.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ApplicantRef is the cached EIN-index entry for duplicate-EIN lookups.
type ApplicantRef struct {
	ApplicantID string `json:"applicantId"`
	LegalName   string `json:"legalName"`
	EIN         string `json:"ein"`
	State       string `json:"state,omitempty"`
	SeenAt      string `json:"seenAt"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type"`

	// Local LRU cache settings (standalone mode)
	LocalMaxSize int           `json:"localMaxSize" yaml:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTtl" yaml:"localTtl"`

	// Redis settings (cluster mode)
	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"redisPassword" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDb" yaml:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enableTwoPhase"` // If true, check local first, then Redis
}
