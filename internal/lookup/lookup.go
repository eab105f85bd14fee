// Package lookup provides applicant cross-reference lookups for fraud screening.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Service resolves EIN registrations and submission counts for the fraud
// analyzer. Lookups are cache-first; the repository is authoritative.
type Service struct {
	repo  domain.Repository
	cache domain.Cache

	// EINCacheTTL bounds how long an EIN-index entry is served from cache.
	EINCacheTTL time.Duration
}

// NewService creates a new lookup service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:        repo,
		cache:       cache,
		EINCacheTTL: time.Hour,
	}
}

// NormalizeEIN reduces an EIN to its digits so formatting differences
// ("12-3456789" vs "123456789") cannot hide a duplicate registration.
func NormalizeEIN(ein string) string {
	var b strings.Builder
	for _, r := range ein {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FindApplicantByEIN returns the earliest applicant registered under the EIN,
// or nil when the EIN has not been seen before. The caller decides whether a
// hit counts as a duplicate.
func (s *Service) FindApplicantByEIN(ctx context.Context, ein string) (*domain.ApplicantRef, error) {
	norm := NormalizeEIN(ein)
	if norm == "" {
		return nil, nil
	}

	if s.cache != nil {
		ref, err := s.cache.GetApplicantRef(ctx, norm)
		if err == nil && ref != nil {
			return ref, nil
		}
		// Cache misses and cache errors both fall through to the repository.
	}

	if s.repo == nil {
		return nil, fmt.Errorf("no data source available")
	}

	applicant, err := s.repo.FindApplicantByEIN(ctx, norm)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up EIN: %w", err)
	}

	ref := &domain.ApplicantRef{
		ApplicantID: applicant.ID,
		LegalName:   applicant.LegalName,
		EIN:         norm,
		State:       applicant.State,
		SeenAt:      applicant.CreatedAt.UTC().Format(time.RFC3339),
	}

	if s.cache != nil {
		// The earliest registrant never changes, so a long TTL is safe.
		_ = s.cache.SetApplicantRef(ctx, norm, ref, s.EINCacheTTL)
	}

	return ref, nil
}

// CountRecentSubmissions returns how many applications the applicant filed
// within the window, including any already-persisted current submission.
func (s *Service) CountRecentSubmissions(ctx context.Context, applicantID string, window time.Duration) (int64, error) {
	if applicantID == "" {
		return 0, fmt.Errorf("applicantID is required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	// Count from the database rather than the cache counter; a cached count
	// would need careful TTL management to stay honest across restarts.
	since := time.Now().Add(-window)
	apps, err := s.repo.ListApplicationsByApplicant(ctx, applicantID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list applications: %w", err)
	}
	return int64(len(apps)), nil
}

// EINLookup returns the lookup function consumed by the fraud analyzer.
func (s *Service) EINLookup() func(ctx context.Context, ein string) (*domain.ApplicantRef, error) {
	return s.FindApplicantByEIN
}

// SubmissionCounter returns the counter function consumed by the fraud analyzer.
func (s *Service) SubmissionCounter() func(ctx context.Context, applicantID string, window time.Duration) (int64, error) {
	return s.CountRecentSubmissions
}
