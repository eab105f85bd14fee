package lookup

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func TestNormalizeEIN(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"12-3456789", "123456789"},
		{"123456789", "123456789"},
		{" 12 345 6789 ", "123456789"},
		{"EIN 12-3456789", "123456789"},
		{"no digits", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeEIN(tt.input); got != tt.expected {
			t.Errorf("NormalizeEIN(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLookupService(t *testing.T) {
	// Create temp database
	tmpFile, err := os.CreateTemp("", "lookup-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	// Create repository
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	// Create cache
	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(repo, lruCache)

	ctx := context.Background()

	t.Run("UnseenEIN", func(t *testing.T) {
		ref, err := svc.FindApplicantByEIN(ctx, "99-9999999")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ref != nil {
			t.Errorf("expected nil for unseen EIN, got %+v", ref)
		}
	})

	t.Run("EarliestRegistrantWins", func(t *testing.T) {
		first := &domain.Applicant{
			ID:        "apl-001",
			LegalName: "Riverside Bakery Inc",
			EIN:       "123456789",
			State:     "CA",
			CreatedAt: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		}
		second := &domain.Applicant{
			ID:        "apl-002",
			LegalName: "Shadow Holdings LLC",
			EIN:       "123456789",
			CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := repo.SaveApplicant(ctx, first); err != nil {
			t.Fatalf("failed to save applicant: %v", err)
		}
		if err := repo.SaveApplicant(ctx, second); err != nil {
			t.Fatalf("failed to save applicant: %v", err)
		}

		ref, err := svc.FindApplicantByEIN(ctx, "123456789")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ref == nil {
			t.Fatal("expected a hit for a registered EIN")
		}
		if ref.ApplicantID != "apl-001" {
			t.Errorf("expected the earliest registrant apl-001, got %s", ref.ApplicantID)
		}
		if ref.LegalName != "Riverside Bakery Inc" {
			t.Errorf("unexpected legal name %q", ref.LegalName)
		}
	})

	t.Run("NormalizesBeforeLookup", func(t *testing.T) {
		ref, err := svc.FindApplicantByEIN(ctx, "12-3456789")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ref == nil || ref.ApplicantID != "apl-001" {
			t.Errorf("formatted EIN should resolve to the same registrant, got %+v", ref)
		}
	})

	t.Run("PopulatesCache", func(t *testing.T) {
		cached, err := lruCache.GetApplicantRef(ctx, "123456789")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cached == nil || cached.ApplicantID != "apl-001" {
			t.Errorf("expected EIN-index entry in cache after lookup, got %+v", cached)
		}
	})

	t.Run("EmptyEIN", func(t *testing.T) {
		ref, err := svc.FindApplicantByEIN(ctx, "--")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ref != nil {
			t.Errorf("expected nil for digitless EIN, got %+v", ref)
		}
	})

	t.Run("CountRecentSubmissions", func(t *testing.T) {
		now := time.Now().UTC()
		for i := 0; i < 3; i++ {
			app := &domain.Application{
				ID:              fmt.Sprintf("app-%03d", i),
				ProgramType:     "microloan",
				ApplicantID:     "apl-001",
				RequestedAmount: 10000,
				Status:          domain.StatusSubmitted,
				SubmittedAt:     now.Add(-time.Duration(i) * time.Hour),
				CreatedAt:       now,
			}
			if err := repo.SaveApplication(ctx, app); err != nil {
				t.Fatalf("failed to save application: %v", err)
			}
		}
		// One old submission outside any reasonable window.
		stale := &domain.Application{
			ID:              "app-old",
			ProgramType:     "microloan",
			ApplicantID:     "apl-001",
			RequestedAmount: 5000,
			Status:          domain.StatusSubmitted,
			SubmittedAt:     now.Add(-30 * 24 * time.Hour),
			CreatedAt:       now,
		}
		if err := repo.SaveApplication(ctx, stale); err != nil {
			t.Fatalf("failed to save application: %v", err)
		}

		count, err := svc.CountRecentSubmissions(ctx, "apl-001", 24*time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 submissions in window, got %d", count)
		}

		count, err = svc.CountRecentSubmissions(ctx, "apl-001", 90*24*time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 4 {
			t.Errorf("expected 4 submissions in wide window, got %d", count)
		}
	})

	t.Run("CountUnknownApplicant", func(t *testing.T) {
		count, err := svc.CountRecentSubmissions(ctx, "apl-unknown", 24*time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0, got %d", count)
		}
	})

	t.Run("RequiresApplicantID", func(t *testing.T) {
		_, err := svc.CountRecentSubmissions(ctx, "", 24*time.Hour)
		if err == nil {
			t.Error("expected error for empty applicantID")
		}
	})

	t.Run("AnalyzerAdapters", func(t *testing.T) {
		einLookup := svc.EINLookup()
		if einLookup == nil {
			t.Fatal("EINLookup returned nil")
		}
		ref, err := einLookup(ctx, "123456789")
		if err != nil {
			t.Fatalf("einLookup failed: %v", err)
		}
		if ref == nil || ref.ApplicantID != "apl-001" {
			t.Errorf("unexpected ref %+v", ref)
		}

		counter := svc.SubmissionCounter()
		if counter == nil {
			t.Fatal("SubmissionCounter returned nil")
		}
		count, err := counter(ctx, "apl-001", 24*time.Hour)
		if err != nil {
			t.Fatalf("counter failed: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3, got %d", count)
		}
	})
}

func TestNoDataSource(t *testing.T) {
	svc := &Service{} // No repo or cache

	ctx := context.Background()
	if _, err := svc.FindApplicantByEIN(ctx, "123456789"); err == nil {
		t.Error("expected error with no data source")
	}
	if _, err := svc.CountRecentSubmissions(ctx, "apl-001", time.Hour); err == nil {
		t.Error("expected error with no data source")
	}
}
