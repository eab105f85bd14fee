// Package rules implements the versioned program-rule catalog, criterion
// evaluation, and eligibility scoring.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrNoActiveRule means no rule version covers the requested program
	// and instant. Callers must block submission or escalate, never default
	// to "no rules".
	ErrNoActiveRule = errors.New("no active rule")

	// ErrAmbiguousRule means two rules with the same version are active at
	// the same instant, a catalog integrity violation that is surfaced
	// rather than auto-resolved.
	ErrAmbiguousRule = errors.New("ambiguous rule catalog")
)

// Catalog holds validated program-rule versions and answers active-rule
// resolution. Loads replace the whole catalog in one swap under the write
// lock and loaded slices are never mutated afterwards, so a concurrent
// resolve always observes a consistent snapshot.
type Catalog struct {
	mu sync.RWMutex

	// programType -> versions sorted by version descending
	rules map[string][]*domain.ProgramRule
}

// NewCatalog creates an empty rule catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		rules: make(map[string][]*domain.ProgramRule),
	}
}

// Load validates and installs rule versions, replacing the current catalog.
// A single invalid rule rejects the whole load, leaving the previous
// catalog in place.
func (c *Catalog) Load(rules []*domain.ProgramRule) error {
	byProgram := make(map[string][]*domain.ProgramRule, len(rules))
	for _, r := range rules {
		if err := ValidateRule(r); err != nil {
			if r == nil {
				return err
			}
			return fmt.Errorf("rule %s: %w", r.Key(), err)
		}
		byProgram[r.ProgramType] = append(byProgram[r.ProgramType], r)
	}

	for _, versions := range byProgram {
		sort.Slice(versions, func(i, j int) bool {
			return versions[i].Version > versions[j].Version
		})
	}

	c.mu.Lock()
	c.rules = byProgram
	c.mu.Unlock()

	return nil
}

// Reload is Load under its hot-reload name, for symmetry with the API.
func (c *Catalog) Reload(rules []*domain.ProgramRule) error {
	return c.Load(rules)
}

// Add validates and installs one new rule version without disturbing the
// rest of the catalog. The program's version slice is copied, never
// mutated in place.
func (c *Catalog) Add(rule *domain.ProgramRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.rules[rule.ProgramType]
	versions := make([]*domain.ProgramRule, 0, len(existing)+1)
	versions = append(versions, existing...)
	versions = append(versions, rule)
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version > versions[j].Version
	})
	c.rules[rule.ProgramType] = versions

	return nil
}

// ResolveActiveRule returns the rule version governing programType at asOf.
// A zero asOf means now.
//
// Selection: among versions whose half-open window [activeFrom, activeTo)
// contains asOf, pick the highest version. Two active rules sharing that
// version is ErrAmbiguousRule; an empty match set is ErrNoActiveRule.
func (c *Catalog) ResolveActiveRule(programType string, asOf time.Time) (*domain.ProgramRule, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	c.mu.RLock()
	versions := c.rules[programType]
	c.mu.RUnlock()

	for i, r := range versions {
		if !r.ActiveAt(asOf) {
			continue
		}
		// Highest active version found. Same-version entries are adjacent
		// in the descending sort; a second active one is an integrity
		// violation we must not guess our way around.
		for _, other := range versions[i+1:] {
			if other.Version != r.Version {
				break
			}
			if other.ActiveAt(asOf) {
				return nil, fmt.Errorf("%w: program %s version %d has overlapping windows at %s",
					ErrAmbiguousRule, programType, r.Version, asOf.Format(time.RFC3339))
			}
		}
		return r, nil
	}

	return nil, fmt.Errorf("%w: program %s at %s",
		ErrNoActiveRule, programType, asOf.Format(time.RFC3339))
}

// Versions returns the loaded versions for a program, highest first.
func (c *Catalog) Versions(programType string) []*domain.ProgramRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	versions := c.rules[programType]
	out := make([]*domain.ProgramRule, len(versions))
	copy(out, versions)
	return out
}

// Programs returns the program types with at least one loaded version,
// sorted for stable output.
func (c *Catalog) Programs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	programs := make([]string, 0, len(c.rules))
	for programType := range c.rules {
		programs = append(programs, programType)
	}
	sort.Strings(programs)
	return programs
}

// RuleCount returns the total number of loaded rule versions.
func (c *Catalog) RuleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, versions := range c.rules {
		count += len(versions)
	}
	return count
}

// Close clears the catalog.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = make(map[string][]*domain.ProgramRule)
	return nil
}
