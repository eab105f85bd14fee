package decision

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// NeedsReview returns true if the decision should land in a staff queue
// rather than being auto-closed.
func NeedsReview(d *domain.Decision) bool {
	return d.Action == domain.ActionRequestInfo || d.Fraud.RequiresInvestigation
}

// Summary renders a decision as plain text for staff review queues and
// notification bodies.
func Summary(d *domain.Decision) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Decision %s for application %s (%s): %s\n",
		d.ID, d.ApplicationID, d.ProgramType, d.Action)
	fmt.Fprintf(&b, "Eligibility score %.2f (passing: %v, confidence %.0f%%), fraud risk %d\n",
		d.Eligibility.Score, d.Eligibility.Passed, d.Eligibility.ConfidenceScore, d.Fraud.RiskScore)

	b.WriteString("Reasoning:\n")
	for _, r := range d.Reasoning {
		fmt.Fprintf(&b, "  - %s\n", r)
	}

	if len(d.Fraud.Flags) > 0 {
		b.WriteString("Fraud flags:\n")
		for _, f := range d.Fraud.Flags {
			fmt.Fprintf(&b, "  - [%s] %s: %s\n", f.Severity, f.Type, f.Description)
		}
	}

	fmt.Fprintf(&b, "Rules applied: %s\n", strings.Join(d.Eligibility.ProgramRulesApplied, ", "))
	return b.String()
}
