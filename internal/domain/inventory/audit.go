package inventory

import (
	"context"
	"fmt"
	"strings"
)

// Audit returns the flattened dispense ledger across all stock items,
// newest first, narrowed by the filter.
func (s *Service) Audit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	return s.repo.ListAudit(ctx, f)
}

// FormatReport renders audit entries as a printable plain-text report, one
// line per dispense plus a per-item totals section.
func FormatReport(entries []*AuditEntry) string {
	var b strings.Builder
	b.WriteString("Dispense Report\n")
	b.WriteString("===============\n\n")

	if len(entries) == 0 {
		b.WriteString("No dispenses recorded.\n")
		return b.String()
	}

	totals := make(map[string]int)
	units := make(map[string]string)
	for _, e := range entries {
		actor := "system"
		if e.DispensedBy != nil && *e.DispensedBy != "" {
			actor = *e.DispensedBy
		}
		fmt.Fprintf(&b, "%s  %-30s %4d %-8s %-15s to %s (by %s)\n",
			e.DispensedAt.Format("2006-01-02 15:04"),
			e.ItemName, e.Quantity, e.Unit, e.SourceLabel, e.RecipientName, actor)
		totals[e.ItemName] += e.Quantity
		units[e.ItemName] = e.Unit
	}

	b.WriteString("\nTotals\n------\n")
	for _, e := range entries {
		if qty, ok := totals[e.ItemName]; ok {
			fmt.Fprintf(&b, "%-30s %4d %s\n", e.ItemName, qty, units[e.ItemName])
			delete(totals, e.ItemName)
		}
	}
	return b.String()
}
