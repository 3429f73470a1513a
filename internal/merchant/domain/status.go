package domain

import (
	"fmt"
	"sort"
	"strings"
)

// StatusTable maps one platform's status vocabulary onto PurchaseStatus.
// Sources missing from the table map to pending.
type StatusTable struct {
	platform Platform
	entries  map[string]PurchaseStatus
}

// MustStatusTable builds a table and panics when an entry targets a status
// outside the canonical vocabulary. Tables are package-level values, so a bad
// entry fails at init.
func MustStatusTable(platform Platform, entries map[string]PurchaseStatus) StatusTable {
	table := StatusTable{platform: platform, entries: make(map[string]PurchaseStatus, len(entries))}
	for source, target := range entries {
		key := normalizeStatus(source)
		if key == "" {
			panic(fmt.Sprintf("%s status table: empty source status", platform))
		}
		if !target.Valid() {
			panic(fmt.Sprintf("%s status table: %q maps to unknown status %q", platform, source, target))
		}
		if _, dup := table.entries[key]; dup {
			panic(fmt.Sprintf("%s status table: duplicate source status %q", platform, key))
		}
		table.entries[key] = target
	}
	return table
}

func (t StatusTable) Platform() Platform { return t.platform }

// Map returns the canonical status for source.
func (t StatusTable) Map(source string) PurchaseStatus {
	if status, ok := t.entries[normalizeStatus(source)]; ok {
		return status
	}
	return PurchaseStatusPending
}

// Sources lists the documented source statuses in sorted order.
func (t StatusTable) Sources() []string {
	out := make([]string, 0, len(t.entries))
	for source := range t.entries {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

func normalizeStatus(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
