package migration

import (
	"strings"
	"testing"
)

func TestUpStatementsOrderedAndSplit(t *testing.T) {
	statements, err := UpStatements()
	if err != nil {
		t.Fatalf("read statements: %v", err)
	}
	if len(statements) == 0 {
		t.Fatalf("expected statements")
	}
	if !strings.HasPrefix(statements[0], "CREATE TABLE IF NOT EXISTS purchases") {
		t.Fatalf("expected purchases first, got %q", statements[0])
	}

	tables := map[string]bool{}
	for _, stmt := range statements {
		if strings.HasSuffix(stmt, ";") {
			t.Fatalf("statement kept its terminator: %q", stmt)
		}
		if strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS ") {
			name := strings.Fields(strings.TrimPrefix(stmt, "CREATE TABLE IF NOT EXISTS "))[0]
			tables[name] = true
		}
	}
	for _, want := range []string{
		"purchases", "purchase_items", "merchant_webhooks", "interactions",
		"attribution_touchpoints", "pending_rewards", "wallet_pairings", "job_locks",
		"job_ticks",
	} {
		if !tables[want] {
			t.Fatalf("missing table %s", want)
		}
	}
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	if err := RunMigrations(nil); err == nil {
		t.Fatalf("expected error for nil handle")
	}
}
