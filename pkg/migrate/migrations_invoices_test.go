package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInvoicesMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_invoices.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no invoices migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS invoices",
		"CHECK (amount_cents > 0)",
		"CHECK (paid_amount_cents >= 0)",
		"CHECK (paid_amount_cents <= amount_cents)",
		"DROP TABLE IF EXISTS invoices",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestReceiptsMigrationLinksInvoices(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_receipts.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no receipts migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS receipts",
		"CREATE TABLE IF NOT EXISTS receipt_lines",
		"FOREIGN KEY (receipt_id) REFERENCES receipts(id) ON DELETE CASCADE",
		"FOREIGN KEY (invoice_id) REFERENCES invoices(id) ON DELETE RESTRICT",
		"CHECK (applied_cents > 0)",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
