package migrations_test

import (
	"strings"
	"testing"

	"github.com/sidra/sidra/internal/platform/db"
	"github.com/sidra/sidra/migrations"
)

func TestEmbeddedMigrations(t *testing.T) {
	migs, err := db.NewMigrator(nil, migrations.FS).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migs) == 0 {
		t.Fatal("no migrations embedded")
	}
	for i, m := range migs {
		if m.Version != i+1 {
			t.Errorf("migration %s has version %d, want %d", m.Name, m.Version, i+1)
		}
		if strings.TrimSpace(m.SQL) == "" {
			t.Errorf("migration %s is empty", m.Name)
		}
	}
}

func TestTablesCreated(t *testing.T) {
	migs, err := db.NewMigrator(nil, migrations.FS).LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	var all strings.Builder
	for _, m := range migs {
		all.WriteString(m.SQL)
	}
	for _, table := range []string{"form_record", "reference_item", "app_user", "otp_challenge", "supply_report"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("no migration creates %s", table)
		}
	}
}
