package migrate

import (
	"context"
	"testing"

	"procureiq/internal/db"
)

func TestMigrateReportsAppliedCount(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	all, err := loadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	first, err := Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	latest := all[len(all)-1].Version
	if first.From != 0 || first.To != latest || first.Applied != len(all) {
		t.Fatalf("unexpected first run %+v", first)
	}

	again, err := Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	if again.Applied != 0 || again.From != latest || again.To != latest {
		t.Fatalf("second run should apply nothing, got %+v", again)
	}
}
