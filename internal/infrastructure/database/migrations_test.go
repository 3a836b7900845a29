package database

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/gray-logic-lutron/migrations"
)

var testMigrations = fstest.MapFS{
	"20260101_000000_create_hubs.up.sql":   {Data: []byte("CREATE TABLE test_hubs (id TEXT PRIMARY KEY) STRICT;")},
	"20260101_000000_create_hubs.down.sql": {Data: []byte("DROP TABLE test_hubs;")},
	"20260102_000000_add_events.up.sql":    {Data: []byte("CREATE TABLE test_events (id INTEGER PRIMARY KEY, hub TEXT) STRICT;")},
	"README.md":                            {Data: []byte("not a migration")},
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("checking table %s: %v", name, err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_hubs") || !tableExists(t, db, "test_events") {
		t.Fatal("migrations did not create their tables")
	}

	applied, pending, err := db.MigrationStatus(ctx, testMigrations)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	// Running again should be idempotent.
	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateStopsAtFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	broken := fstest.MapFS{
		"20260101_000000_good.up.sql":  {Data: []byte("CREATE TABLE good (id INTEGER) STRICT;")},
		"20260102_000000_bad.up.sql":   {Data: []byte("CREATE TABLE oops (")},
		"20260103_000000_later.up.sql": {Data: []byte("CREATE TABLE later (id INTEGER) STRICT;")},
	}
	err := db.Migrate(ctx, broken)
	if err == nil || !strings.Contains(err.Error(), "20260102_000000") {
		t.Fatalf("Migrate() error = %v, want failure naming the bad migration", err)
	}
	if !tableExists(t, db, "good") || tableExists(t, db, "later") {
		t.Error("earlier migrations must stay applied and later ones must not run")
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	single := fstest.MapFS{
		"20260101_000000_create_hubs.up.sql":   testMigrations["20260101_000000_create_hubs.up.sql"],
		"20260101_000000_create_hubs.down.sql": testMigrations["20260101_000000_create_hubs.down.sql"],
	}
	if err := db.Migrate(ctx, single); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateDown(ctx, single); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_hubs") {
		t.Error("table test_hubs still exists after rollback")
	}
	applied, _, err := db.MigrationStatus(ctx, single)
	if err != nil || len(applied) != 0 {
		t.Errorf("applied = %v, %v; want none", applied, err)
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx, single); err != nil {
		t.Errorf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestMigrateDownWithoutDownSQL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateDown(ctx, testMigrations); err == nil {
		t.Error("MigrateDown() should fail for a migration with no down file")
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(context.Background(), fstest.MapFS{}); err != nil {
		t.Errorf("Migrate() with no migrations error = %v", err)
	}
	if err := db.Migrate(context.Background(), nil); err != nil {
		t.Errorf("Migrate(nil) error = %v", err)
	}
}

func TestLoadMigrationsOrphanDown(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{
		"20260101_000000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	})
	if err == nil {
		t.Error("LoadMigrations() should reject a down file without an up file")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, table := range []string{"lutron_integration_ids", "lutron_status_history"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	// Every shipped migration must be reversible.
	loaded, err := LoadMigrations(migrations.FS)
	if err != nil {
		t.Fatal(err)
	}
	for range loaded {
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
	}
	if tableExists(t, db, "lutron_integration_ids") {
		t.Error("rollback left lutron_integration_ids behind")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260301_120000_lutron_recorder.up.sql", "20260301_120000", "lutron_recorder", true, true},
		{"20260301_120000_lutron_recorder.down.sql", "20260301_120000", "lutron_recorder", false, true},
		{"20260301_120000.up.sql", "20260301_120000", "20260301_120000", true, true},
		{"20260301_120000_x.sql", "", "", false, false},
		{"20260301_120000_x.up.txt", "", "", false, false},
		{"initial.up.sql", "", "", false, false},
		{"2026_1200_short.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK || version != tt.wantVersion || up != tt.wantUp {
				t.Errorf("parseMigrationFilename() = %q, %q, %v, %v", version, name, up, ok)
			}
			if ok && tt.wantUp && name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
		})
	}
}
