package sqldb

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "test.db")}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()

	applied, err := Migrate(ctx, db)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if len(applied) != 2 || applied[0] != "0001" || applied[1] != "0002" {
		t.Fatalf("unexpected versions: %v", applied)
	}

	again, err := Migrate(ctx, db)
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no pending migrations, got %v", again)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations`).Scan(&count); err != nil {
		t.Fatalf("generations table missing: %v", err)
	}
}

func TestMigrateFSRollsBackFailedFile(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()

	files := fstest.MapFS{
		"0001_ok.sql":     {Data: []byte("CREATE TABLE a (id INT);")},
		"0002_broken.sql": {Data: []byte("CREATE TABLE b (id INT); NOT SQL;")},
		"README.md":       {Data: []byte("ignored")},
	}
	applied, err := MigrateFS(ctx, db, files)
	if err == nil {
		t.Fatalf("expected broken migration to fail")
	}
	if len(applied) != 1 || applied[0] != "0001" {
		t.Fatalf("unexpected applied versions: %v", applied)
	}
}

func TestOpenValidatesConfig(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: DriverSQLite}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := Open(context.Background(), Config{Driver: "postgres", DSN: "x"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestSplitSQLStatements(t *testing.T) {
	got := splitSQLStatements("CREATE TABLE a (id INT);\n\n;CREATE INDEX i ON a (id);")
	if len(got) != 2 {
		t.Fatalf("unexpected statements: %v", got)
	}
	if parseMigrationVersion("0003_jobs.sql") != "0003" {
		t.Fatalf("unexpected version parse")
	}
}
