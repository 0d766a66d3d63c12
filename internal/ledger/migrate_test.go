package ledger

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateSQLiteIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate second: %v", err)
	}

	// Ensure the request table exists.
	var name string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='requests'`).Scan(&name); err != nil {
		t.Fatalf("expected requests table: %v", err)
	}
	if name != "requests" {
		t.Fatalf("unexpected table name: %s", name)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count < 2 {
		t.Fatalf("expected at least 2 migrations applied, got %d", count)
	}
}

func TestMigrateSQLiteSchema(t *testing.T) {
	db, err := sql.Open("sqlite", "file:migrate_schema?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, table := range []string{"sessions", "requests", "work_items", "decision_notices"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table: %v", table, err)
		}
	}

	insert := `INSERT INTO requests (request_id, work_item_id, status, requested_quantity, requested_by, requested_by_name, subject, subject_label, created_at, updated_at)
		VALUES (?, 'w1', ?, 5, 'u1', 'Noa', 's', 'l', 't', 't')`
	if _, err := db.Exec(insert, "r-ok", RequestPending); err != nil {
		t.Fatalf("insert pending request: %v", err)
	}
	if _, err := db.Exec(insert, "r-bad", "bogus"); err == nil {
		t.Fatalf("expected status check to reject unknown status")
	}

	if _, err := db.Exec(`INSERT INTO decision_notices (notice_id, recipient, message, request_id, work_item_id, status, next_attempt_at, created_at, updated_at)
		VALUES ('n1', 'u1', 'm', 'r-ok', 'w1', 'failed', 't', 't', 't')`); err == nil {
		t.Fatalf("expected status check to reject unknown notice status")
	}
}

func TestMigrationHelpers(t *testing.T) {
	if _, _, err := migrationConfig(DBPostgres); err != nil {
		t.Fatalf("expected postgres config, got %v", err)
	}
	if _, _, err := migrationConfig(DBDriver("nope")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}

	if err := ensureMigrationsTable(&sql.DB{}, DBDriver("nope"), "t"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}

	if _, err := listMigrationFiles("migrations/sqlite"); err != nil {
		t.Fatalf("list migrations: %v", err)
	}
}
