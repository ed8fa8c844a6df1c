package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/netrunner/regfeed/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	e := ir.Entry{Name: "svc/api", Value: ir.IRObject{"port": ir.IRInt(443)}, Seq: 1, Author: "a"}
	if err := s1.Put(ctx, e.Name, e); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.Get(ctx, "svc/api")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !ok {
		t.Fatal("entry did not survive reopen")
	}
	if got.Value["port"] != ir.IRInt(443) {
		t.Errorf("port = %v, want 443", got.Value["port"])
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
		"registry",
	).Scan(&name)
	if err != nil {
		t.Errorf("table registry not found after idempotent opens: %v", err)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
	}
	for _, tt := range tests {
		var value string
		if err := s.db.QueryRow("PRAGMA " + tt.name).Scan(&value); err != nil {
			t.Fatalf("query %s: %v", tt.name, err)
		}
		if value != tt.expected {
			t.Errorf("%s = %q, expected %q", tt.name, value, tt.expected)
		}
	}
}

func TestSchema_RegistryTable(t *testing.T) {
	s := openTestStore(t)

	columns := getTableColumns(t, s.db, "registry")
	for _, col := range []string{"name", "seq", "author", "tombstone", "value", "hash"} {
		if !contains(columns, col) {
			t.Errorf("registry table missing column %q", col)
		}
	}
}

func TestConstraint_SeqPositive(t *testing.T) {
	s := openTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO registry (name, seq, author, tombstone, value, hash)
		VALUES ('x', 0, 'a', 0, '{}', 'h')
	`)
	if err == nil {
		t.Error("expected CHECK constraint to reject seq = 0")
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := openTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_V1LiveIndexExists(t *testing.T) {
	s := openTestStore(t)

	if !contains(getTableIndexes(t, s.db, "registry"), "idx_registry_live") {
		t.Error("registry table missing index idx_registry_live")
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Simulate a database created before the live index existed.
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	if _, err := raw.Exec(schemaSQL); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("reset user_version: %v", err)
	}
	raw.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if !contains(getTableIndexes(t, s.db, "registry"), "idx_registry_live") {
		t.Error("upgrade did not create idx_registry_live")
	}
}

func TestStore_ValueRoundTripLargeInts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := ir.Entry{
		Name:   "big",
		Value:  ir.IRObject{"n": ir.IRInt(9007199254740993), "tags": ir.IRArray{ir.IRString("a")}},
		Seq:    1,
		Author: "a",
	}
	if err := s.Put(ctx, e.Name, e); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, _, err := s.Get(ctx, "big")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Value["n"] != ir.IRInt(9007199254740993) {
		t.Errorf("n = %v, precision lost", got.Value["n"])
	}
}

func TestStore_StoresEntryHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := ir.Entry{Name: "x", Value: ir.IRObject{"v": ir.IRBool(true)}, Seq: 2, Author: "a"}
	if err := s.Put(ctx, e.Name, e); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	var hash string
	if err := s.db.QueryRow("SELECT hash FROM registry WHERE name = 'x'").Scan(&hash); err != nil {
		t.Fatalf("query hash: %v", err)
	}
	if want := ir.MustEntryHash(e); hash != want {
		t.Errorf("hash = %s, want %s", hash, want)
	}
}

func TestStore_Count(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"a", "b"} {
		e := ir.Entry{Name: name, Seq: int64(i + 1), Author: "a"}
		if err := s.Put(ctx, name, e); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
