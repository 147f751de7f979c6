package storage

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{
		"postgres":   Postgres,
		"PostgreSQL": Postgres,
		" sqlite ":   SQLite,
		"sqlite3":    SQLite,
	}
	for in, want := range cases {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y IN (?, ?)`
	pg := New(nil, Postgres)
	if got, want := pg.rebind(q), `SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)`; got != want {
		t.Fatalf("postgres rebind = %q, want %q", got, want)
	}
	lite := New(nil, SQLite)
	if got := lite.rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
}

func stubOpen(t *testing.T, db *sql.DB) *[]string {
	t.Helper()
	var calls []string
	oldOpen := sqlOpen
	sqlOpen = func(driverName, dataSourceName string) (*sql.DB, error) {
		calls = append(calls, driverName)
		return db, nil
	}
	t.Cleanup(func() { sqlOpen = oldOpen })
	return &calls
}

func TestOpen(t *testing.T) {
	t.Run("pings and keeps the dialect", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock new: %v", err)
		}
		defer db.Close()
		calls := stubOpen(t, db)

		mock.ExpectPing()
		got, err := Open(context.Background(), "postgres", "postgres://x")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got.Dialect() != Postgres {
			t.Fatalf("dialect = %q", got.Dialect())
		}
		if len(*calls) != 1 || (*calls)[0] != "postgres" {
			t.Fatalf("driver calls = %v", *calls)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expectations: %v", err)
		}
	})

	t.Run("fails when ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock new: %v", err)
		}
		stubOpen(t, db)

		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
		mock.ExpectClose()
		if _, err := Open(context.Background(), "sqlite", "file::memory:"); err == nil {
			t.Fatal("expected ping error")
		}
	})

	t.Run("rejects unknown driver before opening", func(t *testing.T) {
		calls := stubOpen(t, nil)
		if _, err := Open(context.Background(), "oracle", "x"); err == nil {
			t.Fatal("expected driver error")
		}
		if len(*calls) != 0 {
			t.Fatalf("sqlOpen should not be called, got %v", *calls)
		}
	})
}

func TestEnsureSchema(t *testing.T) {
	t.Run("creates every table with postgres types", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock new: %v", err)
		}
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS accounts (\n  id BIGSERIAL PRIMARY KEY")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS boards (")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS board_participants (")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS goal_categories (")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("due_date TIMESTAMPTZ NOT NULL")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS tg_users (")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS tg_users_verification_code_idx")).WillReturnResult(sqlmock.NewResult(0, 0))

		if err := New(db, Postgres).EnsureSchema(context.Background()); err != nil {
			t.Fatalf("EnsureSchema: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expectations: %v", err)
		}
	})

	t.Run("stops at the first failing statement", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock new: %v", err)
		}
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS accounts (")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS boards (")).WillReturnError(sql.ErrConnDone)

		if err := New(db, Postgres).EnsureSchema(context.Background()); err == nil {
			t.Fatal("expected schema error")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expectations: %v", err)
		}
	})
}
