package storage

import (
	"context"
	"fmt"
	"strings"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
  id {{id}},
  username TEXT NOT NULL UNIQUE,
  password TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS boards (
  id {{id}},
  title TEXT NOT NULL,
  is_deleted BOOLEAN NOT NULL DEFAULT {{false}},
  created {{ts}} NOT NULL DEFAULT {{now}}
)`,
	`CREATE TABLE IF NOT EXISTS board_participants (
  id {{id}},
  board_id BIGINT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
  account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
  role SMALLINT NOT NULL DEFAULT 3,
  UNIQUE (board_id, account_id)
)`,
	`CREATE TABLE IF NOT EXISTS goal_categories (
  id {{id}},
  board_id BIGINT NOT NULL REFERENCES boards(id),
  account_id BIGINT NOT NULL REFERENCES accounts(id),
  title TEXT NOT NULL,
  is_deleted BOOLEAN NOT NULL DEFAULT {{false}},
  created {{ts}} NOT NULL DEFAULT {{now}}
)`,
	`CREATE TABLE IF NOT EXISTS goals (
  id {{id}},
  account_id BIGINT NOT NULL REFERENCES accounts(id),
  category_id BIGINT NOT NULL REFERENCES goal_categories(id) ON DELETE CASCADE,
  title TEXT NOT NULL,
  description TEXT,
  status SMALLINT NOT NULL DEFAULT 1,
  priority SMALLINT NOT NULL DEFAULT 2,
  due_date {{ts}} NOT NULL,
  created {{ts}} NOT NULL DEFAULT {{now}},
  updated {{ts}} NOT NULL DEFAULT {{now}}
)`,
	`CREATE TABLE IF NOT EXISTS tg_users (
  id {{id}},
  chat_id BIGINT NOT NULL UNIQUE,
  username TEXT,
  verification_code TEXT,
  account_id BIGINT REFERENCES accounts(id)
)`,
	`CREATE INDEX IF NOT EXISTS tg_users_verification_code_idx ON tg_users (verification_code)`,
}

func (d *DB) schemaReplacer() *strings.Replacer {
	if d.dialect == Postgres {
		return strings.NewReplacer(
			"{{id}}", "BIGSERIAL PRIMARY KEY",
			"{{ts}}", "TIMESTAMPTZ",
			"{{now}}", "NOW()",
			"{{false}}", "FALSE",
		)
	}
	return strings.NewReplacer(
		"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "TIMESTAMP",
		"{{now}}", "CURRENT_TIMESTAMP",
		"{{false}}", "0",
	)
}

// EnsureSchema creates missing tables. It is safe to run on every start.
func (d *DB) EnsureSchema(ctx context.Context) error {
	r := d.schemaReplacer()
	for i, stmt := range schemaStatements {
		if _, err := d.db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("ensure schema: statement %d: %w", i+1, err)
		}
	}
	return nil
}
