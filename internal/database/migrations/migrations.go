// Package migrations creates the relational schema used by the Postgres drop
// store and settlement ledger.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql/*.sql
var files embed.FS

// Migration is one DDL statement.
type Migration struct {
	Name      string
	Statement string
}

// All returns the migrations in application order.
func All() ([]Migration, error) {
	names, err := fs.Glob(files, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Name: name, Statement: string(body)})
	}
	return out, nil
}

// Apply executes every migration in order inside one transaction, so a
// failure leaves the schema untouched. Statements are idempotent so Apply may
// run on every start.
func Apply(ctx context.Context, db *sql.DB) error {
	migrations, err := All()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migrations: %w", err)
	}
	for _, m := range migrations {
		if _, err := tx.ExecContext(ctx, m.Statement); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", m.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}
