package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/uql/internal/relational"
	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/uql"
)

// Query runs a Rows statement and returns its records, decoded with m's
// field types. Column names are the stored (snake_case) names. When two
// columns share a name, as in the parent.*, child.* projection of an
// extended model, the later column wins.
func (d *DB) Query(ctx context.Context, m *schema.Model, stmt *relational.Statement) ([]uql.Record, error) {
	if stmt.Atomic {
		return nil, fmt.Errorf("query: atomic statements return no rows")
	}
	rows, err := d.db.QueryContext(ctx, stmt.Text)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query: columns: %w", err)
	}

	out := []uql.Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query: scan: %w", err)
		}
		rec := make(uql.Record, len(cols))
		for i, col := range cols {
			rec[col] = decode(m, col, vals[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return out, nil
}

// Scalar runs a Scalar statement and returns its count column.
func (d *DB) Scalar(ctx context.Context, stmt *relational.Statement) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, stmt.Text).Scan(&n); err != nil {
		return 0, fmt.Errorf("scalar: %w", err)
	}
	return n, nil
}

// Exec runs an Affected statement and returns the number of rows touched.
// Atomic statements run step by step in one transaction; the result is
// the last step's count.
func (d *DB) Exec(ctx context.Context, stmt *relational.Statement) (int64, error) {
	if stmt.Atomic {
		return d.execAtomic(ctx, stmt.Steps)
	}
	res, err := d.db.ExecContext(ctx, stmt.Text)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	return affected(res)
}

// execAtomic pins one connection for the whole transaction so BEGIN, the
// steps and COMMIT or ROLLBACK all reach the same session.
func (d *DB) execAtomic(ctx context.Context, steps []string) (n int64, err error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("exec: acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("exec: begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Error("rollback failed", "error", rbErr)
			}
		}
	}()

	for i, step := range steps {
		res, err := tx.ExecContext(ctx, step)
		if err != nil {
			return 0, fmt.Errorf("exec: step %d: %w", i+1, err)
		}
		if n, err = affected(res); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("exec: commit: %w", err)
	}
	return n, nil
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("exec: rows affected: %w", err)
	}
	return n, nil
}

// IsUniqueViolation reports whether err is a primary key or unique
// constraint failure from either driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
