package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// sqlGateway drives the same contract through database/sql with the lib/pq
// driver. Slice arguments are wrapped with pq.Array because database/sql
// has no native array binding.
type sqlGateway struct {
	db     *sql.DB
	logger *slog.Logger
}

func newSQLGateway(ctx context.Context, dsn string, logger *slog.Logger) (*sqlGateway, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &sqlGateway{db: db, logger: logger.With("db_provider", "sql")}, nil
}

func wrapArrayArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch a.(type) {
		case []string, []int, []int32, []int64, []float64:
			out[i] = pq.Array(a)
		default:
			out[i] = a
		}
	}
	return out
}

func (g *sqlGateway) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := g.db.QueryContext(ctx, query, wrapArrayArgs(args)...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}

func (g *sqlGateway) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := g.db.ExecContext(ctx, query, wrapArrayArgs(args)...)
	if err != nil {
		return 0, fmt.Errorf("exec failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}

func (g *sqlGateway) ExecBatch(ctx context.Context, query string, argSets [][]any) (int64, error) {
	if len(argSets) == 0 {
		return 0, nil
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch statement: %w", err)
	}
	defer stmt.Close()

	var affected int64
	for _, args := range argSets {
		res, err := stmt.ExecContext(ctx, wrapArrayArgs(args)...)
		if err != nil {
			return affected, fmt.Errorf("batch exec failed: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}

	if err := tx.Commit(); err != nil {
		return affected, fmt.Errorf("failed to commit batch: %w", err)
	}
	return affected, nil
}

func (g *sqlGateway) Close() {
	g.db.Close()
}
