package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Value looks a column up ignoring case and underscores; operator
// supplied query templates are not consistent about identifier style,
// so "SourceAddress", "sourceaddress" and "source_address" all match.
func (r Row) Value(column string) (any, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	want := normalizeColumn(column)
	for k, v := range r {
		if normalizeColumn(k) == want {
			return v, true
		}
	}
	return nil, false
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// String returns the column rendered as a string, or "" when absent or NULL.
func (r Row) String(column string) string {
	v, ok := r.Value(column)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Gateway executes templated-but-parameterized commands against the
// configured relational store. One implementation is selected at
// construction time; callers never branch on the provider.
type Gateway interface {
	// Query runs a row-returning statement.
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)
	// Exec runs a statement and reports the number of affected rows.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	// ExecBatch runs the same statement once per argument set inside a
	// single round trip (or transaction) and reports total affected rows.
	ExecBatch(ctx context.Context, sql string, argSets [][]any) (int64, error)
	Close()
}

// New opens a gateway for the given provider. Supported providers:
// "pgx" (native jackc/pgx pool) and "sql" (database/sql via lib/pq).
func New(ctx context.Context, provider, dsn string, logger *slog.Logger) (Gateway, error) {
	switch strings.ToLower(provider) {
	case "pgx", "postgres", "":
		return newPgxGateway(ctx, dsn, logger)
	case "sql", "pq":
		return newSQLGateway(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unsupported database provider: %s", provider)
	}
}
