package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxGateway struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func newPgxGateway(ctx context.Context, dsn string, logger *slog.Logger) (*pgxGateway, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgxpool config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgxpool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &pgxGateway{pool: pool, logger: logger.With("db_provider", "pgx")}, nil
}

func (g *pgxGateway) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := g.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}

func (g *pgxGateway) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := g.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("exec failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (g *pgxGateway) ExecBatch(ctx context.Context, sql string, argSets [][]any) (int64, error) {
	if len(argSets) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, args := range argSets {
		batch.Queue(sql, args...)
	}

	results := g.pool.SendBatch(ctx, batch)
	defer results.Close()

	var affected int64
	for range argSets {
		tag, err := results.Exec()
		if err != nil {
			return affected, fmt.Errorf("batch exec failed: %w", err)
		}
		affected += tag.RowsAffected()
	}
	return affected, nil
}

func (g *pgxGateway) Close() {
	g.pool.Close()
}
