package relaydb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ptime "github.com/yaa110/go-persian-calendar"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/platform/database"
)

type ArchiveRepository struct {
	db     database.Gateway
	store  *config.Store
	logger *slog.Logger
}

func NewArchiveRepository(db database.Gateway, store *config.Store, logger *slog.Logger) *ArchiveRepository {
	return &ArchiveRepository{db: db, store: store, logger: logger.With("repository", "archive")}
}

// FetchBatch runs SelectQueryForArchive with $1 = limit. Rows must expose
// ID and CREATIONDATE columns; the first row's creation date names the
// archive table.
func (r *ArchiveRepository) FetchBatch(ctx context.Context, limit int) ([]string, time.Time, error) {
	tpl := r.store.Current().DB.SelectQueryForArchive

	rows, err := r.db.Query(ctx, tpl, limit)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to fetch archive batch: %w", err)
	}
	if len(rows) == 0 {
		return nil, time.Time{}, nil
	}

	var creationDate time.Time
	if v, ok := rows[0].Value("CREATIONDATE"); ok {
		if t, ok := v.(time.Time); ok {
			creationDate = t
		}
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.String("ID"))
	}
	return ids, creationDate, nil
}

// ArchiveTableName derives the archive table for a creation date using the
// Persian calendar year+month suffix convention.
func ArchiveTableName(outboxTable string, creationDate time.Time) string {
	pt := ptime.New(creationDate)
	return fmt.Sprintf("%s_Archive_%d%02d", outboxTable, pt.Year(), int(pt.Month()))
}

// EnsureArchiveTable creates the archive table on first use by cloning the
// outbox table's full schema (columns, primary key, indexes).
func (r *ArchiveRepository) EnsureArchiveTable(ctx context.Context, creationDate time.Time) (string, error) {
	settings := r.store.Current()
	name := ArchiveTableName(settings.DB.OutboxTableName, creationDate)

	rows, err := r.db.Query(ctx, "SELECT COUNT(*) AS count FROM information_schema.tables WHERE table_name = $1", strings.ToLower(name))
	if err != nil {
		return "", fmt.Errorf("failed to check archive table existence: %w", err)
	}
	if len(rows) > 0 {
		if v, ok := rows[0].Value("count"); ok {
			if n, ok := v.(int64); ok && n > 0 {
				return name, nil
			}
		}
	}

	createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (LIKE %s INCLUDING ALL)", name, settings.DB.OutboxTableName)
	if _, err := r.db.Exec(ctx, createSQL); err != nil {
		return "", fmt.Errorf("failed to create archive table %s: %w", name, err)
	}
	r.logger.InfoContext(ctx, "Archive table created", "table", name)
	return name, nil
}

// Copy runs InsertQueryForArchive (%s = archive table) with $1 = ids.
func (r *ArchiveRepository) Copy(ctx context.Context, archiveTable string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tpl := fmt.Sprintf(r.store.Current().DB.InsertQueryForArchive, archiveTable)
	if _, err := r.db.Exec(ctx, tpl, ids); err != nil {
		return fmt.Errorf("failed to copy rows into %s: %w", archiveTable, err)
	}
	return nil
}

// Delete runs DeleteQueryAfterArchive with $1 = ids.
func (r *ArchiveRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tpl := r.store.Current().DB.DeleteQueryAfterArchive
	if _, err := r.db.Exec(ctx, tpl, ids); err != nil {
		return fmt.Errorf("failed to delete archived rows: %w", err)
	}
	return nil
}

// DeleteDuplicates runs DeleteQueryForDuplicateRecords (%s = archive
// table) after a duplicate-key failure during Copy.
func (r *ArchiveRepository) DeleteDuplicates(ctx context.Context, archiveTable string) error {
	tpl := fmt.Sprintf(r.store.Current().DB.DeleteQueryForDuplicateRecords, archiveTable)
	if _, err := r.db.Exec(ctx, tpl); err != nil {
		return fmt.Errorf("failed to delete duplicate archive rows: %w", err)
	}
	return nil
}

// IsDuplicateKey matches the duplicate-key wording of the supported
// drivers.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "Duplicate entry")
}
