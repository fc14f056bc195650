package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/relay_service/repository"
	"github.com/aradsms/smsrelay/internal/relay_service/repository/relaydb"
)

// ArchiveService moves settled outbox rows into month-named archive
// tables, one batch per tick.
type ArchiveService struct {
	store   *config.Store
	archive repository.ArchiveRepository
	alerts  *AlertState
	logger  *slog.Logger
}

func NewArchiveService(store *config.Store, archive repository.ArchiveRepository, alerts *AlertState, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		store:   store,
		archive: archive,
		alerts:  alerts,
		logger:  logger.With("service", "archiver"),
	}
}

// Run archives at most one batch. The batch is copied into the archive
// table named after the first row's creation month, then deleted from
// the live table. A duplicate-key failure during the copy means a prior
// run died between copy and delete; the recovery dedups the archive
// table and retries on the next tick.
func (s *ArchiveService) Run(ctx context.Context) error {
	settings := s.store.Current()
	if !settings.Archive.Enable {
		return nil
	}
	if !settings.Archive.Window.Contains(time.Now()) {
		return nil
	}

	ids, creationDate, err := s.archive.FetchBatch(ctx, settings.Archive.BatchSize)
	if err != nil {
		s.alerts.Record(settings.ServiceName, err)
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	table, err := s.archive.EnsureArchiveTable(ctx, creationDate)
	if err != nil {
		s.alerts.Record(settings.ServiceName, err)
		return err
	}

	if err := s.archive.Copy(ctx, table, ids); err != nil {
		s.alerts.Record(settings.ServiceName, err)
		if relaydb.IsDuplicateKey(err) {
			s.logger.WarnContext(ctx, "Archive copy hit existing rows, deduplicating", "table", table)
			if derr := s.archive.DeleteDuplicates(ctx, table); derr != nil {
				s.alerts.Record(settings.ServiceName, derr)
				return derr
			}
			return err
		}
		return err
	}

	if err := s.archive.Delete(ctx, ids); err != nil {
		s.alerts.Record(settings.ServiceName, err)
		return err
	}

	archivedRowsCounter.Add(float64(len(ids)))
	s.logger.InfoContext(ctx, "Archived outbox rows", "table", table, "rows", len(ids))
	return nil
}
