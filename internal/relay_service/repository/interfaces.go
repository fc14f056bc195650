package repository

import (
	"context"
	"time"

	"github.com/aradsms/smsrelay/internal/platform/database"
	"github.com/aradsms/smsrelay/internal/relay_service/domain"
)

// OutboxRepository is the relay's view of the pending-message table. All
// write-backs are bulk operations; per-row round trips do not survive the
// configured TPS.
type OutboxRepository interface {
	// FetchPending returns up to limit rows waiting for send.
	FetchPending(ctx context.Context, limit int) ([]domain.OutboundMessage, error)
	// MarkSending moves the ids to the in-flight pre-status before any
	// network call. Re-marking an already in-flight id is a no-op.
	MarkSending(ctx context.Context, ids []string) error
	// UpdateStatus applies one configured status value to a set of ids
	// (failed or stored write-back).
	UpdateStatus(ctx context.Context, ids []string, status string) error
	// UpdateAfterSend records the interpreted per-message send outcomes.
	UpdateAfterSend(ctx context.Context, results []domain.SendResult) error
	// UpdateDelivery applies DLR results keyed by tracking code.
	UpdateDelivery(ctx context.Context, records []domain.DlrRecord) error
	// FetchDlrCandidates returns the tracking ids of one delivery-poll
	// page at the given offset.
	FetchDlrCandidates(ctx context.Context, offset int) ([]string, error)
	// CountPending returns the live outbox depth for alerting.
	CountPending(ctx context.Context) (int, error)
	// Insert stores externally submitted messages (webhook path).
	Insert(ctx context.Context, messages []domain.OutboundMessage) error
	// SelectDelivery returns delivery rows for a tracking-code list.
	SelectDelivery(ctx context.Context, trackingCodes []string) ([]database.Row, error)
}

type InboxRepository interface {
	InsertBatch(ctx context.Context, records []domain.MoRecord) error
}

type WhitelistRepository interface {
	// Allowed returns the subset of destinations present in the
	// whitelist table.
	Allowed(ctx context.Context, destinations []string) (map[string]struct{}, error)
}

type ArchiveRepository interface {
	// FetchBatch selects one batch of old outbox rows; it returns their
	// ids and the creation date of the first row, which names the
	// archive table.
	FetchBatch(ctx context.Context, limit int) (ids []string, creationDate time.Time, err error)
	// EnsureArchiveTable creates the archive table for the given
	// creation date if needed and returns its name.
	EnsureArchiveTable(ctx context.Context, creationDate time.Time) (string, error)
	// Copy inserts the rows into the archive table.
	Copy(ctx context.Context, archiveTable string, ids []string) error
	// Delete removes the archived rows from the live table.
	Delete(ctx context.Context, ids []string) error
	// DeleteDuplicates runs the dedup recovery against the archive table
	// after a duplicate-key failure during Copy.
	DeleteDuplicates(ctx context.Context, archiveTable string) error
}
