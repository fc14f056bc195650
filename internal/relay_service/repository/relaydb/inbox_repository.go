package relaydb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/platform/database"
	"github.com/aradsms/smsrelay/internal/relay_service/domain"
)

type InboxRepository struct {
	db     database.Gateway
	store  *config.Store
	logger *slog.Logger
}

func NewInboxRepository(db database.Gateway, store *config.Store, logger *slog.Logger) *InboxRepository {
	return &InboxRepository{db: db, store: store, logger: logger.With("repository", "inbox")}
}

// InsertBatch runs InsertQueryForInbox once per record with
// $1 = destination, $2 = source, $3 = received_at, $4 = text.
func (r *InboxRepository) InsertBatch(ctx context.Context, records []domain.MoRecord) error {
	if len(records) == 0 {
		return nil
	}
	tpl := r.store.Current().DB.InsertQueryForInbox

	argSets := make([][]any, 0, len(records))
	for _, rec := range records {
		argSets = append(argSets, []any{rec.DestinationAddress, rec.SourceAddress, rec.ReceivedAt, rec.Text})
	}

	if _, err := r.db.ExecBatch(ctx, tpl, argSets); err != nil {
		return fmt.Errorf("failed to insert inbox records: %w", err)
	}
	return nil
}
