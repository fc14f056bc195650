// Package relaydb implements the relay repositories on top of the
// database gateway and the operator-supplied query templates. Templates
// bind values through $1..$n placeholders; id sets bind as arrays. The
// expected parameter order of each template is documented on the method
// that runs it.
package relaydb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/platform/database"
	"github.com/aradsms/smsrelay/internal/relay_service/domain"
)

// storedProcPrefix selects stored-procedure indirection for the
// select-for-send template: "SP:name" invokes name($1) instead of running
// the template text directly.
const storedProcPrefix = "SP:"

type OutboxRepository struct {
	db     database.Gateway
	store  *config.Store
	logger *slog.Logger
}

func NewOutboxRepository(db database.Gateway, store *config.Store, logger *slog.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, store: store, logger: logger.With("repository", "outbox")}
}

// FetchPending runs SelectQueryForSend with $1 = limit. Rows must expose
// ID, SOURCEADDRESS, DESTINATIONADDRESS, MESSAGETEXT and optionally
// CREATIONDATE columns; casing and underscores in the identifiers do
// not matter, so snake_case templates work unchanged.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboundMessage, error) {
	tpl := r.store.Current().DB.SelectQueryForSend

	query := tpl
	if strings.HasPrefix(tpl, storedProcPrefix) {
		query = fmt.Sprintf("SELECT * FROM %s($1)", strings.TrimPrefix(tpl, storedProcPrefix))
	}

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending messages: %w", err)
	}

	messages := make([]domain.OutboundMessage, 0, len(rows))
	for _, row := range rows {
		msg := domain.OutboundMessage{
			ID:                 row.String("ID"),
			SourceAddress:      row.String("SOURCEADDRESS"),
			DestinationAddress: row.String("DESTINATIONADDRESS"),
			Text:               row.String("MESSAGETEXT"),
		}
		if v, ok := row.Value("CREATIONDATE"); ok {
			if t, ok := v.(time.Time); ok {
				msg.CreatedAt = t
			}
		}
		msg.DataCoding = domain.DataCodingFor(msg.Text)
		messages = append(messages, msg)
	}
	return messages, nil
}

// MarkSending runs UpdateQueryBeforeSend with $1 = ids. The template's
// WHERE clause keys on the waiting status, so re-running it against rows
// already in flight affects nothing.
func (r *OutboxRepository) MarkSending(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tpl := r.store.Current().DB.UpdateQueryBeforeSend
	if _, err := r.db.Exec(ctx, tpl, ids); err != nil {
		return fmt.Errorf("failed to mark messages as sending: %w", err)
	}
	return nil
}

// UpdateStatus runs UpdateQueryAfterFailedSend with $1 = status,
// $2 = ids.
func (r *OutboxRepository) UpdateStatus(ctx context.Context, ids []string, status string) error {
	if len(ids) == 0 {
		return nil
	}
	tpl := r.store.Current().DB.UpdateQueryAfterFailedSend
	if _, err := r.db.Exec(ctx, tpl, status, ids); err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

// UpdateAfterSend runs UpdateQueryAfterSend once per result with
// $1 = status, $2 = sent_at, $3 = return_id, $4 = parts, $5 = upstream,
// $6 = id.
func (r *OutboxRepository) UpdateAfterSend(ctx context.Context, results []domain.SendResult) error {
	if len(results) == 0 {
		return nil
	}
	settings := r.store.Current()
	tpl := settings.DB.UpdateQueryAfterSend

	argSets := make([][]any, 0, len(results))
	for _, res := range results {
		status := settings.DB.StatusForSuccessSend
		if !res.Accepted {
			status = settings.DB.StatusForFailedSend
		}
		argSets = append(argSets, []any{status, res.SentAt, res.ReturnID, res.Parts, res.Upstream, res.ID})
	}

	if _, err := r.db.ExecBatch(ctx, tpl, argSets); err != nil {
		return fmt.Errorf("failed to record send outcomes: %w", err)
	}
	return nil
}

// UpdateDelivery runs UpdateQueryForDelivery once per record with
// $1 = status, $2 = delivered_at, $3 = tracking_code.
func (r *OutboxRepository) UpdateDelivery(ctx context.Context, records []domain.DlrRecord) error {
	if len(records) == 0 {
		return nil
	}
	tpl := r.store.Current().DB.UpdateQueryForDelivery

	argSets := make([][]any, 0, len(records))
	for _, rec := range records {
		argSets = append(argSets, []any{int(rec.Status), rec.DeliveredAt, rec.TrackingCode})
	}

	if _, err := r.db.ExecBatch(ctx, tpl, argSets); err != nil {
		return fmt.Errorf("failed to apply delivery updates: %w", err)
	}
	return nil
}

// FetchDlrCandidates runs SelectQueryForGetDelivery with $1 = offset. The
// template must return the tracking ids either as an "ID" column or as
// the only column.
func (r *OutboxRepository) FetchDlrCandidates(ctx context.Context, offset int) ([]string, error) {
	tpl := r.store.Current().DB.SelectQueryForGetDelivery

	rows, err := r.db.Query(ctx, tpl, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch delivery candidates: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row.Value("ID"); ok {
			ids = append(ids, fmt.Sprintf("%v", v))
			continue
		}
		if len(row) == 1 {
			for _, v := range row {
				ids = append(ids, fmt.Sprintf("%v", v))
			}
			continue
		}
		return nil, fmt.Errorf("delivery candidate query must return an ID column")
	}
	return ids, nil
}

// CountPending runs SelectQueryForNullStatus, which must return a single
// row with a "count" column.
func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	tpl := r.store.Current().DB.SelectQueryForNullStatus

	rows, err := r.db.Query(ctx, tpl)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	v, ok := rows[0].Value("count")
	if !ok {
		return 0, fmt.Errorf("queue count query returned no count column")
	}
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("queue count query returned non-numeric count: %T", v)
	}
}

// Insert runs InsertQueryForOutbox once per message with
// $1 = source, $2 = destination, $3 = text, $4 = created_at,
// $5 = tracking id.
func (r *OutboxRepository) Insert(ctx context.Context, messages []domain.OutboundMessage) error {
	if len(messages) == 0 {
		return nil
	}
	tpl := r.store.Current().DB.InsertQueryForOutbox

	argSets := make([][]any, 0, len(messages))
	for _, m := range messages {
		argSets = append(argSets, []any{m.SourceAddress, m.DestinationAddress, m.Text, m.CreatedAt, m.ID})
	}

	if _, err := r.db.ExecBatch(ctx, tpl, argSets); err != nil {
		return fmt.Errorf("failed to insert outbox messages: %w", err)
	}
	return nil
}

// SelectDelivery runs SelectDeliveryQuery with $1 = tracking codes.
func (r *OutboxRepository) SelectDelivery(ctx context.Context, trackingCodes []string) ([]database.Row, error) {
	tpl := r.store.Current().DB.SelectDeliveryQuery

	rows, err := r.db.Query(ctx, tpl, trackingCodes)
	if err != nil {
		return nil, fmt.Errorf("failed to select delivery rows: %w", err)
	}
	return rows, nil
}
