package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/relay_service/domain"
	"github.com/aradsms/smsrelay/internal/relay_service/gateway"
	"github.com/aradsms/smsrelay/internal/relay_service/repository"
)

// MOService pulls mobile-originated messages from the gateway into the
// local inbox table.
type MOService struct {
	store  *config.Store
	gw     SMSGateway
	inbox  repository.InboxRepository
	alerts *AlertState
	logger *slog.Logger
}

func NewMOService(store *config.Store, gw SMSGateway, inbox repository.InboxRepository, alerts *AlertState, logger *slog.Logger) *MOService {
	return &MOService{
		store:  store,
		gw:     gw,
		inbox:  inbox,
		alerts: alerts,
		logger: logger.With("service", "mo_poller"),
	}
}

// Poll fetches one batch of inbound messages and stores it. The gateway
// marks fetched messages as read, so an insert failure here loses them;
// the insert error is surfaced for that reason.
func (s *MOService) Poll(ctx context.Context) error {
	settings := s.store.Current()
	if !settings.Message.EnableGetMO {
		return nil
	}

	messages, err := s.gw.GetMO(ctx)
	if err != nil {
		if gateway.IsAuthFailure(err) && !s.gw.UsingAPIKey() {
			// Refresh the token; the next tick retries the fetch.
			if aerr := s.gw.Authenticate(ctx); aerr != nil {
				s.alerts.Record(settings.ServiceName, aerr)
			}
			sleep(ctx, time.Second)
			return err
		}
		s.alerts.Record(settings.ServiceName, err)
		return err
	}
	// The upstream throttles consecutive reads; pace the next tick.
	defer sleep(ctx, time.Second)
	if len(messages) == 0 {
		return nil
	}

	records := make([]domain.MoRecord, 0, len(messages))
	for _, m := range messages {
		records = append(records, domain.MoRecord{
			SourceAddress:      domain.NormalizeAddress(m.SourceAddress),
			DestinationAddress: m.DestinationAddress,
			Text:               m.MessageText,
			ReceivedAt:         m.ReceiveDateTime,
		})
	}
	if err := s.inbox.InsertBatch(ctx, records); err != nil {
		s.alerts.Record(settings.ServiceName, err)
		return err
	}
	moMessagesCounter.Add(float64(len(records)))
	s.logger.InfoContext(ctx, "Inbound messages stored", "count", len(records))
	return nil
}

// sleep pauses for d but wakes early on context cancellation.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
