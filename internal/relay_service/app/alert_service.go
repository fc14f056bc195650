package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/relay_service/domain"
	"github.com/aradsms/smsrelay/internal/relay_service/gateway"
	"github.com/aradsms/smsrelay/internal/relay_service/repository"
)

// AlertService notifies operators over SMS when the accumulated error
// count crosses its threshold or the outbox depth exceeds the configured
// queue limit.
type AlertService struct {
	store  *config.Store
	gw     SMSGateway
	outbox repository.OutboxRepository
	state  *AlertState
	logger *slog.Logger
}

func NewAlertService(store *config.Store, gw SMSGateway, outbox repository.OutboxRepository, state *AlertState, logger *slog.Logger) *AlertService {
	return &AlertService{
		store:  store,
		gw:     gw,
		outbox: outbox,
		state:  state,
		logger: logger.With("service", "alerter"),
	}
}

// CheckErrors sends the last recorded error once the counter passes the
// configured threshold. The counter only resets after a successful send,
// so a broken alert path keeps the condition armed.
func (s *AlertService) CheckErrors(ctx context.Context) error {
	settings := s.store.Current()
	if settings.Alert.ErrorCount <= 0 {
		return nil
	}
	if s.state.Count() <= settings.Alert.ErrorCount {
		return nil
	}
	return s.send(ctx, settings, s.state.LastMessage(), true)
}

// CheckQueueDepth alerts when the pending outbox depth exceeds the queue
// limit inside the bulk window.
func (s *AlertService) CheckQueueDepth(ctx context.Context) error {
	settings := s.store.Current()
	if settings.Alert.QueueCount <= 0 {
		return nil
	}
	if !settings.Bulk.Contains(time.Now()) {
		return nil
	}
	depth, err := s.outbox.CountPending(ctx)
	if err != nil {
		s.state.Record(settings.ServiceName, err)
		return err
	}
	if depth <= settings.Alert.QueueCount {
		return nil
	}
	msg := fmt.Sprintf("Queue count in service %s is %d", settings.ServiceName, depth)
	return s.send(ctx, settings, msg, false)
}

// send delivers one alert text to every configured destination. In
// bearer mode the token is refreshed first; a single auth failure gets
// one refresh-and-retry before giving up.
func (s *AlertService) send(ctx context.Context, settings *config.Settings, text string, isError bool) error {
	destinations := settings.AlertDestinations()
	if len(destinations) == 0 || settings.Alert.SourceAddress == "" {
		return nil
	}

	body := fmt.Sprintf("%s\r\n%s", text, time.Now().Format("2006-01-02 15:04:05"))
	batch := make([]domain.MessageSendModel, 0, len(destinations))
	for _, dest := range destinations {
		batch = append(batch, domain.MessageSendModel{
			MessageText:        body,
			SourceAddress:      domain.NormalizeAddress(settings.Alert.SourceAddress),
			DestinationAddress: domain.NormalizeAddress(dest),
			DataCoding:         int(domain.DataCodingFor(body)),
		})
	}

	if !s.gw.UsingAPIKey() {
		if err := s.gw.Authenticate(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Alert token refresh failed", "error", err)
			return err
		}
	}

	_, err := s.gw.Send(ctx, batch)
	if err != nil && gateway.IsAuthFailure(err) && !s.gw.UsingAPIKey() {
		sleep(ctx, time.Second)
		if aerr := s.gw.Authenticate(ctx); aerr == nil {
			_, err = s.gw.Send(ctx, batch)
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Alert send failed", "error", err)
		return err
	}

	kind := "queue_depth"
	if isError {
		kind = "error_threshold"
		s.state.Reset()
	}
	alertsSentCounter.WithLabelValues(kind).Inc()
	s.logger.WarnContext(ctx, "Alert sent", "kind", kind, "destinations", len(destinations), "text", text)
	return nil
}
