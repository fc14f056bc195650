package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/relay_service/domain"
	"github.com/aradsms/smsrelay/internal/relay_service/gateway"
	"github.com/aradsms/smsrelay/internal/relay_service/repository"
)

// dlrPageStep is the pagination stride of the delivery poll.
const dlrPageStep = 900

// errAbortDlrRun stops the whole poll for this tick; raised on an API-key
// auth failure, which will not clear by itself.
var errAbortDlrRun = errors.New("delivery poll aborted")

// DLRService polls the gateway for delivery receipts page by page and
// fans the per-part statuses back into the outbox.
type DLRService struct {
	store  *config.Store
	gw     SMSGateway
	outbox repository.OutboxRepository
	alerts *AlertState
	logger *slog.Logger
}

func NewDLRService(store *config.Store, gw SMSGateway, outbox repository.OutboxRepository, alerts *AlertState, logger *slog.Logger) *DLRService {
	return &DLRService{
		store:  store,
		gw:     gw,
		outbox: outbox,
		alerts: alerts,
		logger: logger.With("service", "dlr_poller"),
	}
}

// Poll requests candidate pages at increasing offsets until an empty page
// terminates the run.
func (s *DLRService) Poll(ctx context.Context) error {
	settings := s.store.Current()
	if !settings.Message.EnableGetDLR {
		return nil
	}

	offset := 0
	for {
		ids, err := s.outbox.FetchDlrCandidates(ctx, offset)
		if err != nil {
			s.alerts.Record(settings.ServiceName, err)
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		offset += dlrPageStep
		dlrPagesCounter.Inc()

		if err := s.processPage(ctx, ids, settings); err != nil {
			if errors.Is(err, errAbortDlrRun) {
				return err
			}
			// Page-level faults are logged and counted; the next page
			// still gets its chance.
			s.alerts.Record(settings.ServiceName, err)
			s.logger.ErrorContext(ctx, "Delivery page failed", "offset", offset-dlrPageStep, "error", err)
		}
	}
}

// processPage posts one id page to GetDLR. A 401 in bearer mode refreshes
// the token and restarts the same page once; in API-key mode it aborts
// the whole run.
func (s *DLRService) processPage(ctx context.Context, ids []string, settings *config.Settings) error {
	statuses, err := s.gw.GetDLR(ctx, ids)
	if err != nil && gateway.IsAuthFailure(err) {
		if s.gw.UsingAPIKey() {
			return errAbortDlrRun
		}
		if aerr := s.gw.Authenticate(ctx); aerr != nil {
			return aerr
		}
		statuses, err = s.gw.GetDLR(ctx, ids)
	}
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		return nil
	}

	byID := make(map[string]domain.DlrStatus, len(statuses))
	for _, st := range statuses {
		byID[st.ID] = st
	}

	var records []domain.DlrRecord
	for _, id := range ids {
		st, ok := byID[id]
		if !ok {
			continue
		}
		// Parts still in Sent carry no new information.
		if st.DeliveryStatus == domain.StatusSent {
			continue
		}
		full := st.FullyDelivered()
		for _, part := range st.PartStatus {
			if part.Status == domain.StatusSent {
				continue
			}
			deliveredAt := time.Now()
			switch {
			case part.Time != nil:
				deliveredAt = *part.Time
			case st.DeliveryDate != nil:
				deliveredAt = *st.DeliveryDate
			}
			records = append(records, domain.DlrRecord{
				TrackingCode: st.ID,
				PartNumber:   part.Part,
				Status:       part.Status,
				DeliveredAt:  deliveredAt,
				FullDelivery: full,
			})
		}
	}

	if len(records) == 0 {
		return nil
	}
	if err := s.outbox.UpdateDelivery(ctx, records); err != nil {
		return err
	}
	dlrRecordsCounter.Add(float64(len(records)))
	s.logger.InfoContext(ctx, "Delivery page applied", "ids", len(ids), "records", len(records))
	return nil
}
