package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/relay_service/domain"
	"github.com/aradsms/smsrelay/internal/relay_service/gateway"
	"github.com/aradsms/smsrelay/internal/relay_service/repository"
)

// dispatchWait bounds how long one tick waits for its chunk tasks.
const dispatchWait = 3 * time.Minute

// SMSGateway is the upstream API surface the relay depends on.
type SMSGateway interface {
	Authenticate(ctx context.Context) error
	Send(ctx context.Context, batch []domain.MessageSendModel) ([]gateway.SendOutcome, error)
	GetDLR(ctx context.Context, ids []string) ([]domain.DlrStatus, error)
	GetMO(ctx context.Context) ([]domain.MoDto, error)
	UsingAPIKey() bool
}

// RelayService is the outbound send pipeline: read a batch, filter, mark
// in flight, dispatch chunks concurrently and write back per-message
// statuses.
type RelayService struct {
	store     *config.Store
	gw        SMSGateway
	outbox    repository.OutboxRepository
	whitelist repository.WhitelistRepository
	alerts    *AlertState
	logger    *slog.Logger
}

func NewRelayService(
	store *config.Store,
	gw SMSGateway,
	outbox repository.OutboxRepository,
	whitelist repository.WhitelistRepository,
	alerts *AlertState,
	logger *slog.Logger,
) *RelayService {
	return &RelayService{
		store:     store,
		gw:        gw,
		outbox:    outbox,
		whitelist: whitelist,
		alerts:    alerts,
		logger:    logger.With("service", "relay"),
	}
}

// ReadAndPost runs one send tick. Outside the send window, or with
// sending disabled, it is a no-op.
func (s *RelayService) ReadAndPost(ctx context.Context) error {
	settings := s.store.Current()
	if !settings.Message.EnableSend || !settings.Bulk.Contains(time.Now()) {
		return nil
	}

	readStart := time.Now()
	pending, err := s.outbox.FetchPending(ctx, settings.Message.TPS)
	if err != nil {
		s.alerts.Record(settings.ServiceName, err)
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	messagesReadCounter.Add(float64(len(pending)))

	models := make([]domain.MessageSendModel, 0, len(pending))
	for _, msg := range pending {
		models = append(models, domain.SendModelFor(msg))
	}

	if settings.Message.SendToWhiteList {
		models, err = s.filterWhitelisted(ctx, models, settings)
		if err != nil {
			s.alerts.Record(settings.ServiceName, err)
			return err
		}
	}

	chunks := chunkModels(models, settings.Message.BatchSize)
	if len(chunks) == 0 {
		return nil
	}

	// The in-flight mark is the at-most-once-dispatch guard: after this
	// point a crash leaves the rows attempted, not silently re-sendable.
	allIDs := make([]string, 0, len(models))
	for _, m := range models {
		allIDs = append(allIDs, m.Udh)
	}
	if err := s.outbox.MarkSending(ctx, allIDs); err != nil {
		s.alerts.Record(settings.ServiceName, err)
		return err
	}

	sendStart := time.Now()
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(taskID int, chunk []domain.MessageSendModel) {
			defer wg.Done()
			s.sendChunk(ctx, taskID, chunk, true)
		}(i, chunk)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(dispatchWait):
		s.logger.WarnContext(ctx, "Chunk dispatch exceeded bounded wait", "chunks", len(chunks))
	case <-ctx.Done():
	}

	s.logger.InfoContext(ctx, "Send tick complete",
		"read_count", len(pending),
		"dispatched", len(models),
		"chunks", len(chunks),
		"read_ms", sendStart.Sub(readStart).Milliseconds(),
		"send_ms", time.Since(sendStart).Milliseconds(),
	)
	return nil
}

// filterWhitelisted splits the batch on whitelist membership, immediately
// fails the rejected part and returns the eligible remainder.
func (s *RelayService) filterWhitelisted(ctx context.Context, models []domain.MessageSendModel, settings *config.Settings) ([]domain.MessageSendModel, error) {
	seen := make(map[string]struct{}, len(models))
	destinations := make([]string, 0, len(models))
	for _, m := range models {
		if _, ok := seen[m.DestinationAddress]; !ok {
			seen[m.DestinationAddress] = struct{}{}
			destinations = append(destinations, m.DestinationAddress)
		}
	}

	allowed, err := s.whitelist.Allowed(ctx, destinations)
	if err != nil {
		return nil, err
	}

	var eligible []domain.MessageSendModel
	var rejectedIDs []string
	for _, m := range models {
		if _, ok := allowed[m.DestinationAddress]; ok {
			eligible = append(eligible, m)
		} else {
			rejectedIDs = append(rejectedIDs, m.Udh)
		}
	}

	if len(rejectedIDs) > 0 {
		if err := s.outbox.UpdateStatus(ctx, rejectedIDs, settings.DB.StatusForFailedSend); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "Rejected messages outside whitelist", "count", len(rejectedIDs))
	}
	return eligible, nil
}

// sendChunk dispatches one chunk and applies the status branching:
// 200 interpreted per message, 401 refresh-and-retry once (failed
// immediately in API-key mode), 429 and transport/decode errors deferred
// as stored, anything else failed.
func (s *RelayService) sendChunk(ctx context.Context, taskID int, chunk []domain.MessageSendModel, allowAuthRetry bool) {
	settings := s.store.Current()

	ids := make([]string, 0, len(chunk))
	for _, m := range chunk {
		ids = append(ids, m.Udh)
	}

	start := time.Now()
	outcomes, err := s.gw.Send(ctx, chunk)
	sendDurationHist.Observe(time.Since(start).Seconds())

	if err != nil {
		s.handleChunkError(ctx, taskID, chunk, ids, err, allowAuthRetry, settings)
		return
	}

	now := time.Now()
	results := make([]domain.SendResult, 0, len(outcomes))
	for _, o := range outcomes {
		results = append(results, domain.SendResult{
			ID:       o.CorrelationID,
			ReturnID: o.ReturnID,
			Parts:    o.Parts,
			Upstream: o.Upstream,
			Accepted: o.Accepted,
			SentAt:   now,
		})
	}
	if err := s.outbox.UpdateAfterSend(ctx, results); err != nil {
		s.alerts.Record(settings.ServiceName, err)
		s.logger.ErrorContext(ctx, "Failed to record send outcomes", "task_id", taskID, "error", err)
		return
	}
	chunkOutcomeCounter.WithLabelValues("sent").Inc()
	s.logger.InfoContext(ctx, "Chunk dispatched", "task_id", taskID, "count", len(chunk), "send_ms", time.Since(start).Milliseconds())
}

func (s *RelayService) handleChunkError(ctx context.Context, taskID int, chunk []domain.MessageSendModel, ids []string, err error, allowAuthRetry bool, settings *config.Settings) {
	switch {
	case gateway.IsAuthFailure(err):
		if s.gw.UsingAPIKey() {
			// Key auth failures are not transient; fail the chunk.
			s.markChunk(ctx, ids, settings.DB.StatusForFailedSend, "failed")
			return
		}
		if allowAuthRetry {
			chunkOutcomeCounter.WithLabelValues("auth_retry").Inc()
			if aerr := s.gw.Authenticate(ctx); aerr != nil {
				s.alerts.Record(settings.ServiceName, aerr)
				s.markChunk(ctx, ids, settings.DB.StatusForStored, "stored")
				return
			}
			s.sendChunk(ctx, taskID, chunk, false)
			return
		}
		s.markChunk(ctx, ids, settings.DB.StatusForStored, "stored")
	case gateway.IsRateLimited(err):
		s.markChunk(ctx, ids, settings.DB.StatusForStored, "stored")
	case gateway.IsUnreachable(err), gateway.IsMalformedResponse(err):
		// Transport and decode failures defer the chunk; it stays
		// eligible for a future send attempt.
		s.alerts.Record(settings.ServiceName, err)
		s.markChunk(ctx, ids, settings.DB.StatusForStored, "stored")
	default:
		// Upstream rejection: terminal.
		s.alerts.Record(settings.ServiceName, err)
		s.markChunk(ctx, ids, settings.DB.StatusForFailedSend, "failed")
	}
	s.logger.ErrorContext(ctx, "Chunk send failed", "task_id", taskID, "count", len(chunk), "error", err)
}

func (s *RelayService) markChunk(ctx context.Context, ids []string, status, outcome string) {
	chunkOutcomeCounter.WithLabelValues(outcome).Inc()
	if err := s.outbox.UpdateStatus(ctx, ids, status); err != nil {
		s.alerts.Record(s.store.Current().ServiceName, err)
		s.logger.ErrorContext(ctx, "Failed to write back chunk status", "status", status, "error", err)
	}
}

func chunkModels(models []domain.MessageSendModel, size int) [][]domain.MessageSendModel {
	if size <= 0 {
		size = len(models)
	}
	var chunks [][]domain.MessageSendModel
	for start := 0; start < len(models); start += size {
		end := start + size
		if end > len(models) {
			end = len(models)
		}
		chunks = append(chunks, models[start:end])
	}
	return chunks
}
