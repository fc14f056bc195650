// Package http exposes the relay's inbound surface: hook endpoints for
// upstream pushes (MO and DLR) and an API-key guarded message API for
// local producers.
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"log/slog"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/aradsms/smsrelay/internal/relay_service/domain"
	"github.com/aradsms/smsrelay/internal/relay_service/repository"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// deliveryRelayModel is one pushed DLR entry. Field names follow the
// upstream contract.
type deliveryRelayModel struct {
	UserName     string `json:"UserName"`
	MessageID    string `json:"MessageId"`
	Mobile       string `json:"Mobile"`
	PartNumber   int    `json:"PartNumber"`
	Status       string `json:"Status"`
	DateTime     string `json:"DateTime"`
	FullDelivery bool   `json:"FullDelivery"`
}

// HookHandler receives MO and DLR pushes from the upstream gateway.
type HookHandler struct {
	inbox  repository.InboxRepository
	outbox repository.OutboxRepository
	logger *slog.Logger
}

func NewHookHandler(inbox repository.InboxRepository, outbox repository.OutboxRepository, logger *slog.Logger) *HookHandler {
	return &HookHandler{
		inbox:  inbox,
		outbox: outbox,
		logger: logger.With("component", "hook_handler"),
	}
}

// GetMO stores one pushed inbound message. The destination arrives as a
// short code and is normalized to its international form.
func (h *HookHandler) GetMO(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chimiddleware.GetReqID(ctx))

	q := r.URL.Query()
	from, to, text := q.Get("from"), q.Get("to"), q.Get("text")
	if from == "" || to == "" || text == "" {
		http.Error(w, "from, to and text are required", http.StatusBadRequest)
		return
	}

	record := domain.MoRecord{
		SourceAddress:      from,
		DestinationAddress: domain.NormalizeHookDestination(to),
		Text:               text,
		ReceivedAt:         time.Now(),
	}
	if err := h.inbox.InsertBatch(ctx, []domain.MoRecord{record}); err != nil {
		logger.ErrorContext(ctx, "Failed to store pushed inbound message", "error", err)
		http.Error(w, "failed to store message", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Inbound message stored via hook", "from", from, "to", record.DestinationAddress)
	writeText(w, http.StatusOK, "Done.")
}

// GetDLR applies a pushed list of delivery statuses to the outbox.
func (h *HookHandler) GetDLR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chimiddleware.GetReqID(ctx))

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var models []deliveryRelayModel
	if err := json.NewDecoder(r.Body).Decode(&models); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(models) == 0 || models[0].UserName == "" {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}

	records := make([]domain.DlrRecord, 0, len(models))
	for _, m := range models {
		deliveredAt := time.Now()
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", m.DateTime, time.Local); err == nil {
			deliveredAt = t
		} else if t, err := time.ParseInLocation(time.RFC3339, m.DateTime, time.Local); err == nil {
			deliveredAt = t
		}
		records = append(records, domain.DlrRecord{
			TrackingCode: m.MessageID,
			PartNumber:   m.PartNumber,
			Status:       domain.ParseDeliveryStatus(m.Status),
			DeliveredAt:  deliveredAt,
			FullDelivery: m.FullDelivery,
		})
	}

	start := time.Now()
	if err := h.outbox.UpdateDelivery(ctx, records); err != nil {
		logger.ErrorContext(ctx, "Failed to apply pushed delivery statuses", "error", err)
		http.Error(w, "failed to apply delivery statuses", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Pushed delivery statuses applied",
		"count", len(records),
		"update_ms", time.Since(start).Milliseconds())
	writeText(w, http.StatusOK, "Done.")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body)) //nolint:errcheck
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
