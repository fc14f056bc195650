package http

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/aradsms/smsrelay/internal/relay_service/domain"
	"github.com/aradsms/smsrelay/internal/relay_service/repository"
)

// a2pMessage is one externally submitted outbound message.
type a2pMessage struct {
	MessageID          string `json:"MessageId"`
	SourceAddress      string `json:"SourceAddress"`
	DestinationAddress string `json:"DestinationAddress"`
	MessageText        string `json:"MessageText"`
}

// MessageHandler lets local producers push messages into the outbox and
// query their delivery state. Both endpoints sit behind the API-key
// middleware.
type MessageHandler struct {
	outbox repository.OutboxRepository
	logger *slog.Logger
}

func NewMessageHandler(outbox repository.OutboxRepository, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		outbox: outbox,
		logger: logger.With("component", "message_handler"),
	}
}

// Send inserts the posted messages into the outbox and echoes their ids.
// Messages without an id get a generated numeric one.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chimiddleware.GetReqID(ctx))

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var list []a2pMessage
	if err := json.NewDecoder(r.Body).Decode(&list); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(list) == 0 {
		http.Error(w, "empty message list", http.StatusBadRequest)
		return
	}

	now := time.Now()
	ids := make([]string, 0, len(list))
	messages := make([]domain.OutboundMessage, 0, len(list))
	for _, item := range list {
		if item.MessageID == "" {
			item.MessageID = numericMessageID()
		}
		ids = append(ids, item.MessageID)
		messages = append(messages, domain.OutboundMessage{
			ID:                 item.MessageID,
			SourceAddress:      item.SourceAddress,
			DestinationAddress: item.DestinationAddress,
			Text:               item.MessageText,
			CreatedAt:          now,
		})
	}

	if err := h.outbox.Insert(ctx, messages); err != nil {
		logger.ErrorContext(ctx, "Failed to insert submitted messages", "error", err)
		http.Error(w, "failed to store messages", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Messages accepted", "count", len(messages))
	writeJSON(w, http.StatusOK, ids)
}

// GetDelivery returns the status column of the outbox rows matching the
// posted tracking codes.
func (h *MessageHandler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chimiddleware.GetReqID(ctx))

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var codes []string
	if err := json.NewDecoder(r.Body).Decode(&codes); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(codes) == 0 {
		http.Error(w, "empty tracking code list", http.StatusBadRequest)
		return
	}

	rows, err := h.outbox.SelectDelivery(ctx, codes)
	if err != nil {
		logger.ErrorContext(ctx, "Delivery lookup failed", "error", err)
		http.Error(w, "delivery lookup failed", http.StatusInternalServerError)
		return
	}

	statuses := make([]string, 0, len(rows))
	for _, row := range rows {
		statuses = append(statuses, row.String("status"))
	}
	writeJSON(w, http.StatusOK, statuses)
}

// numericMessageID derives a positive decimal id from a fresh UUID for
// producers that submit without one.
func numericMessageID() string {
	u := uuid.New()
	n := binary.LittleEndian.Uint64(u[:8]) &^ (1 << 63)
	return strconv.FormatUint(n, 10)
}
