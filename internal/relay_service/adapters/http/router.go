package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/relay_service/repository"
)

// NewRouter assembles the relay's HTTP surface. Hook endpoints are open
// (the upstream pushes without credentials); the message API requires
// the configured X-API-Key.
func NewRouter(store *config.Store, outbox repository.OutboxRepository, inbox repository.InboxRepository, logger *slog.Logger) http.Handler {
	hooks := NewHookHandler(inbox, outbox, logger)
	messages := NewMessageHandler(outbox, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(MetricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "OK")
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/GetMO", hooks.GetMO)
	r.Post("/GetDLR", hooks.GetDLR)

	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(store, logger))
		r.Post("/Send", messages.Send)
		r.Post("/GetDelivery", messages.GetDelivery)
	})

	return r
}
