package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesReadCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "messages_read_total",
			Help:      "Total pending messages read from the outbox.",
		},
	)

	chunkOutcomeCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "chunk_outcomes_total",
			Help:      "Total dispatched chunks by interpreted outcome.",
		},
		[]string{"outcome"}, // "sent", "stored", "failed", "auth_retry"
	)

	sendDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Name:      "send_request_duration_seconds",
			Help:      "Duration of gateway send calls per chunk.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	dlrPagesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "dlr_pages_total",
			Help:      "Total delivery-report pages polled.",
		},
	)

	dlrRecordsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "dlr_records_total",
			Help:      "Total delivery records written back.",
		},
	)

	moMessagesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "mo_messages_total",
			Help:      "Total inbound messages inserted into the inbox.",
		},
	)

	archivedRowsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "archived_rows_total",
			Help:      "Total outbox rows moved to archive tables.",
		},
	)

	alertsSentCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "alerts_sent_total",
			Help:      "Total operator alert messages dispatched.",
		},
		[]string{"kind"}, // "error_threshold", "queue_depth"
	)
)
