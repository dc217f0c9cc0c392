// Package httptransport is the thin HTTP layer over the verification
// engine, the bulk pipeline and the audit ledger. Transport
// authentication is handled by the gateway in front; the fiduciary id
// arrives as a header.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"veda/internal/bulk"
	"veda/internal/ledger"
	"veda/internal/platform/kafka"
	"veda/internal/platform/metrics"
	"veda/internal/platform/middleware"
	"veda/internal/platform/objectstore"
	"veda/internal/verification"
)

// FiduciaryHeader carries the authenticated df_id, set by the gateway.
const FiduciaryHeader = "X-DF-ID"

// Publisher is the producing surface the upload endpoint needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// Handler delegates to the domain services without embedding business
// logic so transport concerns remain isolated.
type Handler struct {
	verify   *verification.Service
	files    bulk.FileStore
	objects  objectstore.Store
	producer Publisher
	audit    ledger.Store
	verifier *ledger.Verifier
	log      *slog.Logger

	unprocessedBucket string
}

func NewHandler(verify *verification.Service, files bulk.FileStore, objects objectstore.Store, producer Publisher, audit ledger.Store, verifier *ledger.Verifier, unprocessedBucket string, log *slog.Logger) *Handler {
	return &Handler{
		verify:            verify,
		files:             files,
		objects:           objects,
		producer:          producer,
		audit:             audit,
		verifier:          verifier,
		log:               log,
		unprocessedBucket: unprocessedBucket,
	}
}

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(h.log))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/consent", func(r chi.Router) {
		r.Post("/verify", h.handleVerify)
		r.Post("/verify/bulk", h.handleBulkUpload)
		r.Get("/verify/logs", h.handleLogs)
		r.Get("/verify/logs/download", h.handleLogsDownload)
		r.Get("/verify/logs/{request_id}", h.handleLog)
		r.Get("/verify/stats", h.handleStats)
		r.Get("/verify/files", h.handleFiles)
		r.Get("/audit/{dp_id}", h.handleAudit)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
