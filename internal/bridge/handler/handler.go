package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"capbridge/internal/cap"
	"capbridge/internal/platform/middleware"
	dErrors "capbridge/pkg/domain-errors"
	"capbridge/pkg/platform/httputil"
)

// maxBodySize bounds CAP record uploads.
const maxBodySize = 1 << 20

// Service defines the interface for CAP bridge operations.
type Service interface {
	Ingest(ctx context.Context, raw []byte) (cap.Record, error)
	Get(ctx context.Context, capID string) (cap.Record, error)
}

// Handler is the thin HTTP layer. It delegates to the bridge service without
// embedding business logic so transport concerns remain isolated.
type Handler struct {
	logger *slog.Logger
	bridge Service
	now    func() time.Time
}

// New creates a new bridge Handler.
func New(bridge Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		bridge: bridge,
		now:    time.Now,
	}
}

// Register registers all bridge routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	h.RegisterHealth(r)
	h.RegisterCAP(r)
}

// RegisterHealth registers the liveness probe. It stays outside any auth
// group so orchestrators can always reach it.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/", h.handleHealthcheck)
}

// RegisterCAP registers the CAP intake and lookup routes.
func (h *Handler) RegisterCAP(r chi.Router) {
	r.Post("/cap", h.handleReceiveCAP)
	r.Get("/cap/{capID}", h.handleGetCAP)
}

// handleHealthcheck reports liveness in the shape the original bridge used.
func (h *Handler) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthcheckResponse{
		Status: "alive",
		Time:   h.now().UTC().Format(time.RFC3339Nano),
	})
}

// handleReceiveCAP ingests one CAP record.
func (h *Handler) handleReceiveCAP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.logger.WarnContext(ctx, "unreadable CAP body",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable request body"))
		return
	}

	record, err := h.bridge.Ingest(ctx, raw)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeBadRequest) || dErrors.Is(err, dErrors.CodeConflict) {
			h.logger.WarnContext(ctx, "CAP record rejected",
				"request_id", requestID,
				"error", err.Error(),
			)
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "failed to ingest CAP record",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to ingest CAP record"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, receiveCAPResponse{
		Status:    "CAP received",
		CAPID:     record.CAPID,
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
	})
}

// handleGetCAP returns a stored CAP record for auditors.
func (h *Handler) handleGetCAP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	capID := chi.URLParam(r, "capID")

	record, err := h.bridge.Get(ctx, capID)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeNotFound) {
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "failed to load CAP record",
			"request_id", middleware.GetRequestID(ctx),
			"cap_id", capID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to load CAP record"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, record)
}
