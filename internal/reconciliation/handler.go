package reconciliation

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/transport"
	"github.com/frahmantamala/rental-management/pkg/logger"
	"github.com/go-chi/chi"
	"github.com/google/uuid"
)

type ServiceAPI interface {
	Balance(ctx context.Context, reservationID uuid.UUID) (Result, error)
	Reconcile(ctx context.Context, reservationID uuid.UUID) (Result, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

// NewHandler creates the reservation balance HTTP handler
func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	result, err := h.Service.Balance(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	result, err := h.Service.Reconcile(r.Context(), id)
	if err != nil {
		logger.From(r.Context()).Error("Reconcile: failed", "reservation_id", id, "error", err)
		h.HandleError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) reservationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		h.WriteAppError(w, internal.NewValidationFieldError("id", "invalid reservation id", internal.ErrCodeMissingResource))
		return uuid.Nil, false
	}
	return id, true
}
