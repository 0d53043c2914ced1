package approval

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/auth"
	"github.com/frahmantamala/rental-management/internal/transport"
	"github.com/frahmantamala/rental-management/pkg/logger"
	"github.com/go-chi/chi"
	"github.com/google/uuid"
)

type ServiceAPI interface {
	Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*Request, error)
	Resolve(ctx context.Context, id uuid.UUID, decision Decision, reviewer *auth.Actor, note string) (*Resolution, error)
	ListPending(ctx context.Context, page Page) ([]Request, int64, error)
	CountPending(ctx context.Context) (int64, error)
	ListMine(ctx context.Context, actor *auth.Actor, page Page) ([]Request, int64, error)
	Delete(ctx context.Context, actor *auth.Actor, id uuid.UUID) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

// NewHandler creates the approval HTTP handler
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

// ListPending lists the review queue for managers and admins
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	requests, total, err := h.Service.ListPending(r.Context(), page)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToListResponse(requests, total, page.Normalize()))
}

func (h *Handler) CountPending(w http.ResponseWriter, r *http.Request) {
	count, err := h.Service.CountPending(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, CountResponse{Pending: count})
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())
	page := pageFromQuery(r)
	requests, total, err := h.Service.ListMine(r.Context(), actor, page)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToListResponse(requests, total, page.Normalize()))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	req, err := h.Service.Get(r.Context(), actor, id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToResponse(req))
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, DecisionApprove)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, DecisionReject)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, decision Decision) {
	id, ok := h.approvalID(w, r)
	if !ok {
		return
	}

	var dto ReviewDTO
	if !h.DecodeJSON(w, r, &dto, true) {
		return
	}

	actor, _ := auth.ActorFromContext(r.Context())
	resolution, err := h.Service.Resolve(r.Context(), id, decision, actor, dto.Note)
	if err != nil {
		logger.From(r.Context()).Warn("resolve approval failed", "approval_id", id, "decision", decision, "error", err)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ResolutionResponse{
		Request:  ToResponse(resolution.Request),
		Record:   resolution.Record,
		Warnings: resolution.Warnings,
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	if err := h.Service.Delete(r.Context(), actor, id); err != nil {
		h.HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) approvalID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.WriteAppError(w, internal.NewValidationFieldError("id", "invalid approval request id", internal.ErrCodeValidationFailed))
		return uuid.Nil, false
	}
	return id, true
}

func pageFromQuery(r *http.Request) Page {
	var page Page
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		page.Limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		page.Offset = o
	}
	return page
}
