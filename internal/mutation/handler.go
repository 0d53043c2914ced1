package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/auth"
	"github.com/frahmantamala/rental-management/internal/core/changeset"
	"github.com/frahmantamala/rental-management/internal/records"
	"github.com/frahmantamala/rental-management/internal/transport"
	"github.com/frahmantamala/rental-management/pkg/logger"
	"github.com/go-chi/chi"
	"github.com/google/uuid"
)

const defaultMaxUploadBytes = 20 << 20

type ServiceAPI interface {
	EvaluateGate(actor *auth.Actor, action records.Action, resource records.ResourceType) (GateDecision, error)
	Mutate(ctx context.Context, actor *auth.Actor, in Input) (*Result, error)
	Get(ctx context.Context, actor *auth.Actor, resource records.ResourceType, id uuid.UUID) (changeset.Record, error)
}

type Handler struct {
	*transport.BaseHandler
	Service        ServiceAPI
	MaxUploadBytes int64
}

// NewHandler creates the mutation HTTP handler. Multipart bodies are capped at maxUploadBytes
func NewHandler(service ServiceAPI, maxUploadBytes int64) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		BaseHandler:    transport.NewBaseHandler(lg),
		Service:        service,
		MaxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, records.ActionCreate, false)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, records.ActionEdit, true)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, records.ActionDelete, true)
}

// Gate reports whether the caller's change would be applied or queued.
func (h *Handler) Gate(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())
	action := records.Action(r.URL.Query().Get("action"))
	decision, err := h.Service.EvaluateGate(actor, action, records.ResourceType(chi.URLParam(r, "resource")))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, decision)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	resource := chi.URLParam(r, "resource")

	rec, err := h.Service.Get(r.Context(), actor, records.ResourceType(resource), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, RecordResponse{Resource: resource, Record: rec})
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, action records.Action, needsID bool) {
	in := Input{
		Action:   action,
		Resource: records.ResourceType(chi.URLParam(r, "resource")),
	}
	if needsID {
		id, ok := h.resourceID(w, r)
		if !ok {
			return
		}
		in.ResourceID = &id
	}

	closeFiles, err := h.decodeInput(w, r, &in)
	defer closeFiles()
	if err != nil {
		h.HandleError(w, err)
		return
	}

	actor, _ := auth.ActorFromContext(r.Context())
	result, err := h.Service.Mutate(r.Context(), actor, in)
	if err != nil {
		logger.From(r.Context()).Warn("mutation failed",
			"action", action,
			"resource_type", in.Resource,
			"error", err)
		h.HandleError(w, err)
		return
	}

	status := http.StatusOK
	switch {
	case !result.Applied:
		status = http.StatusAccepted
	case action == records.ActionCreate:
		status = http.StatusCreated
	}
	h.WriteJSON(w, status, ToMutationResponse(result))
}

// decodeInput reads a multipart or JSON body into in. The returned func closes
// any uploaded file handles and is always safe to call.
func (h *Handler) decodeInput(w http.ResponseWriter, r *http.Request, in *Input) (func(), error) {
	noop := func() {}
	in.Reason = r.URL.Query().Get("reason")
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return h.decodeMultipart(r, in)
	}

	var body MutationRequest
	if err := decodeJSON(r.Body, &body); err != nil && !errors.Is(err, io.EOF) {
		return noop, invalidBody(err)
	}
	in.Data = body.Data
	in.KeepAttachments = body.KeepAttachments
	if body.Reason != "" {
		in.Reason = body.Reason
	}
	return noop, nil
}

func (h *Handler) decodeMultipart(r *http.Request, in *Input) (func(), error) {
	noop := func() {}
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		return noop, invalidBody(err)
	}

	form := r.MultipartForm
	if raw := form.Value["payload"]; len(raw) > 0 && raw[0] != "" {
		if err := decodeJSON(strings.NewReader(raw[0]), &in.Data); err != nil {
			return noop, internal.NewValidationFieldError("payload", "payload must be a JSON object", internal.ErrCodeInvalidPayload).WithCause(err)
		}
	}
	if raw := form.Value["keep_attachments"]; len(raw) > 0 && raw[0] != "" {
		keep := []attachment.Attachment{}
		if err := json.Unmarshal([]byte(raw[0]), &keep); err != nil {
			return noop, internal.NewValidationFieldError("keep_attachments", "keep_attachments must be a list of attachment descriptors", internal.ErrCodeInvalidPayload).WithCause(err)
		}
		in.KeepAttachments = keep
	}
	if raw := form.Value["reason"]; len(raw) > 0 && raw[0] != "" {
		in.Reason = raw[0]
	}

	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
		_ = form.RemoveAll()
	}
	for _, header := range form.File["files"] {
		f, err := header.Open()
		if err != nil {
			return closeAll, invalidBody(err)
		}
		opened = append(opened, f)
		in.Uploads = append(in.Uploads, attachment.Upload{
			Filename:    header.Filename,
			Size:        header.Size,
			ContentType: header.Header.Get("Content-Type"),
			Body:        f,
		})
	}
	return closeAll, nil
}

func (h *Handler) resourceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.WriteAppError(w, internal.NewValidationFieldError("resource_id", "invalid resource id", internal.ErrCodeMissingResource))
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON keeps numbers as json.Number so decimal amounts are not rounded.
func decodeJSON(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

func invalidBody(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return internal.NewValidationError("request body is too large", internal.ErrCodeInvalidPayload).WithCause(err)
	}
	return internal.NewValidationError("invalid request body", internal.ErrCodeInvalidPayload).WithCause(err)
}
