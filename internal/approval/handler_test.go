package approval

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/auth"
	"github.com/frahmantamala/rental-management/internal/core/changeset"
	"github.com/frahmantamala/rental-management/internal/records"
	"github.com/go-chi/chi"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	ExpectWithOffset(1, json.NewDecoder(w.Body).Decode(&body)).To(Succeed())
	return body.Error.Code
}

var _ = Describe("Handler", func() {
	var (
		repo     *fakeRepository
		applier  *fakeApplier
		router   *chi.Mux
		actor    *auth.Actor
		employee *auth.Actor
		manager  *auth.Actor
		admin    *auth.Actor
		pending  *Request
	)

	BeforeEach(func() {
		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
		repo = newFakeRepository()
		customerID := uuid.New()
		store := &fakeRecords{records: map[uuid.UUID]changeset.Record{
			customerID: {"id": customerID.String(), "name": "Rina", "phone": "0812"},
		}}
		applier = &fakeApplier{}
		service := NewService(repo, &fakeTx{repo: repo}, store, applier,
			attachment.NewReconciler(&memoryBlobStore{}, quiet), &recordingPublisher{}, quiet)

		employee = &auth.Actor{ID: uuid.NewString(), Role: auth.RoleEmployee}
		manager = &auth.Actor{ID: uuid.NewString(), Role: auth.RoleManager}
		admin = &auth.Actor{ID: uuid.NewString(), Role: auth.RoleAdmin}

		var err error
		pending, err = service.Submit(context.Background(), employee, SubmitInput{
			Action:     records.ActionEdit,
			Resource:   records.ResourceCustomer,
			ResourceID: &customerID,
			Proposed:   changeset.Record{"phone": "0899"},
		})
		Expect(err).NotTo(HaveOccurred())

		handler := NewHandler(service)
		handler.BaseHandler.Logger = quiet
		roles := auth.NewHandler(nil)
		roles.BaseHandler.Logger = quiet

		actor = manager
		router = chi.NewRouter()
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
			})
		})
		router.Route("/approvals", func(ar chi.Router) {
			ar.Get("/mine", handler.ListMine)
			ar.Group(func(mr chi.Router) {
				mr.Use(roles.RequireRoles(auth.RoleAdmin, auth.RoleManager))
				mr.Get("/", handler.ListPending)
				mr.Get("/pending/count", handler.CountPending)
				mr.Post("/{id}/approve", handler.Approve)
				mr.Post("/{id}/reject", handler.Reject)
			})
			ar.With(roles.RequireRoles(auth.RoleAdmin)).Delete("/{id}", handler.Delete)
		})
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, reader))
		return w
	}

	review := func(decision string) *httptest.ResponseRecorder {
		return do(http.MethodPost, "/approvals/"+pending.ID.String()+"/"+decision, "")
	}

	It("approves a pending request and returns it with the applied record", func() {
		w := do(http.MethodPost, "/approvals/"+pending.ID.String()+"/approve", `{"note":"ok"}`)
		Expect(w.Code).To(Equal(http.StatusOK))

		var resp ResolutionResponse
		Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
		Expect(resp.Request.Status).To(Equal(StatusApproved))
		Expect(resp.Request.ReviewNote).To(Equal("ok"))
		Expect(resp.Record).To(HaveKeyWithValue("applied", true))
		Expect(applier.applied).To(HaveLen(1))
	})

	It("tells an approved request apart from a rejected one on a second review", func() {
		Expect(review("approve").Code).To(Equal(http.StatusOK))

		w := review("reject")
		Expect(w.Code).To(Equal(http.StatusConflict))
		Expect(errorCode(w)).To(Equal("ALREADY_APPROVED"))
	})

	It("reports ALREADY_REJECTED after a rejection", func() {
		Expect(review("reject").Code).To(Equal(http.StatusOK))

		w := review("approve")
		Expect(w.Code).To(Equal(http.StatusConflict))
		Expect(errorCode(w)).To(Equal("ALREADY_REJECTED"))
		Expect(applier.applied).To(BeEmpty())
	})

	It("forbids employees from reviewing", func() {
		actor = employee

		w := review("approve")
		Expect(w.Code).To(Equal(http.StatusForbidden))
		Expect(errorCode(w)).To(Equal("FORBIDDEN"))

		stored, err := repo.FindByID(context.Background(), pending.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(StatusPending))
	})

	It("answers 404 for an unknown request and 400 for a malformed id", func() {
		w := do(http.MethodPost, "/approvals/"+uuid.NewString()+"/approve", "")
		Expect(w.Code).To(Equal(http.StatusNotFound))
		Expect(errorCode(w)).To(Equal("APPROVAL_NOT_FOUND"))

		w = do(http.MethodPost, "/approvals/42/approve", "")
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(w)).To(Equal("VALIDATION_FAILED"))
	})

	It("rejects a malformed review body", func() {
		w := do(http.MethodPost, "/approvals/"+pending.ID.String()+"/reject", `{"note":`)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(w)).To(Equal("INVALID_PAYLOAD"))
	})

	It("counts pending requests", func() {
		w := do(http.MethodGet, "/approvals/pending/count", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"pending":1}`))

		Expect(review("approve").Code).To(Equal(http.StatusOK))
		Expect(do(http.MethodGet, "/approvals/pending/count", "").Body.String()).To(MatchJSON(`{"pending":0}`))
	})

	It("lists the caller's own requests", func() {
		actor = employee
		w := do(http.MethodGet, "/approvals/mine", "")
		Expect(w.Code).To(Equal(http.StatusOK))

		var list ListResponse
		Expect(json.NewDecoder(w.Body).Decode(&list)).To(Succeed())
		Expect(list.Total).To(Equal(int64(1)))
		Expect(list.Items[0].ID).To(Equal(pending.ID.String()))
	})

	It("lets only admins delete a request", func() {
		w := do(http.MethodDelete, "/approvals/"+pending.ID.String(), "")
		Expect(w.Code).To(Equal(http.StatusForbidden))

		actor = admin
		Expect(do(http.MethodDelete, "/approvals/"+pending.ID.String(), "").Code).To(Equal(http.StatusNoContent))

		w = review("approve")
		Expect(w.Code).To(Equal(http.StatusNotFound))
		Expect(errorCode(w)).To(Equal("APPROVAL_NOT_FOUND"))
	})
})
