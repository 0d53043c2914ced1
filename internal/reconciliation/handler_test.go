package reconciliation

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/frahmantamala/rental-management/internal/core/datamodel/reservation"
	"github.com/go-chi/chi"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("Handler", func() {
	var (
		repo   *fakeRepository
		router *chi.Mux
		resID  uuid.UUID
	)

	BeforeEach(func() {
		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
		repo = newFakeRepository()
		resID = uuid.New()
		repo.totals[resID] = dec("200")
		repo.payments[resID] = amounts("80")

		handler := NewHandler(NewEngine(repo, &recordingPublisher{}, quiet))
		handler.BaseHandler.Logger = quiet

		router = chi.NewRouter()
		router.Get("/reservations/{id}/balance", handler.GetBalance)
		router.Post("/reservations/{id}/reconcile", handler.Reconcile)
	})

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	decodeResult := func(w *httptest.ResponseRecorder) Result {
		var result Result
		ExpectWithOffset(1, json.NewDecoder(w.Body).Decode(&result)).To(Succeed())
		return result
	}

	errorCode := func(w *httptest.ResponseRecorder) string {
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		ExpectWithOffset(1, json.NewDecoder(w.Body).Decode(&body)).To(Succeed())
		return body.Error.Code
	}

	It("reports the balance without persisting it", func() {
		w := do(http.MethodGet, "/reservations/"+resID.String()+"/balance")
		Expect(w.Code).To(Equal(http.StatusOK))

		result := decodeResult(w)
		Expect(result.ReservationID).To(Equal(resID))
		Expect(result.TotalPaid.Equal(decimal.NewFromInt(80))).To(BeTrue())
		Expect(result.RemainingBalance.Equal(decimal.NewFromInt(120))).To(BeTrue())
		Expect(result.PaymentStatus).To(Equal(reservation.PaymentStatusPartiallyPaid))
		Expect(repo.saved).To(BeEmpty())
	})

	It("reconciles and persists the derived fields", func() {
		repo.payments[resID] = amounts("80", "120")

		w := do(http.MethodPost, "/reservations/"+resID.String()+"/reconcile")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decodeResult(w).PaymentStatus).To(Equal(reservation.PaymentStatusPaid))
		Expect(repo.saved[resID].PaymentStatus).To(Equal(reservation.PaymentStatusPaid))
	})

	It("answers 404 for an unknown reservation", func() {
		w := do(http.MethodGet, "/reservations/"+uuid.NewString()+"/balance")
		Expect(w.Code).To(Equal(http.StatusNotFound))
		Expect(errorCode(w)).To(Equal("RESOURCE_NOT_FOUND"))
	})

	It("answers 400 for a malformed reservation id", func() {
		w := do(http.MethodPost, "/reservations/abc/reconcile")
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(repo.saved).To(BeEmpty())
	})

	It("hides storage failures behind INTERNAL_ERROR", func() {
		repo.failTotal[resID] = true

		w := do(http.MethodPost, "/reservations/"+resID.String()+"/reconcile")
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(errorCode(w)).To(Equal("INTERNAL_ERROR"))
		Expect(w.Body.String()).NotTo(ContainSubstring("connection reset"))
	})
})
