package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Details struct {
			Errors []struct {
				Field string `json:"field"`
			} `json:"errors"`
		} `json:"details"`
	} `json:"error"`
}

func decodeError(w *httptest.ResponseRecorder) errorBody {
	var body errorBody
	gomega.ExpectWithOffset(1, json.NewDecoder(w.Body).Decode(&body)).To(gomega.Succeed())
	return body
}

var _ = ginkgo.Describe("Auth Handler", func() {
	var (
		repo    *mockUserRepository
		handler *Handler
		router  *chi.Mux
	)

	ginkgo.BeforeEach(func() {
		repo = newMockUserRepository()
		tokens := NewJWTTokenGenerator("test-access-secret", "test-refresh-secret", 15*time.Minute, 24*time.Hour)
		handler = NewHandler(NewService(repo, tokens, bcrypt.MinCost))

		router = chi.NewRouter()
		router.Post("/auth/login", handler.Login)
		router.Post("/auth/refresh", handler.RefreshToken)
		router.Group(func(r chi.Router) {
			r.Use(handler.AuthMiddleware)
			r.Get("/users/me", handler.Me)
			r.With(handler.RequireRoles(RoleAdmin, RoleManager)).Get("/approvals", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		})
	})

	login := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
		return w
	}

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	tokenFor := func(email string) string {
		w := login(`{"email":"` + email + `","password":"correct_password"}`)
		gomega.ExpectWithOffset(1, w.Code).To(gomega.Equal(http.StatusOK))
		var tokens AuthTokens
		gomega.ExpectWithOffset(1, json.NewDecoder(w.Body).Decode(&tokens)).To(gomega.Succeed())
		return tokens.AccessToken
	}

	ginkgo.Describe("Login", func() {
		ginkgo.It("reports the missing field", func() {
			w := login(`{"email":"admin@example.com"}`)

			gomega.Expect(w.Code).To(gomega.Equal(http.StatusBadRequest))
			body := decodeError(w)
			gomega.Expect(body.Error.Code).To(gomega.Equal("VALIDATION_FAILED"))
			gomega.Expect(body.Error.Details.Errors).To(gomega.HaveLen(1))
			gomega.Expect(body.Error.Details.Errors[0].Field).To(gomega.Equal("password"))
		})

		ginkgo.It("rejects a malformed body", func() {
			w := login(`{"email":`)
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("INVALID_PAYLOAD"))
		})

		ginkgo.It("answers 401 for a wrong password", func() {
			w := login(`{"email":"admin@example.com","password":"nope"}`)
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("INVALID_CREDENTIALS"))
		})
	})

	ginkgo.Describe("RefreshToken", func() {
		ginkgo.It("requires the refresh token", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(`{}`)))
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("VALIDATION_FAILED"))
		})
	})

	ginkgo.Describe("AuthMiddleware", func() {
		ginkgo.It("requires a bearer token", func() {
			w := get("/users/me", "")
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("UNAUTHORIZED_ACTOR"))
		})

		ginkgo.It("resolves the actor with its current role", func() {
			w := get("/users/me", tokenFor("manager@example.com"))
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusOK))

			var actor struct {
				ID   string `json:"id"`
				Role string `json:"role"`
			}
			gomega.Expect(json.NewDecoder(w.Body).Decode(&actor)).To(gomega.Succeed())
			gomega.Expect(actor.ID).To(gomega.Equal("u-3"))
			gomega.Expect(actor.Role).To(gomega.Equal("manager"))
		})

		ginkgo.It("refuses a deactivated user holding a valid token", func() {
			token := tokenFor("admin@example.com")
			repo.inactive["u-2"] = true

			w := get("/users/me", token)
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusUnauthorized))
		})
	})

	ginkgo.Describe("RequireRoles", func() {
		ginkgo.It("lets reviewers through", func() {
			gomega.Expect(get("/approvals", tokenFor("admin@example.com")).Code).To(gomega.Equal(http.StatusNoContent))
		})

		ginkgo.It("forbids employees", func() {
			w := get("/approvals", tokenFor("employee@example.com"))
			gomega.Expect(w.Code).To(gomega.Equal(http.StatusForbidden))
			gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("FORBIDDEN"))
		})
	})
})
