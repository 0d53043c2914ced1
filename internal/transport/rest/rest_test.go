package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/frahmantamala/rental-management/internal/approval"
	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/auth"
	"github.com/frahmantamala/rental-management/internal/mutation"
	"github.com/frahmantamala/rental-management/internal/reconciliation"
	"github.com/frahmantamala/rental-management/internal/transport/rest"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"
)

func TestRest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Rest Suite")
}

const specPath = "../../../api/openapi.yml"

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var _ = Describe("OpenAPI contract", func() {
	var spec *rest.OpenAPISpec

	BeforeEach(func() {
		var err error
		spec, err = rest.LoadOpenAPISpec(context.Background(), specPath)
		Expect(err).NotTo(HaveOccurred())
	})

	It("documents every API route the router serves", func() {
		router := chi.NewRouter()
		rest.RegisterAllRoutes(router, nil, rest.Handlers{
			Auth:           auth.NewHandler(nil),
			Approval:       approval.NewHandler(nil),
			Mutation:       mutation.NewHandler(nil, 0),
			Reconciliation: reconciliation.NewHandler(nil),
		}, rest.RouterOptions{OpenAPI: spec}, quietLogger)

		var walked int
		err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			if !strings.HasPrefix(route, "/api/v1/") {
				return nil
			}
			path := strings.TrimSuffix(strings.TrimPrefix(route, "/api/v1"), "/")
			item := spec.Doc.Paths.Value(path)
			if item == nil {
				return errors.New("undocumented path " + path)
			}
			if item.GetOperation(method) == nil {
				return errors.New("undocumented operation " + method + " " + path)
			}
			walked++
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(walked).To(BeNumerically(">=", 17))
	})

	It("serves the document it loaded", func() {
		router := chi.NewRouter()
		rest.RegisterAllRoutes(router, nil, rest.Handlers{}, rest.RouterOptions{OpenAPI: spec}, quietLogger)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi.yml", nil))
		Expect(w.Code).To(Equal(http.StatusOK))

		raw, err := os.ReadFile(specPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Body.String()).To(Equal(string(raw)))
	})

	It("refuses a broken document", func() {
		path := GinkgoT().TempDir() + "/broken.yml"
		Expect(os.WriteFile(path, []byte("openapi: 3.0.3\ninfo: {}\npaths: {}\n"), 0o600)).To(Succeed())

		_, err := rest.LoadOpenAPISpec(context.Background(), path)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Router", func() {
	It("reports each dependency in the health check", func() {
		router := chi.NewRouter()
		rest.RegisterAllRoutes(router, nil, rest.Handlers{}, rest.RouterOptions{
			HealthChecks: map[string]rest.CheckFunc{
				"storage": func(context.Context) error { return errors.New("disk gone") },
				"cache":   func(context.Context) error { return nil },
			},
		}, quietLogger)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))

		var resp rest.HealthResponse
		Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
		Expect(resp.Status).To(Equal(rest.HealthUnhealthy))
		Expect(resp.Components["storage"].Message).To(Equal("disk gone"))
		Expect(resp.Components["cache"].Status).To(Equal(rest.HealthHealthy))
	})

	It("serves stored attachments under the uploads prefix", func() {
		fs := afero.NewMemMapFs()
		Expect(afero.WriteFile(fs, "/data/customers/ktp.txt", []byte("id card"), 0o644)).To(Succeed())
		store := attachment.NewFileStore(fs, "/data", "/uploads", time.Second)

		router := chi.NewRouter()
		rest.RegisterAllRoutes(router, nil, rest.Handlers{}, rest.RouterOptions{
			Uploads:       store.FileSystem(),
			UploadsPrefix: "/uploads",
		}, quietLogger)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/uploads/customers/ktp.txt", nil))
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("id card"))
	})

	preflight := func(allowed, origin string) *httptest.ResponseRecorder {
		router := chi.NewRouter()
		rest.RegisterAllRoutes(router, nil, rest.Handlers{}, rest.RouterOptions{AllowedOrigins: allowed}, quietLogger)

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/ping", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("answers CORS preflight requests from allowed origins", func() {
		w := preflight("https://app.example.com, https://admin.example.com", "https://app.example.com")

		Expect(w.Code).To(BeNumerically("<", 300))
		Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://app.example.com"))
		Expect(w.Header().Get("Access-Control-Allow-Methods")).To(Equal(http.MethodPost))
	})

	It("does not allow unknown origins", func() {
		w := preflight("https://app.example.com", "https://evil.example.com")
		Expect(w.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})

	It("allows no cross-origin requests when the origin list is empty", func() {
		w := preflight("", "https://app.example.com")
		Expect(w.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})
})
