package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/rental-management/internal/approval"
	"github.com/frahmantamala/rental-management/internal/auth"
	"github.com/frahmantamala/rental-management/internal/mutation"
	"github.com/frahmantamala/rental-management/internal/reconciliation"
	"github.com/frahmantamala/rental-management/internal/transport/middleware"
	"github.com/frahmantamala/rental-management/internal/transport/swagger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// Handlers groups the HTTP handlers mounted under /api/v1. Nil handlers are skipped.
type Handlers struct {
	Auth           *auth.Handler
	Approval       *approval.Handler
	Mutation       *mutation.Handler
	Reconciliation *reconciliation.Handler
}

// RouterOptions configures the non-API routes.
type RouterOptions struct {
	AllowedOrigins string
	OpenAPI        *OpenAPISpec
	Uploads        http.FileSystem
	UploadsPrefix  string
	HealthChecks   map[string]CheckFunc
}

// RegisterAllRoutes mounts the middleware stack and every route on router
func RegisterAllRoutes(router *chi.Mux, db *sql.DB, h Handlers, opts RouterOptions, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db, opts.HealthChecks)

	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))

	if opts.OpenAPI != nil {
		router.Get("/openapi.yml", opts.OpenAPI.ServeHTTP)
		router.Handle("/swagger/*", swagger.Handler())
	}

	if opts.Uploads != nil && opts.UploadsPrefix != "" {
		prefix := opts.UploadsPrefix
		router.Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(opts.Uploads)))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if h.Auth == nil {
			return
		}

		r.Route("/auth", func(sr chi.Router) {
			sr.Post("/login", h.Auth.Login)
			sr.Post("/refresh", h.Auth.RefreshToken)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			pr.Get("/users/me", h.Auth.Me)

			if h.Mutation != nil {
				pr.Route("/resources/{resource}", func(rr chi.Router) {
					rr.Get("/gate", h.Mutation.Gate)
					rr.Post("/", h.Mutation.Create)
					rr.Get("/{id}", h.Mutation.Get)
					rr.Patch("/{id}", h.Mutation.Update)
					rr.Delete("/{id}", h.Mutation.Delete)
				})
			}

			if h.Approval != nil {
				pr.Route("/approvals", func(ar chi.Router) {
					ar.Get("/mine", h.Approval.ListMine)
					ar.Get("/{id}", h.Approval.Get)

					ar.Group(func(mr chi.Router) {
						mr.Use(h.Auth.RequireRoles(auth.RoleAdmin, auth.RoleManager))
						mr.Get("/", h.Approval.ListPending)
						mr.Get("/pending/count", h.Approval.CountPending)
						mr.Post("/{id}/approve", h.Approval.Approve)
						mr.Post("/{id}/reject", h.Approval.Reject)
					})

					ar.Group(func(admin chi.Router) {
						admin.Use(h.Auth.RequireRoles(auth.RoleAdmin))
						admin.Delete("/{id}", h.Approval.Delete)
					})
				})
			}

			if h.Reconciliation != nil {
				pr.Route("/reservations/{id}", func(rr chi.Router) {
					rr.Get("/balance", h.Reconciliation.GetBalance)
					rr.With(h.Auth.RequireRoles(auth.RoleAdmin, auth.RoleManager)).
						Post("/reconcile", h.Reconciliation.Reconcile)
				})
			}
		})
	})
}
