package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/transport"
	"github.com/frahmantamala/rental-management/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

// NewHandler creates the auth HTTP handler
func NewHandler(svc ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if !h.DecodeJSON(w, r, &dto, false) {
		return
	}

	tokens, err := h.Service.Authenticate(r.Context(), dto)
	if err != nil {
		h.writeAuthError(w, "authentication failed", err)
		return
	}

	h.WriteJSON(w, http.StatusOK, tokens)
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var dto RefreshTokenDTO
	if !h.DecodeJSON(w, r, &dto, false) {
		return
	}

	if err := dto.Validate(); err != nil {
		h.HandleError(w, err)
		return
	}

	tokens, err := h.Service.RefreshTokens(r.Context(), dto.RefreshToken)
	if err != nil {
		h.writeAuthError(w, "token refresh failed", err)
		return
	}

	h.WriteJSON(w, http.StatusOK, tokens)
}

// writeAuthError maps the package sentinels onto their API errors.
func (h *Handler) writeAuthError(w http.ResponseWriter, msg string, err error) {
	h.Logger.Warn(msg, "error", err)

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		h.WriteAppError(w, internal.ErrInvalidCredentials)
	case errors.Is(err, ErrUserInactive):
		h.WriteAppError(w, internal.ErrUserInactive)
	case errors.Is(err, ErrTokenExpired):
		h.WriteAppError(w, internal.ErrTokenExpired)
	case errors.Is(err, ErrInvalidToken):
		h.WriteAppError(w, internal.ErrInvalidToken)
	default:
		h.HandleError(w, err)
	}
}

// AuthMiddleware resolves the bearer token into an Actor carrying the user's current role.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.Logger.Warn("auth middleware: missing authorization token", "path", r.URL.Path)
			h.WriteAppError(w, internal.ErrUnauthorizedActor)
			return
		}

		claims, err := h.Service.ValidateAccessToken(token)
		if err != nil {
			h.Logger.Warn("token validation failed", "error", err)
			if errors.Is(err, ErrTokenExpired) {
				h.WriteAppError(w, internal.ErrTokenExpired)
				return
			}
			h.WriteAppError(w, internal.ErrInvalidToken)
			return
		}

		actor, err := h.Service.ResolveActor(r.Context(), claims.UserID)
		if err != nil {
			h.Logger.Warn("auth middleware: failed to resolve actor", "user_id", claims.UserID, "error", err)
			h.WriteAppError(w, internal.ErrUnauthorizedActor)
			return
		}

		ctx := WithActor(r.Context(), actor)
		ctx = logger.WithActor(ctx, actor.ID, actor.Role.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles rejects actors whose role is not listed.
func (h *Handler) RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				h.WriteAppError(w, internal.ErrUnauthorizedActor)
				return
			}

			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.From(r.Context()).Warn("access denied: role not allowed",
				"actor_id", actor.ID,
				"role", actor.Role.String(),
				"path", r.URL.Path)
			h.WriteAppError(w, internal.ErrForbidden)
		})
	}
}

// Me returns the authenticated actor.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrUnauthorizedActor)
		return
	}
	h.WriteJSON(w, http.StatusOK, actor)
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
