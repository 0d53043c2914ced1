package auth

import (
	"context"
	"strings"
)

// Role is the closed set of roles the approval workflow understands.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleManager
	RoleEmployee
)

// ParseRole maps a stored role name to a Role. Unrecognised names map to RoleUnknown.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin
	case "manager":
		return RoleManager
	case "employee":
		return RoleEmployee
	default:
		return RoleUnknown
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleManager:
		return "manager"
	case RoleEmployee:
		return "employee"
	default:
		return "unknown"
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role"`
}

type ctxKey string

const ContextActorKey ctxKey = "actor"

// WithActor stores the authenticated actor on the request context
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, ContextActorKey, actor)
}

// ActorFromContext returns the actor set by AuthMiddleware
func ActorFromContext(ctx context.Context) (*Actor, bool) {
	if ctx == nil {
		return nil, false
	}
	actor, ok := ctx.Value(ContextActorKey).(*Actor)
	return actor, ok && actor != nil
}
