package approval

import (
	"github.com/frahmantamala/rental-management/internal/auth"
	"github.com/frahmantamala/rental-management/internal/records"
)

// RequiresApproval decides whether a mutation must be deferred for review.
// Admins and managers apply directly; every other role, including an unknown
// one, goes through review. The resource type does not change the verdict yet.
func RequiresApproval(actor *auth.Actor, _ records.Action, _ records.ResourceType) bool {
	if actor == nil {
		return true
	}
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleManager:
		return false
	case auth.RoleEmployee:
		return true
	default:
		// Unknown or future roles fail closed.
		return true
	}
}

// CanReview reports whether a role may approve or reject requests.
func CanReview(role auth.Role) bool {
	return role == auth.RoleAdmin || role == auth.RoleManager
}
