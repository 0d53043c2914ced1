// Package approval defers mutations by lower-privilege actors until a reviewer
// approves or rejects them.
package approval

import (
	"context"
	"time"

	"github.com/frahmantamala/rental-management/internal"
	approvalDatamodel "github.com/frahmantamala/rental-management/internal/core/datamodel/approval"
	"github.com/google/uuid"
)

type Request = approvalDatamodel.ApprovalRequest

const (
	StatusPending  = approvalDatamodel.StatusPending
	StatusApproved = approvalDatamodel.StatusApproved
	StatusRejected = approvalDatamodel.StatusRejected
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision validates a review decision
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApprove, DecisionReject:
		return Decision(s), nil
	}
	return "", internal.NewValidationFieldError("decision", "decision must be approve or reject", internal.ErrCodeInvalidDecision)
}

// Status is the request status a decision moves to.
func (d Decision) Status() string {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type RepositoryAPI interface {
	Create(ctx context.Context, req *Request) error
	FindByID(ctx context.Context, id uuid.UUID) (*Request, error)
	FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*Request, error)
	// TransitionFromPending moves a pending request to status and reports whether it did.
	TransitionFromPending(ctx context.Context, id uuid.UUID, status string, reviewerID uuid.UUID, note string, at time.Time) (bool, error)
	// LinkResource records the id of the record an approved create produced.
	LinkResource(ctx context.Context, id, resourceID uuid.UUID) error
	ListByStatus(ctx context.Context, status string, page Page) ([]Request, int64, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID, page Page) ([]Request, int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

func alreadyReviewed(status string) error {
	switch status {
	case StatusApproved:
		return internal.ErrAlreadyApproved
	case StatusRejected:
		return internal.ErrAlreadyRejected
	default:
		return internal.ErrAlreadyReviewed
	}
}
