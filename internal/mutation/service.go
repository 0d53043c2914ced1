// Package mutation is the entry point for client changes to business records.
// It asks the approval gate whether the actor may write directly and routes the
// change either to the records applier or into the approval queue.
package mutation

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/approval"
	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/auth"
	"github.com/frahmantamala/rental-management/internal/core/changeset"
	"github.com/frahmantamala/rental-management/internal/records"
	"github.com/google/uuid"
)

type Applier interface {
	Apply(ctx context.Context, m records.Mutation) (records.Outcome, error)
	Settle(ctx context.Context, out records.Outcome) []string
}

type Submitter interface {
	Submit(ctx context.Context, actor *auth.Actor, in approval.SubmitInput) (*approval.Request, error)
}

type RecordReader interface {
	FindByID(ctx context.Context, rt records.ResourceType, id uuid.UUID) (changeset.Record, error)
}

// GateDecision tells the client which path a mutation will take.
type GateDecision struct {
	Action           records.Action       `json:"action"`
	Resource         records.ResourceType `json:"resource"`
	RequiresApproval bool                 `json:"requires_approval"`
}

type Input struct {
	Action     records.Action
	Resource   records.ResourceType
	ResourceID *uuid.UUID
	Data       changeset.Record
	Reason     string

	// KeepAttachments is nil when the client left the attachment list alone.
	KeepAttachments []attachment.Attachment
	Uploads         []attachment.Upload
}

// Result is either an applied change or the approval request that now holds it.
type Result struct {
	Applied  bool
	Record   changeset.Record
	Warnings []string
	Request  *approval.Request
}

type Service struct {
	applier   Applier
	submitter Submitter
	records   RecordReader
	logger    *slog.Logger
}

// NewService creates the mutation entry point
func NewService(applier Applier, submitter Submitter, recordReader RecordReader, logger *slog.Logger) *Service {
	return &Service{
		applier:   applier,
		submitter: submitter,
		records:   recordReader,
		logger:    logger,
	}
}

// EvaluateGate validates the action and resource and reports whether the actor needs review
func (s *Service) EvaluateGate(actor *auth.Actor, action records.Action, resource records.ResourceType) (GateDecision, error) {
	if actor == nil {
		return GateDecision{}, internal.ErrUnauthorizedActor
	}
	action, err := records.ParseAction(string(action))
	if err != nil {
		return GateDecision{}, err
	}
	res, err := records.Lookup(resource)
	if err != nil {
		return GateDecision{}, err
	}
	return GateDecision{
		Action:           action,
		Resource:         res.Type,
		RequiresApproval: approval.RequiresApproval(actor, action, res.Type),
	}, nil
}

// Mutate applies the change directly when the gate allows it and otherwise
// files it for review.
func (s *Service) Mutate(ctx context.Context, actor *auth.Actor, in Input) (*Result, error) {
	gate, err := s.EvaluateGate(actor, in.Action, in.Resource)
	if err != nil {
		return nil, err
	}
	if gate.Action != records.ActionCreate && in.ResourceID == nil {
		return nil, internal.NewValidationFieldError("resource_id", "resource_id is required for edit and delete", internal.ErrCodeMissingResource)
	}

	if gate.RequiresApproval {
		req, err := s.submitter.Submit(ctx, actor, approval.SubmitInput{
			Action:          gate.Action,
			Resource:        gate.Resource,
			ResourceID:      in.ResourceID,
			Proposed:        in.Data,
			Reason:          in.Reason,
			KeepAttachments: in.KeepAttachments,
			Uploads:         in.Uploads,
		})
		if err != nil {
			return nil, err
		}
		return &Result{Request: req}, nil
	}

	out, err := s.applier.Apply(ctx, records.Mutation{
		Action:          gate.Action,
		Resource:        gate.Resource,
		ResourceID:      in.ResourceID,
		Data:            in.Data,
		KeepAttachments: in.KeepAttachments,
		Uploads:         in.Uploads,
	})
	if err != nil {
		s.logger.Warn("direct mutation failed",
			"actor_id", actor.ID,
			"action", gate.Action,
			"resource_type", gate.Resource,
			"error", err)
		return nil, err
	}

	warnings := append(out.Warnings, s.applier.Settle(ctx, out)...)
	s.logger.Info("mutation applied",
		"actor_id", actor.ID,
		"role", actor.Role,
		"action", gate.Action,
		"resource_type", gate.Resource,
		"warnings", len(warnings))

	return &Result{Applied: true, Record: out.Record, Warnings: warnings}, nil
}

// Get reads a record for any authenticated actor
func (s *Service) Get(ctx context.Context, actor *auth.Actor, resource records.ResourceType, id uuid.UUID) (changeset.Record, error) {
	if actor == nil {
		return nil, internal.ErrUnauthorizedActor
	}
	res, err := records.Lookup(resource)
	if err != nil {
		return nil, err
	}
	return s.records.FindByID(ctx, res.Type, id)
}
