package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/auth"
	"github.com/frahmantamala/rental-management/internal/core/changeset"
	"github.com/frahmantamala/rental-management/internal/core/database"
	"github.com/frahmantamala/rental-management/internal/core/events"
	"github.com/frahmantamala/rental-management/internal/records"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RecordReader interface {
	FindByID(ctx context.Context, rt records.ResourceType, id uuid.UUID) (changeset.Record, error)
}

type Applier interface {
	Apply(ctx context.Context, m records.Mutation) (records.Outcome, error)
	Settle(ctx context.Context, out records.Outcome) []string
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// SubmitInput is a mutation attempt that has to wait for review.
type SubmitInput struct {
	Action       records.Action
	Resource     records.ResourceType
	ResourceID   *uuid.UUID
	OriginalData changeset.Record
	Proposed     changeset.Record
	Reason       string

	// KeepAttachments is nil when the client did not touch the attachment list.
	KeepAttachments []attachment.Attachment
	Uploads         []attachment.Upload
}

// Resolution is a reviewed request plus what approving it produced.
type Resolution struct {
	Request  *Request
	Record   changeset.Record
	Warnings []string
}

type Service struct {
	repo        RepositoryAPI
	tx          database.TransactionManager
	records     RecordReader
	applier     Applier
	attachments *attachment.Reconciler
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates the approval request service
func NewService(
	repo RepositoryAPI,
	tx database.TransactionManager,
	recordReader RecordReader,
	applier Applier,
	attachments *attachment.Reconciler,
	publisher Publisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:        repo,
		tx:          tx,
		records:     recordReader,
		applier:     applier,
		attachments: attachments,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// Submit stores the mutation as a pending request. New files are uploaded now so
// the reviewer sees them; blobs the change would drop stay until approval.
func (s *Service) Submit(ctx context.Context, actor *auth.Actor, in SubmitInput) (*Request, error) {
	if actor == nil {
		return nil, internal.ErrUnauthorizedActor
	}
	requesterID, err := uuid.Parse(actor.ID)
	if err != nil {
		return nil, internal.ErrUnauthorizedActor
	}

	action, err := records.ParseAction(string(in.Action))
	if err != nil {
		return nil, err
	}
	res, err := records.Lookup(in.Resource)
	if err != nil {
		return nil, err
	}
	if action != records.ActionCreate && in.ResourceID == nil {
		return nil, internal.NewValidationFieldError("resource_id", "resource_id is required for edit and delete", internal.ErrCodeMissingResource)
	}

	original := in.OriginalData
	if original == nil && action != records.ActionCreate {
		original, err = s.records.FindByID(ctx, res.Type, *in.ResourceID)
		if err != nil {
			return nil, err
		}
	}

	var (
		newData changeset.Record
		staged  []attachment.Attachment
	)
	switch action {
	case records.ActionCreate:
		newData, staged, err = s.prepareCreate(ctx, res, in)
	case records.ActionEdit:
		newData, staged, err = s.prepareEdit(ctx, res, original, in)
	case records.ActionDelete:
		newData = nil
	}
	if err != nil {
		return nil, err
	}

	originalJSON, err := encodeRecord(original)
	if err != nil {
		s.attachments.Discard(ctx, staged, nil)
		return nil, err
	}
	newJSON, err := encodeRecord(newData)
	if err != nil {
		s.attachments.Discard(ctx, staged, nil)
		return nil, err
	}

	req := &Request{
		RequestedBy:  requesterID,
		ActionType:   string(action),
		ResourceType: string(res.Type),
		ResourceID:   in.ResourceID,
		OriginalData: originalJSON,
		NewData:      newJSON,
		Reason:       in.Reason,
		Status:       StatusPending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		s.logger.Error("failed to store approval request", "resource_type", res.Type, "action", action, "error", err)
		s.attachments.Discard(ctx, staged, nil)
		return nil, err
	}

	s.logger.Info("approval request submitted",
		"approval_id", req.ID,
		"requested_by", requesterID,
		"action", action,
		"resource_type", res.Type,
		"staged_files", len(staged))

	s.publish(ctx, events.EventTypeApprovalSubmitted, req, actor.ID)

	stored, err := s.repo.FindByIDWithRelations(ctx, req.ID)
	if err != nil {
		return req, nil
	}
	return stored, nil
}

func (s *Service) prepareCreate(ctx context.Context, res records.Resource, in SubmitInput) (changeset.Record, []attachment.Attachment, error) {
	data := res.Schema.Filter(in.Proposed)
	if err := res.Schema.Validate(data, true); err != nil {
		return nil, nil, err
	}

	field, ok := res.Schema.AttachmentField()
	if !ok || len(in.Uploads) == 0 {
		return data, nil, nil
	}

	result, err := s.attachments.Stage(ctx, nil, nil, in.Uploads, res.Folder)
	if err != nil {
		s.attachments.Discard(ctx, result.Final, nil)
		return nil, nil, err
	}
	data[field.Name] = result.Final
	return data, result.Final, nil
}

func (s *Service) prepareEdit(ctx context.Context, res records.Resource, original changeset.Record, in SubmitInput) (changeset.Record, []attachment.Attachment, error) {
	proposed := res.Schema.Filter(in.Proposed)
	if err := res.Schema.Validate(proposed, false); err != nil {
		return nil, nil, err
	}
	diff := changeset.ChangedFields(res.Schema, original, proposed)

	var staged []attachment.Attachment
	field, ok := res.Schema.AttachmentField()
	if ok && (in.KeepAttachments != nil || len(in.Uploads) > 0) {
		current, err := attachment.Decode(original[field.Name])
		if err != nil {
			return nil, nil, internal.NewValidationFieldError(field.Name, "stored attachments are unreadable", internal.ErrCodeInvalidPayload).WithCause(err)
		}
		keep := in.KeepAttachments
		if keep == nil {
			keep = current
		}

		result, err := s.attachments.Stage(ctx, current, keep, in.Uploads, res.Folder)
		if err != nil {
			s.attachments.Discard(ctx, result.Final, current)
			return nil, nil, err
		}
		if !attachment.SameRefs(current, result.Final) {
			diff[field.Name] = result.Final
			staged = attachment.Without(result.Final, current)
		}
	}

	if len(diff) == 0 {
		return nil, nil, internal.ErrNoChangesDetected
	}
	return diff, staged, nil
}

// Resolve approves or rejects a pending request. Approval applies the stored
// payload in the same transaction as the status change, so a failed apply
// leaves the request pending.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, decision Decision, reviewer *auth.Actor, note string) (*Resolution, error) {
	if reviewer == nil {
		return nil, internal.ErrUnauthorizedActor
	}
	if !CanReview(reviewer.Role) {
		return nil, internal.ErrForbidden
	}
	decision, err := ParseDecision(string(decision))
	if err != nil {
		return nil, err
	}
	reviewerID, err := uuid.Parse(reviewer.ID)
	if err != nil {
		return nil, internal.ErrUnauthorizedActor
	}

	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.IsPending() {
		return nil, alreadyReviewed(req.Status)
	}

	var outcome records.Outcome
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		moved, err := s.repo.TransitionFromPending(txCtx, id, decision.Status(), reviewerID, note, s.now())
		if err != nil {
			return err
		}
		if !moved {
			current, err := s.repo.FindByID(txCtx, id)
			if err != nil {
				return err
			}
			return alreadyReviewed(current.Status)
		}

		if decision != DecisionApprove {
			return nil
		}
		m, err := mutationFrom(req)
		if err != nil {
			return err
		}
		outcome, err = s.applier.Apply(txCtx, m)
		if err != nil {
			return err
		}
		if m.Action != records.ActionCreate {
			return nil
		}
		return s.linkCreated(txCtx, req, outcome.Record)
	})
	if err != nil {
		s.logger.Warn("approval request not resolved",
			"approval_id", id,
			"decision", decision,
			"reviewer_id", reviewer.ID,
			"error", err)
		return nil, err
	}

	resolution := &Resolution{Record: outcome.Record}
	eventType := events.EventTypeApprovalRejected
	if decision == DecisionApprove {
		eventType = events.EventTypeApprovalApproved
		resolution.Warnings = s.applier.Settle(ctx, outcome)
	} else {
		s.discardStaged(ctx, req)
	}

	s.logger.Info("approval request resolved",
		"approval_id", id,
		"decision", decision,
		"reviewer_id", reviewer.ID,
		"resource_type", req.ResourceType,
		"warnings", len(resolution.Warnings))

	req.Status = decision.Status()
	s.publish(ctx, eventType, req, reviewer.ID)

	stored, err := s.repo.FindByIDWithRelations(ctx, id)
	if err != nil {
		return nil, err
	}
	resolution.Request = stored
	return resolution, nil
}

// linkCreated points a create request at the record approving it produced.
func (s *Service) linkCreated(ctx context.Context, req *Request, rec changeset.Record) error {
	raw, _ := rec["id"].(string)
	created, err := uuid.Parse(raw)
	if err != nil {
		s.logger.Warn("created record has no id, request left unlinked", "approval_id", req.ID)
		return nil
	}
	if err := s.repo.LinkResource(ctx, req.ID, created); err != nil {
		return err
	}
	req.ResourceID = &created
	return nil
}

// discardStaged removes files uploaded for a request that will never be applied.
func (s *Service) discardStaged(ctx context.Context, req *Request) {
	res, err := records.Lookup(records.ResourceType(req.ResourceType))
	if err != nil {
		return
	}
	field, ok := res.Schema.AttachmentField()
	if !ok {
		return
	}

	newData, err := decodeRecord(req.NewData)
	if err != nil || newData == nil {
		return
	}
	staged, err := attachment.Decode(newData[field.Name])
	if err != nil || len(staged) == 0 {
		return
	}
	var original []attachment.Attachment
	if originalData, err := decodeRecord(req.OriginalData); err == nil && originalData != nil {
		original, _ = attachment.Decode(originalData[field.Name])
	}

	removed := s.attachments.Discard(ctx, staged, original)
	s.logger.Info("discarded staged attachments", "approval_id", req.ID, "count", len(removed))
}

// Get retrieves a request with access control: reviewers see any request, others only their own
func (s *Service) Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*Request, error) {
	if actor == nil {
		return nil, internal.ErrUnauthorizedActor
	}
	req, err := s.repo.FindByIDWithRelations(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanReview(actor.Role) && req.RequestedBy.String() != actor.ID {
		return nil, internal.ErrForbidden
	}
	return req, nil
}

// ListPending retrieves pending requests newest first
func (s *Service) ListPending(ctx context.Context, page Page) ([]Request, int64, error) {
	return s.repo.ListByStatus(ctx, StatusPending, page.Normalize())
}

// CountPending counts the requests awaiting review
func (s *Service) CountPending(ctx context.Context) (int64, error) {
	return s.repo.CountByStatus(ctx, StatusPending)
}

// ListMine retrieves the actor's own requests in every status
func (s *Service) ListMine(ctx context.Context, actor *auth.Actor, page Page) ([]Request, int64, error) {
	if actor == nil {
		return nil, 0, internal.ErrUnauthorizedActor
	}
	requesterID, err := uuid.Parse(actor.ID)
	if err != nil {
		return nil, 0, internal.ErrUnauthorizedActor
	}
	return s.repo.ListByRequester(ctx, requesterID, page.Normalize())
}

// Delete removes a request outright. Only admins may do this.
func (s *Service) Delete(ctx context.Context, actor *auth.Actor, id uuid.UUID) error {
	if actor == nil {
		return internal.ErrUnauthorizedActor
	}
	if actor.Role != auth.RoleAdmin {
		return internal.ErrForbidden
	}
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if req.IsPending() {
		s.discardStaged(ctx, req)
	}
	s.logger.Warn("approval request deleted", "approval_id", id, "admin_id", actor.ID, "status", req.Status)
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, req *Request, actorID string) {
	if s.publisher == nil {
		return
	}
	resourceID := ""
	if req.ResourceID != nil {
		resourceID = req.ResourceID.String()
	}
	event := events.NewApprovalEvent(eventType, req.ID.String(), req.ActionType, req.ResourceType, resourceID, actorID)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish approval event", "event_type", eventType, "approval_id", req.ID, "error", err)
	}
}

// mutationFrom rebuilds the mutation a request describes.
func mutationFrom(req *Request) (records.Mutation, error) {
	data, err := decodeRecord(req.NewData)
	if err != nil {
		return records.Mutation{}, internal.NewInternalError("stored approval payload is unreadable", err)
	}
	return records.Mutation{
		Action:     records.Action(req.ActionType),
		Resource:   records.ResourceType(req.ResourceType),
		ResourceID: req.ResourceID,
		Data:       data,
		Staged:     true,
	}, nil
}

func encodeRecord(rec changeset.Record) (datatypes.JSON, error) {
	if rec == nil {
		return nil, nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, internal.NewValidationError("payload cannot be stored", internal.ErrCodeInvalidPayload).WithCause(err)
	}
	return datatypes.JSON(raw), nil
}

// decodeRecord keeps numbers as json.Number so decimals survive the round trip.
func decodeRecord(raw datatypes.JSON) (changeset.Record, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec changeset.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, errors.Join(errors.New("decode approval payload"), err)
	}
	return rec, nil
}
