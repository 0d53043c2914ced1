package records

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/core/changeset"
	"github.com/frahmantamala/rental-management/internal/reconciliation"
	"github.com/google/uuid"
)

// PaymentReconciler re-derives a reservation's balance after its payments change.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, reservationID uuid.UUID) (reconciliation.Result, error)
}

// Mutation is a create, edit or delete of one record.
type Mutation struct {
	Action     Action
	Resource   ResourceType
	ResourceID *uuid.UUID
	Data       changeset.Record

	// KeepAttachments lists the current attachments to retain on edit. Nil keeps all of them.
	KeepAttachments []attachment.Attachment
	Uploads         []attachment.Upload

	// Staged marks a payload whose files were uploaded when it was submitted for review.
	// Data then carries the desired attachment list and Uploads is ignored.
	Staged bool
}

// Outcome is what an applied mutation produced. Reservations lists the
// reservations whose balance must be re-derived.
type Outcome struct {
	Record       changeset.Record `json:"record,omitempty"`
	Reservations []uuid.UUID      `json:"-"`
	Warnings     []string         `json:"warnings,omitempty"`
}

type Applier struct {
	store       StoreAPI
	attachments *attachment.Reconciler
	payments    PaymentReconciler
	logger      *slog.Logger
}

// NewApplier creates the applier that writes mutations and reconciles affected reservations
func NewApplier(store StoreAPI, attachments *attachment.Reconciler, payments PaymentReconciler, logger *slog.Logger) *Applier {
	return &Applier{
		store:       store,
		attachments: attachments,
		payments:    payments,
		logger:      logger,
	}
}

// Apply writes the mutation. It does not reconcile payments; callers run Settle
// once the write is durable.
func (a *Applier) Apply(ctx context.Context, m Mutation) (Outcome, error) {
	res, err := Lookup(m.Resource)
	if err != nil {
		return Outcome{}, err
	}

	switch m.Action {
	case ActionCreate:
		return a.create(ctx, res, m)
	case ActionEdit:
		if m.ResourceID == nil {
			return Outcome{}, errMissingID()
		}
		return a.edit(ctx, res, *m.ResourceID, m)
	case ActionDelete:
		if m.ResourceID == nil {
			return Outcome{}, errMissingID()
		}
		return a.delete(ctx, res, *m.ResourceID)
	default:
		_, err := ParseAction(string(m.Action))
		return Outcome{}, err
	}
}

func (a *Applier) create(ctx context.Context, res Resource, m Mutation) (Outcome, error) {
	data := res.Schema.Filter(m.Data)
	if err := res.Schema.Validate(data, true); err != nil {
		return Outcome{}, err
	}

	var uploaded []attachment.Attachment
	if field, ok := res.Schema.AttachmentField(); ok {
		switch {
		case m.Staged:
			list, err := attachment.Decode(m.Data[field.Name])
			if err != nil {
				return Outcome{}, invalidAttachments(err)
			}
			if list != nil {
				data[field.Name] = attachment.Dedupe(list)
			}
		case len(m.Uploads) > 0:
			result, err := a.attachments.Reconcile(ctx, nil, nil, m.Uploads, res.Folder)
			if err != nil {
				a.attachments.Discard(ctx, result.Final, nil)
				return Outcome{}, err
			}
			uploaded = result.Final
			data[field.Name] = uploaded
		}
	}

	rec, err := a.store.Create(ctx, res.Type, data)
	if err != nil {
		if len(uploaded) > 0 {
			a.attachments.Discard(ctx, uploaded, nil)
		}
		return Outcome{}, err
	}

	out := Outcome{Record: rec}
	switch res.Type {
	case ResourcePayment:
		out.Reservations = referencedReservations(rec)
	case ResourceReservation:
		out.Reservations = recordID(rec)
	}

	a.logger.Info("record created", "resource_type", res.Type, "id", rec["id"])
	return out, nil
}

func (a *Applier) edit(ctx context.Context, res Resource, id uuid.UUID, m Mutation) (Outcome, error) {
	current, err := a.store.FindByID(ctx, res.Type, id)
	if err != nil {
		return Outcome{}, err
	}

	changes := res.Schema.Filter(m.Data)
	if err := res.Schema.Validate(changes, false); err != nil {
		return Outcome{}, err
	}

	var uploadErr error
	if field, ok := res.Schema.AttachmentField(); ok {
		currentList, err := attachment.Decode(current[field.Name])
		if err != nil {
			return Outcome{}, invalidAttachments(err)
		}

		switch {
		case m.Staged:
			if raw, present := m.Data[field.Name]; present {
				desired, err := attachment.Decode(raw)
				if err != nil {
					return Outcome{}, invalidAttachments(err)
				}
				changes[field.Name] = a.attachments.Commit(ctx, currentList, desired).Final
			}
		case m.KeepAttachments != nil || len(m.Uploads) > 0:
			keep := m.KeepAttachments
			if keep == nil {
				keep = currentList
			}
			result, err := a.attachments.Reconcile(ctx, currentList, keep, m.Uploads, res.Folder)
			if err != nil {
				// Dropped blobs are already gone; the stored list must follow
				// even though the rest of the edit is abandoned.
				changes = changeset.Record{field.Name: result.Final}
				uploadErr = err
			} else {
				changes[field.Name] = result.Final
			}
		}
	}

	updated, err := a.store.Update(ctx, res.Type, id, changes)
	if err != nil {
		return Outcome{}, err
	}
	if uploadErr != nil {
		return Outcome{Record: updated}, uploadErr
	}

	out := Outcome{Record: updated}
	switch res.Type {
	case ResourcePayment:
		out.Reservations = uniqueIDs(append(referencedReservations(current), referencedReservations(updated)...))
	case ResourceReservation:
		if _, ok := changes["total"]; ok {
			out.Reservations = []uuid.UUID{id}
		}
	}

	a.logger.Info("record updated", "resource_type", res.Type, "id", id, "fields", len(changes))
	return out, nil
}

func (a *Applier) delete(ctx context.Context, res Resource, id uuid.UUID) (Outcome, error) {
	current, err := a.store.FindByID(ctx, res.Type, id)
	if err != nil {
		return Outcome{}, err
	}

	if field, ok := res.Schema.AttachmentField(); ok {
		list, err := attachment.Decode(current[field.Name])
		if err != nil {
			a.logger.Warn("record has unreadable attachments, skipping blob cleanup", "resource_type", res.Type, "id", id, "error", err)
		} else {
			a.attachments.Commit(ctx, list, nil)
		}
	}

	if err := a.store.Delete(ctx, res.Type, id); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Record: current}
	if res.Type == ResourcePayment {
		out.Reservations = referencedReservations(current)
	}

	a.logger.Info("record deleted", "resource_type", res.Type, "id", id)
	return out, nil
}

// Settle reconciles the reservations touched by an applied mutation. Failures
// never undo the write; they come back as warnings.
func (a *Applier) Settle(ctx context.Context, out Outcome) []string {
	var warnings []string
	for _, id := range out.Reservations {
		if _, err := a.payments.Reconcile(ctx, id); err != nil {
			a.logger.Error("payment reconciliation failed", "reservation_id", id, "error", err)
			warnings = append(warnings, fmt.Sprintf("payment reconciliation failed for reservation %s", id))
		}
	}
	return warnings
}

func referencedReservations(rec changeset.Record) []uuid.UUID {
	raw, ok := rec["reservation_id"].(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return nil
	}
	return []uuid.UUID{id}
}

func recordID(rec changeset.Record) []uuid.UUID {
	raw, _ := rec["id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return []uuid.UUID{id}
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func errMissingID() error {
	return internal.NewValidationFieldError("resource_id", "resource_id is required for edit and delete", internal.ErrCodeMissingResource)
}

func invalidAttachments(err error) error {
	return internal.NewValidationFieldError("attachments", "attachments must be a list of attachment descriptors", internal.ErrCodeInvalidPayload).WithCause(err)
}
