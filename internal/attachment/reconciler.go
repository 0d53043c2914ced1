package attachment

import (
	"context"
	"log/slog"
	"time"

	"github.com/frahmantamala/rental-management/internal"
)

// Result is the outcome of reconciling a record's attachment list.
type Result struct {
	Deleted []Attachment `json:"deleted"`
	Final   []Attachment `json:"final"`
}

// Reconciler decides which blobs to upload and delete when an attachment list is replaced.
type Reconciler struct {
	store  BlobStore
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates an attachment reconciler over store
func NewReconciler(store BlobStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Plan splits current into the entries referenced by keep and the ones to delete.
// Kept entries retain their order in current and appear once.
func Plan(current, keep []Attachment) (kept, deleted []Attachment) {
	wanted := refSet(keep)
	kept = make([]Attachment, 0, len(current))
	deleted = make([]Attachment, 0)
	seen := make(map[string]struct{}, len(current))
	for _, a := range current {
		if _, ok := wanted[a.Ref()]; !ok {
			deleted = append(deleted, a)
			continue
		}
		if _, dup := seen[a.Ref()]; dup {
			continue
		}
		seen[a.Ref()] = struct{}{}
		kept = append(kept, a)
	}
	return kept, deleted
}

// Reconcile deletes the blobs dropped from current, uploads the new files and
// returns the final list: kept entries first, then the uploads in order.
// Delete failures are logged and skipped. An upload failure stops the batch and
// is returned together with the entries that made it.
func (r *Reconciler) Reconcile(ctx context.Context, current, keep []Attachment, uploads []Upload, folder string) (Result, error) {
	kept, deleted := Plan(current, keep)
	r.purge(ctx, deleted)

	final, err := r.uploadAll(ctx, kept, uploads, folder)
	return Result{Deleted: deleted, Final: final}, err
}

// Stage uploads the new files but leaves the blobs of dropped entries in place.
// Used when the list change is deferred for review.
func (r *Reconciler) Stage(ctx context.Context, current, keep []Attachment, uploads []Upload, folder string) (Result, error) {
	kept, deleted := Plan(current, keep)

	final, err := r.uploadAll(ctx, kept, uploads, folder)
	return Result{Deleted: deleted, Final: final}, err
}

// Commit replaces current with desired, deleting the blobs desired no longer references.
func (r *Reconciler) Commit(ctx context.Context, current, desired []Attachment) Result {
	deleted := Without(current, desired)
	r.purge(ctx, deleted)
	return Result{Deleted: deleted, Final: Dedupe(desired)}
}

// Discard removes blobs that were staged for a change that will never be applied.
func (r *Reconciler) Discard(ctx context.Context, staged, original []Attachment) []Attachment {
	orphans := Without(staged, original)
	r.purge(ctx, orphans)
	return orphans
}

func (r *Reconciler) uploadAll(ctx context.Context, kept []Attachment, uploads []Upload, folder string) ([]Attachment, error) {
	final := make([]Attachment, 0, len(kept)+len(uploads))
	final = append(final, kept...)

	for i, file := range uploads {
		obj, err := r.store.Upload(ctx, file, folder)
		if err != nil {
			r.logger.Error("attachment upload failed",
				"filename", file.Filename,
				"folder", folder,
				"uploaded", i,
				"remaining", len(uploads)-i,
				"error", err)
			if _, ok := internal.IsAppError(err); ok {
				return Dedupe(final), err
			}
			return Dedupe(final), internal.NewStorageError("failed to upload "+file.Filename, err)
		}

		ref := obj.URL
		if ref == "" {
			ref = obj.Pathname
		}
		final = append(final, Attachment{
			Name:       file.Filename,
			URL:        ref,
			Size:       file.Size,
			Type:       TypeFromFilename(file.Filename),
			UploadedAt: r.now().UTC(),
		})
	}

	return Dedupe(final), nil
}

func (r *Reconciler) purge(ctx context.Context, list []Attachment) {
	for _, a := range list {
		if err := r.store.Delete(ctx, a.Ref()); err != nil {
			r.logger.Warn("attachment delete failed, skipping",
				"ref", a.Ref(),
				"name", a.Name,
				"error", err)
			continue
		}
		r.logger.Debug("attachment deleted", "ref", a.Ref())
	}
}
