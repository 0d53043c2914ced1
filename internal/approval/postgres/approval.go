package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/approval"
	"github.com/frahmantamala/rental-management/internal/core/database"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
)

// ApprovalRepository implements approval.RepositoryAPI with gorm, using sqlx
// for the pending-count query that the UI polls.
type ApprovalRepository struct {
	db           *gorm.DB
	sqlx         *sqlx.DB
	queryTimeout time.Duration
}

// NewApprovalRepository creates the approval request repository
func NewApprovalRepository(db *gorm.DB, sqlxDB *sqlx.DB, queryTimeout time.Duration) *ApprovalRepository {
	return &ApprovalRepository{db: db, sqlx: sqlxDB, queryTimeout: queryTimeout}
}

func (r *ApprovalRepository) Create(ctx context.Context, req *approval.Request) error {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	if err := database.GetDB(ctx, r.db).Create(req).Error; err != nil {
		return internal.NewStorageError("failed to store approval request", err)
	}
	return nil
}

func (r *ApprovalRepository) FindByID(ctx context.Context, id uuid.UUID) (*approval.Request, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var req approval.Request
	if err := database.GetDB(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &req, nil
}

func (r *ApprovalRepository) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*approval.Request, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var req approval.Request
	err := database.GetDB(ctx, r.db).
		Preload("Requester").
		Preload("Reviewer").
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &req, nil
}

// TransitionFromPending is a conditional update: of two concurrent reviews only
// one matches the pending row.
func (r *ApprovalRepository) TransitionFromPending(ctx context.Context, id uuid.UUID, status string, reviewerID uuid.UUID, note string, at time.Time) (bool, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	result := database.GetDB(ctx, r.db).
		Model(&approval.Request{}).
		Where("id = ? AND status = ?", id, approval.StatusPending).
		Updates(map[string]interface{}{
			"status":      status,
			"reviewed_by": reviewerID,
			"review_note": note,
			"reviewed_at": at,
			"updated_at":  at,
		})
	if result.Error != nil {
		return false, internal.NewStorageError("failed to update approval request", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// LinkResource sets the resource id of a request
func (r *ApprovalRepository) LinkResource(ctx context.Context, id, resourceID uuid.UUID) error {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	err := database.GetDB(ctx, r.db).
		Model(&approval.Request{}).
		Where("id = ?", id).
		Update("resource_id", resourceID).Error
	if err != nil {
		return internal.NewStorageError("failed to link approval request to record", err)
	}
	return nil
}

func (r *ApprovalRepository) ListByStatus(ctx context.Context, status string, page approval.Page) ([]approval.Request, int64, error) {
	return r.list(ctx, page, "status = ?", status)
}

func (r *ApprovalRepository) ListByRequester(ctx context.Context, requesterID uuid.UUID, page approval.Page) ([]approval.Request, int64, error) {
	return r.list(ctx, page, "requested_by = ?", requesterID)
}

func (r *ApprovalRepository) list(ctx context.Context, page approval.Page, where string, arg interface{}) ([]approval.Request, int64, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	db := database.GetDB(ctx, r.db)

	var total int64
	if err := db.Model(&approval.Request{}).Where(where, arg).Count(&total).Error; err != nil {
		return nil, 0, internal.NewStorageError("failed to count approval requests", err)
	}

	var requests []approval.Request
	err := db.Preload("Requester").
		Preload("Reviewer").
		Where(where, arg).
		Order("created_at DESC").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&requests).Error
	if err != nil {
		return nil, 0, internal.NewStorageError("failed to list approval requests", err)
	}
	return requests, total, nil
}

func (r *ApprovalRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var count int64
	query := r.sqlx.Rebind(`SELECT COUNT(*) FROM approval_requests WHERE status = ?`)
	if err := r.sqlx.GetContext(ctx, &count, query, status); err != nil {
		return 0, internal.NewStorageError("failed to count approval requests", err)
	}
	return count, nil
}

func (r *ApprovalRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	result := database.GetDB(ctx, r.db).Where("id = ?", id).Delete(&approval.Request{})
	if result.Error != nil {
		return internal.NewStorageError("failed to delete approval request", result.Error)
	}
	if result.RowsAffected == 0 {
		return internal.ErrApprovalNotFound
	}
	return nil
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return internal.ErrApprovalNotFound
	}
	return internal.NewStorageError("failed to load approval request", err)
}
