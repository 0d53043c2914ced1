package approval

import (
	"time"

	"github.com/frahmantamala/rental-management/internal/core/datamodel/user"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// ApprovalRequest is a deferred mutation waiting for a reviewer.
type ApprovalRequest struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RequestedBy  uuid.UUID      `gorm:"type:uuid;column:requested_by;not null;index" json:"requested_by"`
	Requester    *user.User     `gorm:"foreignKey:RequestedBy" json:"requester,omitempty"`
	ActionType   string         `gorm:"column:action_type;type:varchar(16);not null" json:"action_type"`
	ResourceType string         `gorm:"column:resource_type;type:varchar(32);not null;index" json:"resource_type"`
	ResourceID   *uuid.UUID     `gorm:"type:uuid;column:resource_id;index" json:"resource_id"`
	OriginalData datatypes.JSON `gorm:"column:original_data" json:"original_data"`
	NewData      datatypes.JSON `gorm:"column:new_data" json:"new_data"`
	Reason       string         `gorm:"column:reason" json:"reason"`
	Status       string         `gorm:"column:status;type:varchar(16);not null;default:'pending';index" json:"status"`
	ReviewedBy   *uuid.UUID     `gorm:"type:uuid;column:reviewed_by" json:"reviewed_by"`
	Reviewer     *user.User     `gorm:"foreignKey:ReviewedBy" json:"reviewer,omitempty"`
	ReviewNote   string         `gorm:"column:review_note" json:"review_note"`
	ReviewedAt   *time.Time     `gorm:"column:reviewed_at" json:"reviewed_at"`
	CreatedAt    time.Time      `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (ApprovalRequest) TableName() string {
	return "approval_requests"
}

func (r *ApprovalRequest) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (r *ApprovalRequest) IsPending() bool {
	return r.Status == StatusPending
}
