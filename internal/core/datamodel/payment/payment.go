package payment

import (
	"time"

	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/core/datamodel"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
)

// Payment is money received against a reservation. A null amount counts as zero.
type Payment struct {
	datamodel.Base
	ReservationID uuid.UUID                                  `gorm:"type:uuid;column:reservation_id;index;not null" json:"reservation_id"`
	Amount        decimal.NullDecimal                        `gorm:"column:amount;type:decimal(14,2)" json:"amount"`
	Method        string                                     `gorm:"column:method" json:"method"`
	Status        string                                     `gorm:"column:status;default:'completed'" json:"status"`
	PaidAt        *time.Time                                 `gorm:"column:paid_at" json:"paid_at"`
	Reference     string                                     `gorm:"column:reference" json:"reference"`
	Notes         string                                     `gorm:"column:notes" json:"notes"`
	Attachments   datatypes.JSONSlice[attachment.Attachment] `gorm:"column:attachments" json:"attachments"`
}

func (Payment) TableName() string {
	return "payments"
}
