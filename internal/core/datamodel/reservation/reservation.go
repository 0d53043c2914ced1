package reservation

import (
	"time"

	"github.com/frahmantamala/rental-management/internal/core/datamodel"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentStatusNotPaid       = "Not Paid"
	PaymentStatusPartiallyPaid = "Partially Paid"
	PaymentStatusPaid          = "Paid"
	PaymentStatusPending       = "Pending"
)

// Reservation books an item for a customer. RemainingBalance and PaymentStatus
// are derived from the reservation's payments and written only by reconciliation.
type Reservation struct {
	datamodel.Base
	CustomerID       uuid.UUID       `gorm:"type:uuid;column:customer_id;index" json:"customer_id"`
	ItemID           uuid.UUID       `gorm:"type:uuid;column:item_id;index" json:"item_id"`
	StartDate        time.Time       `gorm:"column:start_date" json:"start_date"`
	EndDate          time.Time       `gorm:"column:end_date" json:"end_date"`
	Total            decimal.Decimal `gorm:"column:total;type:decimal(14,2);not null" json:"total"`
	Status           string          `gorm:"column:status;default:'booked'" json:"status"`
	Notes            string          `gorm:"column:notes" json:"notes"`
	RemainingBalance decimal.Decimal `gorm:"column:remaining_balance;type:decimal(14,2)" json:"remaining_balance"`
	PaymentStatus    string          `gorm:"column:payment_status;default:'Not Paid'" json:"payment_status"`
}

func (Reservation) TableName() string {
	return "reservations"
}
