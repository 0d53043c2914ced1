package cost

import (
	"time"

	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/core/datamodel"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Cost is an operating expense of the rental business.
type Cost struct {
	datamodel.Base
	Description string                                     `gorm:"column:description;not null" json:"description"`
	Category    string                                     `gorm:"column:category" json:"category"`
	Amount      decimal.Decimal                            `gorm:"column:amount;type:decimal(14,2);not null" json:"amount"`
	IncurredAt  time.Time                                  `gorm:"column:incurred_at" json:"incurred_at"`
	Vendor      string                                     `gorm:"column:vendor" json:"vendor"`
	Attachments datatypes.JSONSlice[attachment.Attachment] `gorm:"column:attachments" json:"attachments"`
}

func (Cost) TableName() string {
	return "costs"
}
