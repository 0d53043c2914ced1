package item

import (
	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/core/datamodel"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Item is a rentable product.
type Item struct {
	datamodel.Base
	Name        string                                     `gorm:"column:name;not null" json:"name"`
	SKU         string                                     `gorm:"column:sku" json:"sku"`
	Category    string                                     `gorm:"column:category" json:"category"`
	DailyRate   decimal.Decimal                            `gorm:"column:daily_rate;type:decimal(14,2)" json:"daily_rate"`
	Quantity    int                                        `gorm:"column:quantity;default:1" json:"quantity"`
	Description string                                     `gorm:"column:description" json:"description"`
	Attachments datatypes.JSONSlice[attachment.Attachment] `gorm:"column:attachments" json:"attachments"`
}

func (Item) TableName() string {
	return "items"
}
