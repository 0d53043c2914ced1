package customer

import (
	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/core/datamodel"
	"gorm.io/datatypes"
)

type Customer struct {
	datamodel.Base
	Name        string                                     `gorm:"column:name;not null" json:"name"`
	Email       string                                     `gorm:"column:email" json:"email"`
	Phone       string                                     `gorm:"column:phone" json:"phone"`
	Address     string                                     `gorm:"column:address" json:"address"`
	Notes       string                                     `gorm:"column:notes" json:"notes"`
	Attachments datatypes.JSONSlice[attachment.Attachment] `gorm:"column:attachments" json:"attachments"`
}

func (Customer) TableName() string {
	return "customers"
}
