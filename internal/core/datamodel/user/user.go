package user

import (
	"github.com/frahmantamala/rental-management/internal/core/datamodel"
)

type User struct {
	datamodel.Base
	Email        string `gorm:"column:email;uniqueIndex;not null" json:"email"`
	Name         string `gorm:"column:name;not null" json:"name"`
	PasswordHash string `gorm:"column:password_hash;not null" json:"-"`
	Role         string `gorm:"column:role;not null;default:'employee'" json:"role"`
	IsActive     bool   `gorm:"column:is_active;default:true" json:"is_active"`
}

func (User) TableName() string {
	return "users"
}
