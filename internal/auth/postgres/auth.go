package postgres

import (
	"context"
	"errors"

	"github.com/frahmantamala/rental-management/internal/auth"
	userDatamodel "github.com/frahmantamala/rental-management/internal/core/datamodel/user"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed user repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetPasswordForUsername(ctx context.Context, email string) (string, string, error) {
	var u userDatamodel.User
	err := r.db.WithContext(ctx).
		Select("id", "password_hash").
		Where("email = ? AND is_active = ?", email, true).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", auth.ErrUserNotFound
		}
		return "", "", err
	}
	return u.PasswordHash, u.ID.String(), nil
}

// GetActiveUser loads the user behind a token, failing for deactivated accounts
func (r *Repository) GetActiveUser(ctx context.Context, userID string) (*auth.UserInfo, error) {
	var u userDatamodel.User
	err := r.db.WithContext(ctx).
		Where("id = ?", userID).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrUserNotFound
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, auth.ErrUserInactive
	}
	return &auth.UserInfo{
		ID:    u.ID.String(),
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
	}, nil
}
