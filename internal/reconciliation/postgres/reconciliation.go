package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/core/database"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/payment"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/reservation"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReconciliationRepository reads reservations and payments through gorm and
// scans reservation ids for the sweeper through sqlx.
type ReconciliationRepository struct {
	db           *gorm.DB
	sqlx         *sqlx.DB
	queryTimeout time.Duration
}

// NewReconciliationRepository creates the repository the engine reads payments through
func NewReconciliationRepository(db *gorm.DB, sqlxDB *sqlx.DB, queryTimeout time.Duration) *ReconciliationRepository {
	return &ReconciliationRepository{db: db, sqlx: sqlxDB, queryTimeout: queryTimeout}
}

func (r *ReconciliationRepository) GetReservationTotal(ctx context.Context, reservationID uuid.UUID) (decimal.Decimal, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var res reservation.Reservation
	err := database.GetDB(ctx, r.db).
		Select("id", "total").
		Where("id = ?", reservationID).
		First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, internal.ErrResourceNotFound
		}
		return decimal.Zero, internal.NewStorageError("failed to load reservation", err)
	}
	return res.Total, nil
}

// FindPaymentAmounts returns the amount of every payment of the reservation, whatever its status.
func (r *ReconciliationRepository) FindPaymentAmounts(ctx context.Context, reservationID uuid.UUID) ([]decimal.NullDecimal, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var amounts []decimal.NullDecimal
	err := database.GetDB(ctx, r.db).
		Model(&payment.Payment{}).
		Where("reservation_id = ?", reservationID).
		Pluck("amount", &amounts).Error
	if err != nil {
		return nil, internal.NewStorageError("failed to load payments", err)
	}
	return amounts, nil
}

// SaveDerived writes only the derived columns and leaves updated_at alone.
func (r *ReconciliationRepository) SaveDerived(ctx context.Context, reservationID uuid.UUID, remaining decimal.Decimal, status string) error {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	result := database.GetDB(ctx, r.db).
		Model(&reservation.Reservation{}).
		Where("id = ?", reservationID).
		UpdateColumns(map[string]interface{}{
			"remaining_balance": remaining,
			"payment_status":    status,
		})
	if result.Error != nil {
		return internal.NewStorageError("failed to save reservation balance", result.Error)
	}
	if result.RowsAffected == 0 {
		return internal.ErrResourceNotFound
	}
	return nil
}

// ReservationIDs pages through reservation ids in key order, starting after the given id.
func (r *ReconciliationRepository) ReservationIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := r.sqlx.Rebind(`SELECT id FROM reservations WHERE id > ? ORDER BY id LIMIT ?`)

	var ids []uuid.UUID
	if err := r.sqlx.SelectContext(ctx, &ids, query, after, limit); err != nil {
		return nil, internal.NewStorageError("failed to list reservations", err)
	}
	return ids, nil
}
