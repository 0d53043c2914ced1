// Package reconciliation derives a reservation's payment status and remaining
// balance from the full set of its payments.
package reconciliation

import (
	"context"
	"log/slog"
	"time"

	"github.com/frahmantamala/rental-management/internal/core/datamodel/reservation"
	"github.com/frahmantamala/rental-management/internal/core/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	GetReservationTotal(ctx context.Context, reservationID uuid.UUID) (decimal.Decimal, error)
	FindPaymentAmounts(ctx context.Context, reservationID uuid.UUID) ([]decimal.NullDecimal, error)
	SaveDerived(ctx context.Context, reservationID uuid.UUID, remaining decimal.Decimal, status string) error
	ReservationIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Result is the derived payment state of one reservation.
type Result struct {
	ReservationID    uuid.UUID       `json:"reservation_id"`
	Total            decimal.Decimal `json:"total"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	PaymentStatus    string          `json:"payment_status"`
}

// Derive computes the payment state from a reservation total and its payment amounts.
// Missing amounts count as zero and every payment is included whatever its status.
func Derive(total decimal.Decimal, amounts []decimal.NullDecimal) Result {
	paid := decimal.Zero
	for _, a := range amounts {
		if a.Valid {
			paid = paid.Add(a.Decimal)
		}
	}

	remaining := total.Sub(paid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	return Result{
		Total:            total,
		TotalPaid:        paid,
		RemainingBalance: remaining,
		PaymentStatus:    status(paid, remaining),
	}
}

func status(paid, remaining decimal.Decimal) string {
	switch {
	case paid.IsZero():
		return reservation.PaymentStatusNotPaid
	case remaining.IsZero():
		return reservation.PaymentStatusPaid
	case paid.IsPositive() && remaining.IsPositive():
		return reservation.PaymentStatusPartiallyPaid
	default:
		return reservation.PaymentStatusPending
	}
}

type Engine struct {
	repo      Repository
	publisher Publisher
	logger    *slog.Logger
}

// NewEngine creates the payment reconciliation engine. publisher may be nil
func NewEngine(repo Repository, publisher Publisher, logger *slog.Logger) *Engine {
	return &Engine{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
}

// Balance derives the payment state without persisting it.
func (e *Engine) Balance(ctx context.Context, reservationID uuid.UUID) (Result, error) {
	total, err := e.repo.GetReservationTotal(ctx, reservationID)
	if err != nil {
		return Result{}, err
	}
	amounts, err := e.repo.FindPaymentAmounts(ctx, reservationID)
	if err != nil {
		return Result{}, err
	}
	result := Derive(total, amounts)
	result.ReservationID = reservationID
	return result, nil
}

// Reconcile re-derives the reservation's payment fields from all of its payments
// and persists remaining_balance and payment_status. Safe to repeat.
func (e *Engine) Reconcile(ctx context.Context, reservationID uuid.UUID) (Result, error) {
	total, err := e.repo.GetReservationTotal(ctx, reservationID)
	if err != nil {
		e.logger.Error("reconcile: failed to load reservation", "reservation_id", reservationID, "error", err)
		return Result{}, err
	}

	amounts, err := e.repo.FindPaymentAmounts(ctx, reservationID)
	if err != nil {
		e.logger.Error("reconcile: failed to load payments", "reservation_id", reservationID, "error", err)
		return Result{}, err
	}

	result := Derive(total, amounts)
	result.ReservationID = reservationID

	if err := e.repo.SaveDerived(ctx, reservationID, result.RemainingBalance, result.PaymentStatus); err != nil {
		e.logger.Error("reconcile: failed to persist derived fields", "reservation_id", reservationID, "error", err)
		return Result{}, err
	}

	e.logger.Info("reservation reconciled",
		"reservation_id", reservationID,
		"payments", len(amounts),
		"total", result.Total.String(),
		"total_paid", result.TotalPaid.String(),
		"remaining_balance", result.RemainingBalance.String(),
		"payment_status", result.PaymentStatus)

	if e.publisher != nil {
		_ = e.publisher.Publish(ctx, events.NewPaymentReconciledEvent(
			reservationID.String(),
			result.TotalPaid.String(),
			result.RemainingBalance.String(),
			result.PaymentStatus,
			time.Now(),
		))
	}

	return result, nil
}
