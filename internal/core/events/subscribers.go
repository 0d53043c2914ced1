package events

import (
	"context"
	"log/slog"
)

// LifecycleEventTypes are the events the approval workflow and the payment
// reconciliation engine publish.
var LifecycleEventTypes = []string{
	EventTypeApprovalSubmitted,
	EventTypeApprovalApproved,
	EventTypeApprovalRejected,
	EventTypePaymentReconciled,
}

// RegisterLogSubscribers writes every lifecycle event to logger.
func RegisterLogSubscribers(bus *EventBus, logger *slog.Logger) {
	for _, eventType := range LifecycleEventTypes {
		bus.Subscribe(eventType, logEvent(logger))
	}
}

func logEvent(logger *slog.Logger) Handler {
	return func(ctx context.Context, event Event) error {
		attrs := []any{
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"occurred_at", event.OccurredAt(),
		}
		switch e := event.(type) {
		case *ApprovalEvent:
			attrs = append(attrs,
				"approval_id", e.RequestID,
				"action", e.ActionType,
				"resource_type", e.ResourceType,
				"resource_id", e.ResourceID,
				"actor_id", e.ActorID)
		case *PaymentReconciledEvent:
			attrs = append(attrs,
				"reservation_id", e.ReservationID,
				"total_paid", e.TotalPaid,
				"remaining_balance", e.RemainingBalance,
				"payment_status", e.PaymentStatus)
		default:
			attrs = append(attrs, "payload", event.Payload())
		}
		logger.InfoContext(ctx, "event received", attrs...)
		return nil
	}
}
