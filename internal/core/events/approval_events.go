package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeApprovalSubmitted = "approval.submitted"
	EventTypeApprovalApproved  = "approval.approved"
	EventTypeApprovalRejected  = "approval.rejected"
	EventTypePaymentReconciled = "payment.reconciled"
)

type ApprovalEvent struct {
	BaseEvent
	RequestID    string `json:"request_id"`
	ActionType   string `json:"action_type"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	ActorID      string `json:"actor_id"`
}

// NewApprovalEvent builds a lifecycle event. actorID is the requester on submit and the reviewer afterwards.
func NewApprovalEvent(eventType, requestID, actionType, resourceType, resourceID, actorID string) *ApprovalEvent {
	return &ApprovalEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"request_id":    requestID,
				"action_type":   actionType,
				"resource_type": resourceType,
				"resource_id":   resourceID,
				"actor_id":      actorID,
			},
		},
		RequestID:    requestID,
		ActionType:   actionType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ActorID:      actorID,
	}
}

type PaymentReconciledEvent struct {
	BaseEvent
	ReservationID    string `json:"reservation_id"`
	TotalPaid        string `json:"total_paid"`
	RemainingBalance string `json:"remaining_balance"`
	PaymentStatus    string `json:"payment_status"`
}

func NewPaymentReconciledEvent(reservationID, totalPaid, remaining, paymentStatus string, at time.Time) *PaymentReconciledEvent {
	return &PaymentReconciledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentReconciled,
			Timestamp: at,
			Data: map[string]interface{}{
				"reservation_id":    reservationID,
				"total_paid":        totalPaid,
				"remaining_balance": remaining,
				"payment_status":    paymentStatus,
			},
		},
		ReservationID:    reservationID,
		TotalPaid:        totalPaid,
		RemainingBalance: remaining,
		PaymentStatus:    paymentStatus,
	}
}
