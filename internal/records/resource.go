// Package records applies create, edit and delete mutations to the rental business records.
package records

import (
	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/core/changeset"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/cost"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/customer"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/item"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/payment"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/reservation"
	"github.com/google/uuid"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// ParseAction validates a client-supplied action name
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCreate, ActionEdit, ActionDelete:
		return Action(s), nil
	}
	return "", internal.NewValidationFieldError("action_type", "action_type must be one of: create, edit, delete", internal.ErrCodeInvalidAction)
}

type ResourceType string

const (
	ResourceCustomer    ResourceType = "customer"
	ResourceItem        ResourceType = "item"
	ResourcePayment     ResourceType = "payment"
	ResourceReservation ResourceType = "reservation"
	ResourceCost        ResourceType = "cost"
)

// Resource describes how one resource type is stored and which fields clients may set.
type Resource struct {
	Type   ResourceType
	Schema changeset.Schema
	Folder string
	New    func() any
}

func (r Resource) HasAttachments() bool {
	_, ok := r.Schema.AttachmentField()
	return ok
}

const attachmentsField = "attachments"

var registry = map[ResourceType]Resource{
	ResourceCustomer: {
		Type:   ResourceCustomer,
		Folder: "customers",
		New:    func() any { return &customer.Customer{} },
		Schema: changeset.Schema{Resource: "customer", Fields: []changeset.Field{
			{Name: "name", Kind: changeset.KindString, Required: true},
			{Name: "email", Kind: changeset.KindString},
			{Name: "phone", Kind: changeset.KindString},
			{Name: "address", Kind: changeset.KindString},
			{Name: "notes", Kind: changeset.KindString},
			{Name: attachmentsField, Kind: changeset.KindAttachments},
		}},
	},
	ResourceItem: {
		Type:   ResourceItem,
		Folder: "items",
		New:    func() any { return &item.Item{} },
		Schema: changeset.Schema{Resource: "item", Fields: []changeset.Field{
			{Name: "name", Kind: changeset.KindString, Required: true},
			{Name: "sku", Kind: changeset.KindString},
			{Name: "category", Kind: changeset.KindString},
			{Name: "daily_rate", Kind: changeset.KindDecimal},
			{Name: "quantity", Kind: changeset.KindNumber},
			{Name: "description", Kind: changeset.KindString},
			{Name: attachmentsField, Kind: changeset.KindAttachments},
		}},
	},
	ResourceReservation: {
		Type:   ResourceReservation,
		Folder: "reservations",
		New:    func() any { return &reservation.Reservation{} },
		Schema: changeset.Schema{Resource: "reservation", Fields: []changeset.Field{
			{Name: "customer_id", Kind: changeset.KindReference, Required: true},
			{Name: "item_id", Kind: changeset.KindReference, Required: true},
			{Name: "start_date", Kind: changeset.KindTime, Required: true},
			{Name: "end_date", Kind: changeset.KindTime, Required: true},
			{Name: "total", Kind: changeset.KindDecimal, Required: true},
			{Name: "status", Kind: changeset.KindString, OneOf: []string{"booked", "active", "returned", "cancelled"}},
			{Name: "notes", Kind: changeset.KindString},
		}},
	},
	ResourcePayment: {
		Type:   ResourcePayment,
		Folder: "payments",
		New:    func() any { return &payment.Payment{} },
		Schema: changeset.Schema{Resource: "payment", Fields: []changeset.Field{
			{Name: "reservation_id", Kind: changeset.KindReference, Required: true},
			{Name: "amount", Kind: changeset.KindDecimal, Required: true},
			{Name: "method", Kind: changeset.KindString},
			{Name: "status", Kind: changeset.KindString, OneOf: []string{
				payment.StatusCompleted, payment.StatusPending, payment.StatusCancelled, payment.StatusRefunded,
			}},
			{Name: "paid_at", Kind: changeset.KindTime},
			{Name: "reference", Kind: changeset.KindString},
			{Name: "notes", Kind: changeset.KindString},
			{Name: attachmentsField, Kind: changeset.KindAttachments},
		}},
	},
	ResourceCost: {
		Type:   ResourceCost,
		Folder: "costs",
		New:    func() any { return &cost.Cost{} },
		Schema: changeset.Schema{Resource: "cost", Fields: []changeset.Field{
			{Name: "description", Kind: changeset.KindString, Required: true},
			{Name: "category", Kind: changeset.KindString},
			{Name: "amount", Kind: changeset.KindDecimal, Required: true},
			{Name: "incurred_at", Kind: changeset.KindTime},
			{Name: "vendor", Kind: changeset.KindString},
			{Name: attachmentsField, Kind: changeset.KindAttachments},
		}},
	},
}

// Lookup returns the descriptor of a resource type.
func Lookup(rt ResourceType) (Resource, error) {
	res, ok := registry[rt]
	if !ok {
		return Resource{}, internal.NewValidationFieldError("resource_type", "unknown resource type "+string(rt), internal.ErrCodeInvalidResource)
	}
	return res, nil
}

// ParseResourceType validates a client-supplied resource name
func ParseResourceType(s string) (ResourceType, error) {
	res, err := Lookup(ResourceType(s))
	if err != nil {
		return "", err
	}
	return res.Type, nil
}

func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, internal.NewValidationFieldError("resource_id", "resource_id must be a valid identifier", internal.ErrCodeMissingResource)
	}
	return id, nil
}
