package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/core/changeset"
	"github.com/frahmantamala/rental-management/internal/core/common/validation"
	"github.com/frahmantamala/rental-management/internal/core/database"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StoreAPI is the persistence collaborator for business records.
type StoreAPI interface {
	FindByID(ctx context.Context, rt ResourceType, id uuid.UUID) (changeset.Record, error)
	Create(ctx context.Context, rt ResourceType, data changeset.Record) (changeset.Record, error)
	Update(ctx context.Context, rt ResourceType, id uuid.UUID, changes changeset.Record) (changeset.Record, error)
	Delete(ctx context.Context, rt ResourceType, id uuid.UUID) error
}

// Store persists records through gorm, joining the transaction carried by ctx.
type Store struct {
	db           *gorm.DB
	queryTimeout time.Duration
}

// NewStore creates a record store over the business tables
func NewStore(db *gorm.DB, queryTimeout time.Duration) *Store {
	return &Store{db: db, queryTimeout: queryTimeout}
}

// FindByID loads one record of the given resource type
func (s *Store) FindByID(ctx context.Context, rt ResourceType, id uuid.UUID) (changeset.Record, error) {
	res, err := Lookup(rt)
	if err != nil {
		return nil, err
	}
	ctx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	model, err := s.load(ctx, res, id)
	if err != nil {
		return nil, err
	}
	return toRecord(model)
}

// Create inserts a record and returns it as stored
func (s *Store) Create(ctx context.Context, rt ResourceType, data changeset.Record) (changeset.Record, error) {
	res, err := Lookup(rt)
	if err != nil {
		return nil, err
	}
	ctx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	model := res.New()
	if err := fromRecord(res, data, model); err != nil {
		return nil, err
	}
	if err := database.GetDB(ctx, s.db).Create(model).Error; err != nil {
		return nil, internal.NewStorageError(fmt.Sprintf("failed to create %s", rt), err)
	}
	return toRecord(model)
}

// Update writes only the schema columns named in changes.
func (s *Store) Update(ctx context.Context, rt ResourceType, id uuid.UUID, changes changeset.Record) (changeset.Record, error) {
	res, err := Lookup(rt)
	if err != nil {
		return nil, err
	}
	ctx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	model, err := s.load(ctx, res, id)
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(changes))
	for name := range changes {
		if _, ok := res.Schema.Field(name); ok {
			columns = append(columns, name)
		}
	}
	if len(columns) == 0 {
		return toRecord(model)
	}

	if err := fromRecord(res, changes, model); err != nil {
		return nil, err
	}
	columns = append(columns, "updated_at")

	db := database.GetDB(ctx, s.db)
	if err := db.Model(model).Select(columns).Updates(model).Error; err != nil {
		return nil, internal.NewStorageError(fmt.Sprintf("failed to update %s", rt), err)
	}
	return toRecord(model)
}

// Delete removes a record, answering RESOURCE_NOT_FOUND when nothing matched
func (s *Store) Delete(ctx context.Context, rt ResourceType, id uuid.UUID) error {
	res, err := Lookup(rt)
	if err != nil {
		return err
	}
	ctx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	result := database.GetDB(ctx, s.db).Where("id = ?", id).Delete(res.New())
	if result.Error != nil {
		return internal.NewStorageError(fmt.Sprintf("failed to delete %s", rt), result.Error)
	}
	if result.RowsAffected == 0 {
		return internal.ErrResourceNotFound
	}
	return nil
}

func (s *Store) load(ctx context.Context, res Resource, id uuid.UUID) (any, error) {
	model := res.New()
	err := database.GetDB(ctx, s.db).Where("id = ?", id).First(model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrResourceNotFound
		}
		return nil, internal.NewStorageError(fmt.Sprintf("failed to load %s", res.Type), err)
	}
	return model, nil
}

func toRecord(model any) (changeset.Record, error) {
	raw, err := json.Marshal(model)
	if err != nil {
		return nil, internal.NewInternalError("failed to encode record", err)
	}
	var rec changeset.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, internal.NewInternalError("failed to decode record", err)
	}
	return rec, nil
}

// fromRecord decodes the schema fields of data onto model, leaving other fields untouched.
func fromRecord(res Resource, data changeset.Record, model any) error {
	payload := make(changeset.Record, len(data))
	for name, value := range data {
		field, ok := res.Schema.Field(name)
		if !ok {
			continue
		}
		if field.Kind == changeset.KindTime && value != nil {
			t, err := validation.ParseTime(value)
			if err != nil {
				return internal.NewValidationFieldError(name, name+" must be an RFC 3339 timestamp", internal.ErrCodeInvalidDate)
			}
			value = t
		}
		payload[name] = value
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return internal.NewValidationError("invalid payload", internal.ErrCodeInvalidPayload).WithCause(err)
	}
	if err := json.Unmarshal(raw, model); err != nil {
		return internal.NewValidationError("payload does not match "+string(res.Type)+": "+err.Error(), internal.ErrCodeInvalidPayload).WithCause(err)
	}
	return nil
}
