// Package changeset computes field-level deltas between two versions of a record.
package changeset

import (
	"encoding/json"
	"math"

	"github.com/frahmantamala/rental-management/internal/core/common/validation"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
)

// Record is the JSON shape of a business record.
type Record map[string]any

type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindDecimal
	KindTime
	KindReference
	KindAttachments
)

type Field struct {
	Name     string
	Kind     Kind
	Required bool
	OneOf    []string
}

// Schema lists the client-editable fields of one resource type.
// Anything outside it (ids, timestamps, derived columns) is never diffed or applied.
type Schema struct {
	Resource string
	Fields   []Field
}

func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// AttachmentField returns the field holding the attachment list, if the resource has one.
func (s Schema) AttachmentField() (Field, bool) {
	for _, f := range s.Fields {
		if f.Kind == KindAttachments {
			return f, true
		}
	}
	return Field{}, false
}

// Filter keeps the defined, non-attachment schema fields of r.
func (s Schema) Filter(r Record) Record {
	out := make(Record)
	for _, f := range s.Fields {
		if f.Kind == KindAttachments {
			continue
		}
		if v, ok := r[f.Name]; ok && v != nil {
			out[f.Name] = v
		}
	}
	return out
}

// Validate checks the present fields of r against their kinds. With complete set,
// required fields must also be present.
func (s Schema) Validate(r Record, complete bool) error {
	v := validation.NewValidator()
	for _, f := range s.Fields {
		value, present := r[f.Name]
		if !present && !complete {
			continue
		}
		fv := v.Field(f.Name, value)
		if f.Required && complete {
			fv.Required()
		}
		switch f.Kind {
		case KindDecimal:
			fv.Decimal(decimal.Zero)
		case KindTime:
			fv.Time()
		case KindReference:
			fv.UUID()
		}
		if len(f.OneOf) > 0 {
			fv.OneOf(f.OneOf...)
		}
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// ChangedFields returns the keys of proposed whose defined values differ from original.
// Attachment fields are skipped; list identity is reconciled separately.
func ChangedFields(schema Schema, original, proposed Record) Record {
	diff := make(Record)
	for _, f := range schema.Fields {
		if f.Kind == KindAttachments {
			continue
		}
		next, ok := proposed[f.Name]
		if !ok || next == nil {
			continue
		}
		prev, had := original[f.Name]
		if had && Equal(f.Kind, prev, next) {
			continue
		}
		diff[f.Name] = next
	}
	return diff
}

// Merge overlays diff onto a copy of original.
func Merge(original, diff Record) Record {
	out := make(Record, len(original)+len(diff))
	for k, v := range original {
		out[k] = v
	}
	for k, v := range diff {
		out[k] = v
	}
	return out
}

// Equal compares two values of the given kind. Decimals compare numerically and
// times by instant; everything else by deep equality of the JSON form.
func Equal(kind Kind, a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch kind {
	case KindDecimal:
		da, errA := validation.ParseDecimal(a)
		db, errB := validation.ParseDecimal(b)
		if errA == nil && errB == nil {
			return da.Equal(db)
		}
	case KindNumber:
		fa, okA := toFloat(a)
		fb, okB := toFloat(b)
		if okA && okB {
			return math.Abs(fa-fb) < 1e-9
		}
	case KindTime:
		ta, errA := validation.ParseTime(a)
		tb, errB := validation.ParseTime(b)
		if errA == nil && errB == nil {
			return ta.Equal(tb)
		}
	}
	return cmp.Equal(normalize(a), normalize(b), cmpopts.EquateEmpty())
}

func toFloat(v any) (float64, bool) {
	d, err := validation.ParseDecimal(v)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// normalize maps typed values ([]string, structs) onto the generic JSON shapes
// so that a decoded request and a stored record compare alike.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
