package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pakloong/iroha/pkg/schema"
)

// ErrConsumed is returned by every call on a builder that already produced its value.
var ErrConsumed = errors.New("builder already consumed")

// UnknownFieldError is returned when a field name is not part of the kind's schema.
type UnknownFieldError struct {
	Kind  schema.Kind
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s: unknown field %q", e.Kind, e.Field)
}

// FieldTypeError is returned when a value cannot be stored in a field.
type FieldTypeError struct {
	Kind  schema.Kind
	Field string
	Want  schema.FieldType
	Got   string
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("%s: field %s wants %s, got %s", e.Kind, e.Field, e.Want, e.Got)
}

// DuplicateFieldError is returned when a field is set twice. The first value is kept.
type DuplicateFieldError struct {
	Kind  schema.Kind
	Field string
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("%s: field %s already set", e.Kind, e.Field)
}

// UnsetFieldsError lists every required field that was never set, in schema order.
type UnsetFieldsError struct {
	Kind    schema.Kind
	Missing []string
}

func (e *UnsetFieldsError) Error() string {
	return fmt.Sprintf("%s: unset fields: %s", e.Kind, strings.Join(e.Missing, " "))
}
