package contract

import (
	"fmt"
	"time"

	"apiprobe/internal/assert"
)

// FieldType is the declared JSON type of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Constraint is one validation rule attached to a schema field. The set of
// implementations is closed so mutation strategy dispatch can switch over
// every kind.
type Constraint interface {
	constraint()
}

// LengthBound restricts the length of a string value. Either bound may be
// nil when the schema declares only one side.
type LengthBound struct {
	Min *int
	Max *int
}

// EnumSet restricts a value to a fixed set.
type EnumSet struct {
	Values []interface{}
}

// Format names a well-known string format (email, uri, uuid, date-time).
type Format struct {
	Name string
}

func (LengthBound) constraint() {}
func (EnumSet) constraint()    {}
func (Format) constraint()     {}

// Field is a single schema field with its constraints, in declaration
// order within the parent Schema.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Constraints []Constraint
}

// Length returns the field's length bound, if any.
func (f Field) Length() (LengthBound, bool) {
	for _, c := range f.Constraints {
		if lb, ok := c.(LengthBound); ok {
			return lb, true
		}
	}
	return LengthBound{}, false
}

// Enum returns the field's enum constraint, if any.
func (f Field) Enum() (EnumSet, bool) {
	for _, c := range f.Constraints {
		if e, ok := c.(EnumSet); ok {
			return e, true
		}
	}
	return EnumSet{}, false
}

// FormatName returns the field's declared format, if any.
func (f Field) FormatName() (string, bool) {
	for _, c := range f.Constraints {
		if fm, ok := c.(Format); ok {
			return fm.Name, true
		}
	}
	return "", false
}

// Schema is an ordered list of field definitions. Order follows the YAML
// declaration so generated mutation sequences are diff-stable.
type Schema struct {
	Fields []Field
}

// Field returns the named field definition.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RequiredFields returns the required fields in declaration order.
func (s Schema) RequiredFields() []Field {
	var required []Field
	for _, f := range s.Fields {
		if f.Required {
			required = append(required, f)
		}
	}
	return required
}

// Contract couples a request schema with its one valid example. The
// example is guaranteed (at load time) to satisfy every constraint.
type Contract struct {
	Schema       Schema
	ValidExample map[string]interface{}
}

// TestCase is a single declarative API test definition loaded from YAML.
type TestCase struct {
	Name           string
	Description    string
	Method         string
	URL            string
	Tags           []string
	Skip           bool
	Headers        map[string]string
	Params         map[string]string
	Timeout        time.Duration
	Contract       *Contract
	Mutations      map[string]bool
	ExpectedStatus int
	Assertions     []assert.Spec
	DBAssertions   *assert.DBSpec
	Unauthed       bool
}

// ContractError reports a malformed test-case contract. It is fatal for
// the whole run: a contract that cannot validate its own example would
// produce meaningless mutations.
type ContractError struct {
	Case   string
	Field  string
	Reason string
}

func (e *ContractError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("contract %s: field %s: %s", e.Case, e.Field, e.Reason)
	}
	return fmt.Sprintf("contract %s: %s", e.Case, e.Reason)
}
