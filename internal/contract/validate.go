package contract

import (
	"fmt"
	"net/mail"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Validate checks that the contract's valid example actually satisfies
// its own schema. A contract whose example violates a constraint would
// make every derived mutation meaningless, so this is fatal at load
// time rather than a per-case skip.
func (c *Contract) Validate(caseName string) error {
	if len(c.Schema.Fields) == 0 {
		return &ContractError{Case: caseName, Reason: "schema has no fields"}
	}
	if c.ValidExample == nil {
		return &ContractError{Case: caseName, Reason: "valid_example is missing"}
	}

	for _, field := range c.Schema.Fields {
		value, present := c.ValidExample[field.Name]
		if !present {
			if field.Required {
				return &ContractError{Case: caseName, Field: field.Name, Reason: "required field missing from valid_example"}
			}
			continue
		}

		if err := checkValue(field, value); err != nil {
			return &ContractError{Case: caseName, Field: field.Name, Reason: err.Error()}
		}
	}

	for name := range c.ValidExample {
		if _, ok := c.Schema.Field(name); !ok {
			return &ContractError{Case: caseName, Field: name, Reason: "valid_example field not declared in schema"}
		}
	}

	return nil
}

func checkValue(field Field, value interface{}) error {
	if value == nil {
		return fmt.Errorf("value is null")
	}

	if err := checkType(field.Type, value); err != nil {
		return err
	}

	for _, constraint := range field.Constraints {
		switch c := constraint.(type) {
		case LengthBound:
			s := value.(string)
			if c.Min != nil && len(s) < *c.Min {
				return fmt.Errorf("length %d below min_length %d", len(s), *c.Min)
			}
			if c.Max != nil && len(s) > *c.Max {
				return fmt.Errorf("length %d exceeds max_length %d", len(s), *c.Max)
			}
		case EnumSet:
			if !enumContains(c.Values, value) {
				return fmt.Errorf("value %v not in enum %v", value, c.Values)
			}
		case Format:
			if err := checkFormat(c.Name, value.(string)); err != nil {
				return err
			}
		}
	}

	return nil
}

func checkType(ft FieldType, value interface{}) error {
	ok := false
	switch ft {
	case TypeString:
		_, ok = value.(string)
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int64:
			ok = true
		}
	case TypeInteger:
		switch n := value.(type) {
		case int, int64:
			ok = true
		case float64:
			ok = n == float64(int64(n))
		}
	case TypeBoolean:
		_, ok = value.(bool)
	case TypeArray:
		_, ok = value.([]interface{})
	case TypeObject:
		_, ok = value.(map[string]interface{})
	}
	if !ok {
		return fmt.Errorf("value %v (%T) does not match declared type %s", value, value, ft)
	}
	return nil
}

func enumContains(values []interface{}, value interface{}) bool {
	for _, v := range values {
		if fmt.Sprintf("%v", v) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}

func checkFormat(name, value string) error {
	switch name {
	case "email":
		if _, err := mail.ParseAddress(value); err != nil {
			return fmt.Errorf("%q is not a valid email address", value)
		}
	case "uri":
		u, err := url.Parse(value)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("%q is not a valid absolute URI", value)
		}
	case "uuid":
		if _, err := uuid.Parse(value); err != nil {
			return fmt.Errorf("%q is not a valid UUID", value)
		}
	case "date-time":
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return fmt.Errorf("%q is not a valid RFC 3339 timestamp", value)
		}
	default:
		return fmt.Errorf("unknown format %q", name)
	}
	return nil
}
