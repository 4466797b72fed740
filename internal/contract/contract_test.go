package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func intPtr(v int) *int { return &v }

func TestSchemaUnmarshalPreservesOrder(t *testing.T) {
	doc := `
zeta:
  type: string
  required: true
alpha:
  type: number
mike:
  type: boolean
`
	var schema Schema
	require.NoError(t, yaml.Unmarshal([]byte(doc), &schema))

	var names []string
	for _, f := range schema.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mike"}, names, "declaration order survives decoding")
}

func TestSchemaUnmarshalConstraints(t *testing.T) {
	doc := `
note:
  type: string
  min_length: 1
  max_length: 50
status:
  type: string
  enum: [new, paid, cancelled]
contact:
  type: string
  format: email
`
	var schema Schema
	require.NoError(t, yaml.Unmarshal([]byte(doc), &schema))

	note, ok := schema.Field("note")
	require.True(t, ok)
	lb, ok := note.Length()
	require.True(t, ok)
	assert.Equal(t, 1, *lb.Min)
	assert.Equal(t, 50, *lb.Max)

	status, _ := schema.Field("status")
	enum, ok := status.Enum()
	require.True(t, ok)
	assert.Len(t, enum.Values, 3)

	contact, _ := schema.Field("contact")
	format, ok := contact.FormatName()
	require.True(t, ok)
	assert.Equal(t, "email", format)
}

func TestSchemaUnmarshalRejectsBadFields(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing type", "f:\n  required: true\n"},
		{"unknown type", "f:\n  type: decimal\n"},
		{"length on number", "f:\n  type: number\n  max_length: 5\n"},
		{"format on boolean", "f:\n  type: boolean\n  format: email\n"},
		{"inverted bounds", "f:\n  type: string\n  min_length: 9\n  max_length: 3\n"},
		{"not a mapping", "- a\n- b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var schema Schema
			assert.Error(t, yaml.Unmarshal([]byte(tt.doc), &schema))
		})
	}
}

func validContract() *Contract {
	return &Contract{
		Schema: Schema{Fields: []Field{
			{Name: "name", Type: TypeString, Required: true, Constraints: []Constraint{LengthBound{Min: intPtr(1), Max: intPtr(50)}}},
			{Name: "amount", Type: TypeNumber, Required: true},
			{Name: "status", Type: TypeString, Constraints: []Constraint{EnumSet{Values: []interface{}{"new", "paid"}}}},
			{Name: "contact", Type: TypeString, Constraints: []Constraint{Format{Name: "email"}}},
		}},
		ValidExample: map[string]interface{}{
			"name":    "sample order",
			"amount":  12.5,
			"status":  "new",
			"contact": "probe@example.com",
		},
	}
}

func TestContractValidate(t *testing.T) {
	require.NoError(t, validContract().Validate("orders_create"))
}

func TestContractValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Contract)
		reason string
	}{
		{"missing required", func(c *Contract) { delete(c.ValidExample, "name") }, "required field missing"},
		{"wrong type", func(c *Contract) { c.ValidExample["amount"] = "twelve" }, "does not match declared type"},
		{"too long", func(c *Contract) { c.ValidExample["name"] = string(make([]byte, 51)) }, "max_length"},
		{"outside enum", func(c *Contract) { c.ValidExample["status"] = "shipped" }, "not in enum"},
		{"bad format", func(c *Contract) { c.ValidExample["contact"] = "not-an-email" }, "email"},
		{"undeclared field", func(c *Contract) { c.ValidExample["extra"] = 1 }, "not declared"},
		{"null value", func(c *Contract) { c.ValidExample["amount"] = nil }, "null"},
		{"no example", func(c *Contract) { c.ValidExample = nil }, "valid_example is missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validContract()
			tt.mutate(c)
			err := c.Validate("orders_create")
			require.Error(t, err)
			var ce *ContractError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, ce.Reason, tt.reason)
			assert.Equal(t, "orders_create", ce.Case)
		})
	}
}

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, checkFormat("uuid", "f6a7b8c9-1234-5678-9abc-def012345678"))
	assert.Error(t, checkFormat("uuid", "not-a-uuid"))
	assert.NoError(t, checkFormat("uri", "https://example.com/path"))
	assert.Error(t, checkFormat("uri", "no scheme here"))
	assert.NoError(t, checkFormat("date-time", "2026-01-02T15:04:05Z"))
	assert.Error(t, checkFormat("date-time", "2026-01-02"))
	assert.Error(t, checkFormat("zipcode", "12345"))
}

func TestCheckTypeInteger(t *testing.T) {
	field := Field{Name: "n", Type: TypeInteger}
	assert.NoError(t, checkValue(field, 5))
	assert.NoError(t, checkValue(field, float64(5)), "JSON decode yields float64 for whole numbers")
	assert.Error(t, checkValue(field, 5.5))
}
