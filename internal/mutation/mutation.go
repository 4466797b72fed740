// Package mutation derives negative test cases from a request contract.
// Each strategy perturbs the contract's valid example in exactly one way,
// so a rejection can be attributed to the single violated rule.
//
// Generation is deterministic: the plan follows schema declaration order
// and fixed per-strategy catalogs, so two runs over the same suite file
// produce the same cases in the same order.
package mutation

import (
	"fmt"
	"reflect"
	"strings"

	"apiprobe/internal/contract"
)

// Strategy names one family of payload perturbations.
type Strategy string

const (
	StrategyMissingField Strategy = "missing_field"
	StrategyTypeError    Strategy = "type_error"
	StrategyBoundary     Strategy = "boundary"
	StrategyInjection    Strategy = "injection"
)

// strategyOrder fixes the order strategies contribute cases to a plan.
var strategyOrder = []Strategy{
	StrategyMissingField,
	StrategyTypeError,
	StrategyBoundary,
	StrategyInjection,
}

// Case is one generated negative test: a payload differing from the valid
// example in exactly one field.
type Case struct {
	Name        string
	Description string
	Strategy    Strategy
	Field       string
	Payload     map[string]interface{}
}

// GenerationError reports a mutation that could not produce a payload
// distinct from the valid example. It indicates a contract problem, not
// an API failure.
type GenerationError struct {
	Strategy Strategy
	Field    string
	Reason   string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("mutation %s on field %s: %s", e.Strategy, e.Field, e.Reason)
}

// typeConfusion maps each declared type to the wrong-typed values
// substituted by the type_error strategy, in emission order.
var typeConfusion = map[contract.FieldType][]confusedValue{
	contract.TypeString:  {{123, "number"}, {true, "boolean"}},
	contract.TypeNumber:  {{"abc", "string"}, {true, "boolean"}},
	contract.TypeInteger: {{"abc", "string"}, {3.14, "float"}},
	contract.TypeBoolean: {{"true", "string"}, {1, "number"}},
	contract.TypeArray:   {{"abc", "string"}, {123, "number"}},
	contract.TypeObject:  {{"abc", "string"}, {123, "number"}},
}

type confusedValue struct {
	value interface{}
	label string
}

// Injection catalogs. One representative payload per attack class is
// substituted into each string field.
var injectionCatalog = []struct {
	label   string
	payload string
}{
	{"sql", "'; DROP TABLE users; --"},
	{"xss", "<script>alert('xss')</script>"},
	{"command", "$(whoami)"},
}

// plannedCase is the cheap plan-time description of one mutation. The
// full payload is only materialized when the sequence reaches it.
type plannedCase struct {
	name        string
	description string
	strategy    Strategy
	field       string
	remove      bool
	value       interface{}
}

// buildPlan computes the ordered list of mutations for a contract
// without materializing any payloads. enabled selects strategies by
// name; an unknown name is an error so suite-file typos cannot silently
// disable coverage.
func buildPlan(c *contract.Contract, enabled map[string]bool) ([]plannedCase, error) {
	selected := make(map[Strategy]bool, len(enabled))
	for name, on := range enabled {
		switch s := Strategy(name); s {
		case StrategyMissingField, StrategyTypeError, StrategyBoundary, StrategyInjection:
			selected[s] = on
		default:
			return nil, fmt.Errorf("unknown mutation strategy %q", name)
		}
	}

	var plan []plannedCase
	for _, strategy := range strategyOrder {
		if !selected[strategy] {
			continue
		}
		for _, field := range c.Schema.Fields {
			if _, present := c.ValidExample[field.Name]; !present {
				continue
			}
			plan = append(plan, planField(strategy, field)...)
		}
	}
	return plan, nil
}

func planField(strategy Strategy, field contract.Field) []plannedCase {
	switch strategy {
	case StrategyMissingField:
		if !field.Required {
			return nil
		}
		return []plannedCase{{
			name:        fmt.Sprintf("missing_required_field_%s", field.Name),
			description: fmt.Sprintf("Required field %q is missing", field.Name),
			strategy:    strategy,
			field:       field.Name,
			remove:      true,
		}}

	case StrategyTypeError:
		var cases []plannedCase
		for _, confused := range typeConfusion[field.Type] {
			cases = append(cases, plannedCase{
				name:        fmt.Sprintf("type_error_%s_%s", field.Name, confused.label),
				description: fmt.Sprintf("Field %q expects %s, received %s", field.Name, field.Type, confused.label),
				strategy:    strategy,
				field:       field.Name,
				value:       confused.value,
			})
		}
		return cases

	case StrategyBoundary:
		return planBoundary(field)

	case StrategyInjection:
		if field.Type != contract.TypeString {
			return nil
		}
		var cases []plannedCase
		for _, inj := range injectionCatalog {
			cases = append(cases, plannedCase{
				name:        fmt.Sprintf("injection_%s_%s", field.Name, inj.label),
				description: fmt.Sprintf("%s injection payload in field %q", inj.label, field.Name),
				strategy:    strategy,
				field:       field.Name,
				value:       inj.payload,
			})
		}
		return cases
	}
	return nil
}

// planBoundary emits the minimal violation of each constraint: one below
// the lower bound, one above the upper, one value outside the enum, one
// string breaking the format.
func planBoundary(field contract.Field) []plannedCase {
	var cases []plannedCase

	if lb, ok := field.Length(); ok {
		if lb.Min != nil && *lb.Min > 0 {
			cases = append(cases, plannedCase{
				name:        fmt.Sprintf("boundary_%s_below_min_length", field.Name),
				description: fmt.Sprintf("String one character below min_length %d", *lb.Min),
				strategy:    StrategyBoundary,
				field:       field.Name,
				value:       strings.Repeat("a", *lb.Min-1),
			})
		}
		if lb.Max != nil {
			cases = append(cases, plannedCase{
				name:        fmt.Sprintf("boundary_%s_above_max_length", field.Name),
				description: fmt.Sprintf("String one character above max_length %d", *lb.Max),
				strategy:    StrategyBoundary,
				field:       field.Name,
				value:       strings.Repeat("a", *lb.Max+1),
			})
		}
	}

	if enum, ok := field.Enum(); ok {
		cases = append(cases, plannedCase{
			name:        fmt.Sprintf("boundary_%s_outside_enum", field.Name),
			description: fmt.Sprintf("Value outside enum %v", enum.Values),
			strategy:    StrategyBoundary,
			field:       field.Name,
			value:       outsideEnum(enum),
		})
	}

	if format, ok := field.FormatName(); ok {
		cases = append(cases, plannedCase{
			name:        fmt.Sprintf("boundary_%s_invalid_%s", field.Name, format),
			description: fmt.Sprintf("String violating format %q", format),
			strategy:    StrategyBoundary,
			field:       field.Name,
			value:       invalidFormatValue(format),
		})
	}

	return cases
}

// outsideEnum derives a value guaranteed to be absent from the set by
// concatenating a suffix onto the first member.
func outsideEnum(enum contract.EnumSet) interface{} {
	candidate := fmt.Sprintf("%v_invalid", enum.Values[0])
	for containsValue(enum.Values, candidate) {
		candidate += "_x"
	}
	return candidate
}

func containsValue(values []interface{}, candidate string) bool {
	for _, v := range values {
		if fmt.Sprintf("%v", v) == candidate {
			return true
		}
	}
	return false
}

func invalidFormatValue(format string) string {
	switch format {
	case "email":
		return "missing-at-sign.example.com"
	case "uri":
		return "not a uri"
	case "uuid":
		return "not-a-uuid"
	case "date-time":
		return "2026-13-99"
	}
	return "invalid_" + format
}

// clonePayload deep-copies the JSON-shaped value tree so mutations never
// alias the valid example.
func clonePayload(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		clone := make(map[string]interface{}, len(v))
		for k, item := range v {
			clone[k] = clonePayload(item)
		}
		return clone
	case []interface{}:
		clone := make([]interface{}, len(v))
		for i, item := range v {
			clone[i] = clonePayload(item)
		}
		return clone
	default:
		return v
	}
}

// materialize builds the concrete payload for a planned case, refusing
// to emit a payload indistinguishable from the valid example.
func (pc plannedCase) materialize(example map[string]interface{}) (*Case, error) {
	payload := clonePayload(example).(map[string]interface{})
	if pc.remove {
		delete(payload, pc.field)
	} else {
		payload[pc.field] = pc.value
	}

	if reflect.DeepEqual(payload, example) {
		return nil, &GenerationError{
			Strategy: pc.strategy,
			Field:    pc.field,
			Reason:   "mutated payload equals the valid example",
		}
	}

	return &Case{
		Name:        pc.name,
		Description: pc.description,
		Strategy:    pc.strategy,
		Field:       pc.field,
		Payload:     payload,
	}, nil
}
