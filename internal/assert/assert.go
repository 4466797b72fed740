// Package assert evaluates declarative expectations against API response
// bodies and, for persistence checks, against records looked up in an
// external store. Specs are evaluated in declared order and evaluation
// stops at the first unmet spec.
package assert

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind names a predicate applied to the value at a spec's field path.
type Kind string

const (
	KindEquals        Kind = "equals"
	KindNotEquals     Kind = "not_equals"
	KindIsNull        Kind = "is_null"
	KindIsNotNull     Kind = "is_not_null"
	KindContains      Kind = "contains"
	KindMatchesRegex  Kind = "matches_regex"
	KindTypeIs        Kind = "type_is"
	KindGreaterThan   Kind = "greater_than"
	KindLessThan      Kind = "less_than"
	KindLengthEquals  Kind = "length_equals"
)

// Spec is one expectation: a field path, a predicate kind, and (for most
// kinds) an expected value.
type Spec struct {
	Field       string      `yaml:"field"`
	Kind        Kind        `yaml:"kind"`
	Expected    interface{} `yaml:"expected,omitempty"`
	Description string      `yaml:"description,omitempty"`
}

// DBSpec describes a store-backed assertion group: the record is located
// by resolving MatchBy against the response body, then Verify specs are
// evaluated against the fetched record.
type DBSpec struct {
	Collection string `yaml:"collection"`
	MatchBy    string `yaml:"match_by"`
	MatchField string `yaml:"match_field"`
	Verify     []Spec `yaml:"verify"`
}

// Store is the narrow lookup capability needed for db assertions.
type Store interface {
	FindOne(ctx context.Context, collection, key string, value interface{}) (map[string]interface{}, error)
}

// Failure is the first unmet spec, with the observed value for diagnosis.
type Failure struct {
	Spec     Spec
	Observed interface{}
	Message  string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("assertion %s on %q failed: %s (observed: %v)",
		f.Spec.Kind, f.Spec.Field, f.Message, f.Observed)
}

// Evaluate checks specs against the response body in declared order,
// returning the first *Failure or nil when all pass.
func Evaluate(body map[string]interface{}, specs []Spec) error {
	for _, spec := range specs {
		if err := evaluateOne(body, spec); err != nil {
			return err
		}
	}
	return nil
}

// EvaluateStore resolves the db assertion's lookup key from the response
// body, fetches the record, and evaluates the verify specs against it.
// A failed key resolution is an assertion failure, never a silent skip.
func EvaluateStore(ctx context.Context, store Store, db DBSpec, body map[string]interface{}) error {
	keyValue, ok := Lookup(body, db.MatchBy)
	if !ok || keyValue == nil {
		return &Failure{
			Spec:     Spec{Field: db.MatchBy, Kind: KindIsNotNull},
			Observed: nil,
			Message:  fmt.Sprintf("lookup key %q could not be resolved from response", db.MatchBy),
		}
	}

	record, err := store.FindOne(ctx, db.Collection, db.MatchField, keyValue)
	if err != nil {
		return fmt.Errorf("store lookup in %s failed: %w", db.Collection, err)
	}
	if record == nil {
		return &Failure{
			Spec:     Spec{Field: db.MatchField, Kind: KindIsNotNull},
			Observed: nil,
			Message:  fmt.Sprintf("no record in %s with %s=%v", db.Collection, db.MatchField, keyValue),
		}
	}

	return Evaluate(record, db.Verify)
}

var indexedPart = regexp.MustCompile(`^(.*)\[(\d+)\]$`)

// Lookup extracts the value at a dot-separated path, with optional array
// indexing ("items[0].id"). The second return reports whether the path
// resolved.
func Lookup(data interface{}, path string) (interface{}, bool) {
	if path == "" {
		return data, true
	}

	current := data
	for _, part := range strings.Split(path, ".") {
		key := part
		index := -1
		if m := indexedPart.FindStringSubmatch(part); m != nil {
			key = m[1]
			index, _ = strconv.Atoi(m[2])
		}

		if key != "" {
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, false
			}
			current, ok = obj[key]
			if !ok {
				return nil, false
			}
		}

		if index >= 0 {
			list, ok := current.([]interface{})
			if !ok || index >= len(list) {
				return nil, false
			}
			current = list[index]
		}
	}

	return current, true
}

func evaluateOne(body map[string]interface{}, spec Spec) error {
	observed, found := Lookup(body, spec.Field)

	fail := func(message string) error {
		return &Failure{Spec: spec, Observed: observed, Message: message}
	}

	switch spec.Kind {
	case KindEquals, "":
		if !valuesEqual(observed, spec.Expected) {
			return fail(fmt.Sprintf("expected %v", spec.Expected))
		}
	case KindNotEquals:
		if valuesEqual(observed, spec.Expected) {
			return fail(fmt.Sprintf("expected anything but %v", spec.Expected))
		}
	case KindIsNull:
		if found && observed != nil {
			return fail("expected null")
		}
	case KindIsNotNull:
		if !found || observed == nil {
			return fail("expected a non-null value")
		}
	case KindContains:
		s, ok := observed.(string)
		if !ok {
			return fail("contains requires a string value")
		}
		want := fmt.Sprintf("%v", spec.Expected)
		if !strings.Contains(s, want) {
			return fail(fmt.Sprintf("expected to contain %q", want))
		}
	case KindMatchesRegex:
		pattern, ok := spec.Expected.(string)
		if !ok {
			return fail("matches_regex requires a string pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fail(fmt.Sprintf("invalid pattern %q: %v", pattern, err))
		}
		if observed == nil || !re.MatchString(fmt.Sprintf("%v", observed)) {
			return fail(fmt.Sprintf("expected to match %q", pattern))
		}
	case KindTypeIs:
		want := fmt.Sprintf("%v", spec.Expected)
		if got := jsonTypeName(observed); got != want {
			return fail(fmt.Sprintf("expected type %s, got %s", want, got))
		}
	case KindGreaterThan:
		return compareNumeric(spec, observed, fail, func(a, b float64) bool { return a > b })
	case KindLessThan:
		return compareNumeric(spec, observed, fail, func(a, b float64) bool { return a < b })
	case KindLengthEquals:
		length, ok := lengthOf(observed)
		if !ok {
			return fail("value has no length")
		}
		want, ok := toFloat(spec.Expected)
		if !ok || float64(length) != want {
			return fail(fmt.Sprintf("expected length %v, got %d", spec.Expected, length))
		}
	default:
		return fail(fmt.Sprintf("unknown assertion kind %q", spec.Kind))
	}

	return nil
}

func compareNumeric(spec Spec, observed interface{}, fail func(string) error, cmp func(a, b float64) bool) error {
	a, okA := toFloat(observed)
	b, okB := toFloat(spec.Expected)
	if !okA || !okB {
		return fail("numeric comparison requires numeric values")
	}
	if !cmp(a, b) {
		return fail(fmt.Sprintf("expected %s %v", spec.Kind, spec.Expected))
	}
	return nil
}

// valuesEqual compares loosely across the numeric representations JSON
// decoding produces (int vs float64) and falls back to string forms for
// other mismatched types.
func valuesEqual(actual, expected interface{}) bool {
	if actual == nil || expected == nil {
		return actual == expected
	}
	if a, ok := toFloat(actual); ok {
		if b, ok := toFloat(expected); ok {
			return a == b
		}
	}
	if a, ok := actual.(bool); ok {
		if b, ok := expected.(bool); ok {
			return a == b
		}
	}
	if a, ok := actual.(string); ok {
		if b, ok := expected.(string); ok {
			return a == b
		}
	}
	return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func lengthOf(v interface{}) (int, bool) {
	switch val := v.(type) {
	case string:
		return len(val), true
	case []interface{}:
		return len(val), true
	case map[string]interface{}:
		return len(val), true
	}
	return 0, false
}

func jsonTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int64, uint64:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
