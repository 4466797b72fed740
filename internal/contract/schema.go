package contract

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// fieldSpec is the YAML shape of a single schema field.
type fieldSpec struct {
	Type      FieldType     `yaml:"type"`
	Required  bool          `yaml:"required"`
	MinLength *int          `yaml:"min_length"`
	MaxLength *int          `yaml:"max_length"`
	Enum      []interface{} `yaml:"enum"`
	Format    string        `yaml:"format"`
}

// UnmarshalYAML decodes the schema mapping while preserving the field
// declaration order. A plain map decode would lose it, and mutation
// sequences must be stable across runs of the same suite file.
func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("schema must be a mapping, got %s", nodeKindName(node.Kind))
	}

	s.Fields = s.Fields[:0]
	for i := 0; i < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valueNode := node.Content[i+1]

		var spec fieldSpec
		if err := valueNode.Decode(&spec); err != nil {
			return fmt.Errorf("field %s: %w", keyNode.Value, err)
		}

		field, err := spec.toField(keyNode.Value)
		if err != nil {
			return err
		}
		s.Fields = append(s.Fields, field)
	}

	return nil
}

func (spec fieldSpec) toField(name string) (Field, error) {
	switch spec.Type {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject:
	case "":
		return Field{}, fmt.Errorf("field %s: missing type", name)
	default:
		return Field{}, fmt.Errorf("field %s: unknown type %q", name, spec.Type)
	}

	field := Field{
		Name:     name,
		Type:     spec.Type,
		Required: spec.Required,
	}

	if spec.MinLength != nil || spec.MaxLength != nil {
		if spec.Type != TypeString {
			return Field{}, fmt.Errorf("field %s: length bounds require type string", name)
		}
		if spec.MinLength != nil && *spec.MinLength < 0 {
			return Field{}, fmt.Errorf("field %s: min_length must not be negative", name)
		}
		if spec.MinLength != nil && spec.MaxLength != nil && *spec.MinLength > *spec.MaxLength {
			return Field{}, fmt.Errorf("field %s: min_length exceeds max_length", name)
		}
		field.Constraints = append(field.Constraints, LengthBound{Min: spec.MinLength, Max: spec.MaxLength})
	}
	if len(spec.Enum) > 0 {
		field.Constraints = append(field.Constraints, EnumSet{Values: spec.Enum})
	}
	if spec.Format != "" {
		if spec.Type != TypeString {
			return Field{}, fmt.Errorf("field %s: format requires type string", name)
		}
		field.Constraints = append(field.Constraints, Format{Name: spec.Format})
	}

	return field, nil
}

func nodeKindName(kind yaml.Kind) string {
	switch kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}
