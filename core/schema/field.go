package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Field is one field descriptor of an entity schema.
type Field struct {
	// Type is the semantic storage type of the field.
	Type FieldType `yaml:"type"`

	// Required marks the field mandatory on create.
	Required bool `yaml:"required,omitempty"`

	// Unique makes the store reject two records with the same value.
	Unique bool `yaml:"unique,omitempty"`

	// Trim strips surrounding whitespace from string values before storage.
	Trim bool `yaml:"trim,omitempty"`

	// Secret values are hashed before storage and never replied.
	Secret bool `yaml:"secret,omitempty"`

	// Rule is the validation rule applied to writes and used as the response shape.
	Rule *Rule `yaml:"rule,omitempty"`

	// Reply set to false removes the field from every response.
	Reply *bool `yaml:"reply,omitempty"`

	// Validated set to false removes the field from write validation.
	Validated *bool `yaml:"validated,omitempty"`

	// Join declares the field a foreign key resolved into a virtual accessor.
	Join *JoinSpec `yaml:"join,omitempty"`

	// Description is used in generated API docs.
	Description string `yaml:"description,omitempty"`
}

// FieldType represents the semantic storage type of a field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
	FieldTypeArray   FieldType = "array"
	FieldTypeObject  FieldType = "object"
)

// IsReplied reports whether the field may appear in responses.
func (f Field) IsReplied() bool {
	if f.Secret {
		return false
	}
	return f.Reply == nil || *f.Reply
}

// IsValidated reports whether the field takes part in write validation.
func (f Field) IsValidated() bool {
	return f.Validated == nil || *f.Validated
}

// JoinSpec declares that a field holds a foreign key into another entity.
type JoinSpec struct {
	// Virtual is the name of the accessor the joined data appears under.
	Virtual string `yaml:"virtual"`

	// Ref is the target entity name.
	Ref string `yaml:"ref"`

	// LocalField defaults to the field carrying the join.
	LocalField string `yaml:"local_field,omitempty"`

	// ForeignField defaults to the target's surrogate id.
	ForeignField string `yaml:"foreign_field,omitempty"`

	// JustOne constrains the join to at most one match.
	JustOne bool `yaml:"just_one,omitempty"`

	// Reply lists the joined sub-fields exposed when populated.
	Reply Rules `yaml:"reply,omitempty"`
}

// NamedField pairs a field name with its descriptor. Field is nil when the
// schema declares the name with a null descriptor.
type NamedField struct {
	Name  string
	Field *Field
}

// Fields is an ordered list of field descriptors.
// Order follows declaration order and drives projection order.
type Fields []NamedField

// Get returns the descriptor for name.
func (fs Fields) Get(name string) (*Field, bool) {
	for _, nf := range fs {
		if nf.Name == name {
			return nf.Field, true
		}
	}
	return nil, false
}

// Names returns the field names in declaration order.
func (fs Fields) Names() []string {
	names := make([]string, len(fs))
	for i, nf := range fs {
		names[i] = nf.Name
	}
	return names
}

// UnmarshalYAML decodes a mapping while keeping key order.
func (fs *Fields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: schema must be a mapping", node.Line)
	}

	out := make(Fields, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]

		nf := NamedField{Name: key.Value}
		if !isNull(val) {
			var f Field
			if err := decodeStrict(val, &f); err != nil {
				return fmt.Errorf("field %q: %w", key.Value, err)
			}
			nf.Field = &f
		}
		out = append(out, nf)
	}

	*fs = out
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}
