package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is a structural validation rule for one value.
// The same rule validates writes and describes the response shape.
type Rule struct {
	// Type is the value type. See RuleType constants.
	Type RuleType `yaml:"type"`

	// Format is a validator tag (email, uri, http_url, uuid, ...).
	Format string `yaml:"format,omitempty"`

	// Pattern is a regular expression string values must match.
	Pattern string `yaml:"pattern,omitempty"`

	// Min and Max bound numbers by value and strings/arrays by length.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// Enum lists the only accepted values.
	Enum []any `yaml:"enum,omitempty"`

	// Items validates array elements.
	Items *Rule `yaml:"items,omitempty"`

	// Fields validates object keys. Unknown keys are rejected.
	Fields Rules `yaml:"fields,omitempty"`

	// Required makes the key mandatory in its enclosing object.
	Required bool `yaml:"required,omitempty"`

	// Nullable accepts an explicit null.
	Nullable bool `yaml:"nullable,omitempty"`

	// Default is applied when the key is absent.
	Default any `yaml:"default,omitempty"`

	// Description is used in generated API docs.
	Description string `yaml:"description,omitempty"`

	// Message replaces the generated error message.
	Message string `yaml:"message,omitempty"`

	re *regexp.Regexp
}

// RuleType identifies the type a rule accepts.
type RuleType string

const (
	RuleString  RuleType = "string"
	RuleNumber  RuleType = "number"
	RuleInteger RuleType = "integer"
	RuleBoolean RuleType = "boolean"
	RuleDate    RuleType = "date"
	RuleArray   RuleType = "array"
	RuleObject  RuleType = "object"
	RuleAny     RuleType = "any"

	// RuleIdentifier accepts a surrogate id: an integer or its string form.
	RuleIdentifier RuleType = "identifier"
)

// Clone returns a shallow copy of the rule.
func (r *Rule) Clone() *Rule {
	c := *r
	return &c
}

// WithRequired returns a copy of the rule with Required set to req.
func (r *Rule) WithRequired(req bool) *Rule {
	c := r.Clone()
	c.Required = req
	return c
}

// Regexp returns the compiled pattern, or nil when the rule has none.
func (r *Rule) Regexp() *regexp.Regexp {
	if r.re != nil || r.Pattern == "" {
		return r.re
	}
	// Rule was never checked; compile without caching so concurrent readers stay safe.
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return nil
	}
	return re
}

// Check validates the rule definition and compiles its pattern.
// It must run before the rule is shared between goroutines.
func (r *Rule) Check(path string) error {
	if r == nil {
		return fmt.Errorf("%s: rule is null", path)
	}
	if !isValidRuleType(r.Type) {
		return fmt.Errorf("%s: unknown rule type %q", path, r.Type)
	}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("%s: invalid pattern: %w", path, err)
		}
		r.re = re
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fmt.Errorf("%s: min %v is greater than max %v", path, *r.Min, *r.Max)
	}
	if r.Items != nil {
		if r.Type != RuleArray {
			return fmt.Errorf("%s: items requires type array", path)
		}
		if err := r.Items.Check(path + "[]"); err != nil {
			return err
		}
	}
	if len(r.Fields) > 0 && r.Type != RuleObject {
		return fmt.Errorf("%s: fields requires type object", path)
	}
	for _, nr := range r.Fields {
		if err := nr.Rule.Check(path + "." + nr.Name); err != nil {
			return err
		}
	}
	return nil
}

func isValidRuleType(t RuleType) bool {
	switch t {
	case RuleString, RuleNumber, RuleInteger, RuleBoolean, RuleDate,
		RuleArray, RuleObject, RuleAny, RuleIdentifier:
		return true
	default:
		return false
	}
}

// RuleFor derives a plain type rule from a field type.
// Used for fields that carry no rule of their own.
func RuleFor(t FieldType) *Rule {
	switch t {
	case FieldTypeNumber:
		return &Rule{Type: RuleNumber}
	case FieldTypeBoolean:
		return &Rule{Type: RuleBoolean}
	case FieldTypeDate:
		return &Rule{Type: RuleDate}
	case FieldTypeArray:
		return &Rule{Type: RuleArray}
	case FieldTypeObject:
		return &Rule{Type: RuleObject}
	case FieldTypeString:
		return &Rule{Type: RuleString}
	default:
		return &Rule{Type: RuleAny}
	}
}

// NamedRule pairs a key with its rule.
type NamedRule struct {
	Name string
	Rule *Rule
}

// Rules is an ordered set of keyed rules, one per object key.
type Rules []NamedRule

// Get returns the rule for name.
func (rs Rules) Get(name string) (*Rule, bool) {
	for _, nr := range rs {
		if nr.Name == name {
			return nr.Rule, true
		}
	}
	return nil, false
}

// Names returns the keys in order.
func (rs Rules) Names() []string {
	names := make([]string, len(rs))
	for i, nr := range rs {
		names[i] = nr.Name
	}
	return names
}

// Check validates every rule in the set.
func (rs Rules) Check(path string) error {
	seen := make(map[string]bool, len(rs))
	for _, nr := range rs {
		if seen[nr.Name] {
			return fmt.Errorf("%s.%s: duplicate key", path, nr.Name)
		}
		seen[nr.Name] = true
		if err := nr.Rule.Check(path + "." + nr.Name); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalYAML decodes a mapping of key to rule, keeping key order.
func (rs *Rules) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: rules must be a mapping", node.Line)
	}

	out := make(Rules, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]

		nr := NamedRule{Name: key.Value}
		if !isNull(val) {
			var r Rule
			if err := decodeStrict(val, &r); err != nil {
				return fmt.Errorf("rule %q: %w", key.Value, err)
			}
			nr.Rule = &r
		}
		out = append(out, nr)
	}

	*rs = out
	return nil
}

// ConstraintError represents one validation failure.
type ConstraintError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Value      any    `json:"value,omitempty"`
	Message    string `json:"message"`
}

func (e ConstraintError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult holds all validation errors for a value.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ConstraintError `json:"errors,omitempty"`
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, constraint string, value any, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ConstraintError{
		Field:      field,
		Constraint: constraint,
		Value:      value,
		Message:    message,
	})
}

// Error returns a combined error message.
func (r ValidationResult) Error() string {
	if r.Valid {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// ToFloat64 converts numeric values and numeric strings to float64.
func ToFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}
