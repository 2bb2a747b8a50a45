// Package validation compiles field descriptors into rule sets and validates
// request and response data against them.
// Validation is enforced before any storage operation.
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/artpar/restmod/core/schema"
)

// Mode selects how input values are treated.
type Mode int

const (
	// Strict accepts values only in their native JSON types.
	Strict Mode = iota

	// Convert also accepts the string form of numbers, booleans and
	// identifiers, as path and query parameters arrive as strings.
	Convert
)

// Error is returned when data fails validation.
type Error struct {
	// Source is the validated part: params, query, payload or response.
	Source string

	// Result holds every failure found.
	Result schema.ValidationResult
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Source, e.Result.Error())
}

// Validator validates data against rule sets.
// It is safe for concurrent use.
type Validator struct {
	formats *validator.Validate
}

// New creates a new validator.
func New() *Validator {
	return &Validator{formats: validator.New()}
}

// Object validates data against a keyed rule set and returns the normalized
// copy with defaults applied. Unknown keys are rejected.
func (v *Validator) Object(source string, rules schema.Rules, data map[string]any, mode Mode) (map[string]any, error) {
	result := schema.ValidationResult{Valid: true}

	out := v.object(&result, "", rules, data, mode)
	if !result.Valid {
		return nil, &Error{Source: source, Result: result}
	}
	return out, nil
}

// Value validates a single value against rule and returns its normalized form.
func (v *Validator) Value(source string, rule *schema.Rule, value any, mode Mode) (any, error) {
	result := schema.ValidationResult{Valid: true}

	out := v.value(&result, source, rule, value, mode)
	if !result.Valid {
		return nil, &Error{Source: source, Result: result}
	}
	return out, nil
}

// CheckFormat reports whether tag is a format the validator understands.
func (v *Validator) CheckFormat(tag string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unknown format %q", tag)
		}
	}()
	_ = v.formats.Var("", tag)
	return nil
}

func (v *Validator) object(result *schema.ValidationResult, path string, rules schema.Rules, data map[string]any, mode Mode) map[string]any {
	out := make(map[string]any, len(data))

	// Strict mode - fail loud on keys the rules do not name
	for key := range data {
		if _, ok := rules.Get(key); !ok {
			result.AddError(join(path, key), "unknown_field", key,
				fmt.Sprintf("unknown field '%s' is not allowed", key))
		}
	}

	for _, nr := range rules {
		name, rule := nr.Name, nr.Rule
		value, has := data[name]

		if !has {
			switch {
			case rule.Default != nil:
				out[name] = rule.Default
			case rule.Required:
				addError(result, join(path, name), rule, "required", nil, "is required")
			}
			continue
		}

		out[name] = v.value(result, join(path, name), rule, value, mode)
	}

	return out
}

func (v *Validator) value(result *schema.ValidationResult, path string, rule *schema.Rule, value any, mode Mode) any {
	if value == nil {
		if !rule.Nullable && rule.Type != schema.RuleAny {
			addError(result, path, rule, "null", nil, "must not be null")
		}
		return nil
	}

	switch rule.Type {
	case schema.RuleString:
		return v.stringValue(result, path, rule, value)
	case schema.RuleNumber:
		return numberValue(result, path, rule, value, mode, false)
	case schema.RuleInteger:
		return numberValue(result, path, rule, value, mode, true)
	case schema.RuleBoolean:
		return boolValue(result, path, rule, value, mode)
	case schema.RuleDate:
		return dateValue(result, path, rule, value)
	case schema.RuleIdentifier:
		return identifierValue(result, path, rule, value, mode)
	case schema.RuleArray:
		return v.arrayValue(result, path, rule, value, mode)
	case schema.RuleObject:
		m, ok := value.(map[string]any)
		if !ok {
			addError(result, path, rule, "type", value, "must be an object")
			return value
		}
		if len(rule.Fields) == 0 {
			return m
		}
		return v.object(result, path, rule.Fields, m, mode)
	default:
		return value
	}
}

func (v *Validator) stringValue(result *schema.ValidationResult, path string, rule *schema.Rule, value any) any {
	s, ok := value.(string)
	if !ok {
		addError(result, path, rule, "type", value, "must be a string")
		return value
	}

	n := float64(utf8.RuneCountInString(s))
	if rule.Min != nil && n < *rule.Min {
		addError(result, path, rule, "min", value, fmt.Sprintf("length must be at least %v characters long", *rule.Min))
	}
	if rule.Max != nil && n > *rule.Max {
		addError(result, path, rule, "max", value, fmt.Sprintf("length must be less than or equal to %v characters long", *rule.Max))
	}

	if re := rule.Regexp(); re != nil && !re.MatchString(s) {
		addError(result, path, rule, "pattern", value, fmt.Sprintf("fails to match the required pattern: %s", rule.Pattern))
	}

	if rule.Format != "" {
		if err := v.format(s, rule.Format); err != nil {
			addError(result, path, rule, "format", value, fmt.Sprintf("must be a valid %s", rule.Format))
		}
	}

	checkEnum(result, path, rule, s)
	return s
}

func (v *Validator) format(s, tag string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unknown format %q", tag)
		}
	}()
	return v.formats.Var(s, tag)
}

func numberValue(result *schema.ValidationResult, path string, rule *schema.Rule, value any, mode Mode, integer bool) any {
	var (
		f     float64
		exact int64
		whole bool
	)
	switch n := value.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		exact, whole = int64(n), true
	case int32:
		exact, whole = int64(n), true
	case int64:
		exact, whole = n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			exact, whole = i, true
			break
		}
		parsed, err := n.Float64()
		if err != nil {
			addError(result, path, rule, "type", value, "must be a number")
			return value
		}
		f = parsed
	case string:
		if mode != Convert {
			addError(result, path, rule, "type", value, "must be a number")
			return value
		}
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil && integer {
			exact, whole = i, true
			break
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			addError(result, path, rule, "type", value, "must be a number")
			return value
		}
		f = parsed
	default:
		addError(result, path, rule, "type", value, "must be a number")
		return value
	}

	if whole {
		f = float64(exact)
	} else {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			addError(result, path, rule, "type", value, "must be a number")
			return value
		}
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if integer && (f != math.Trunc(f) || f >= 0x1p63 || f < -0x1p63) {
			addError(result, path, rule, "type", value, "must be an integer")
			return value
		}
	}

	if rule.Min != nil && f < *rule.Min {
		addError(result, path, rule, "min", value, fmt.Sprintf("must be greater than or equal to %v", *rule.Min))
	}
	if rule.Max != nil && f > *rule.Max {
		addError(result, path, rule, "max", value, fmt.Sprintf("must be less than or equal to %v", *rule.Max))
	}

	var out any = f
	switch {
	case integer && whole:
		out = exact
	case integer:
		out = int64(f)
	}
	checkEnum(result, path, rule, out)
	return out
}

func boolValue(result *schema.ValidationResult, path string, rule *schema.Rule, value any, mode Mode) any {
	switch b := value.(type) {
	case bool:
		return b
	case string:
		if mode == Convert {
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed
			}
		}
	}
	addError(result, path, rule, "type", value, "must be a boolean")
	return value
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func dateValue(result *schema.ValidationResult, path string, rule *schema.Rule, value any) any {
	switch d := value.(type) {
	case time.Time:
		return d.UTC().Format(time.RFC3339Nano)
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, d); err == nil {
				return t.UTC().Format(time.RFC3339Nano)
			}
		}
	case float64:
		return time.UnixMilli(int64(d)).UTC().Format(time.RFC3339Nano)
	case int64:
		return time.UnixMilli(d).UTC().Format(time.RFC3339Nano)
	case int:
		return time.UnixMilli(int64(d)).UTC().Format(time.RFC3339Nano)
	}
	addError(result, path, rule, "type", value, "must be a valid date")
	return value
}

func identifierValue(result *schema.ValidationResult, path string, rule *schema.Rule, value any, mode Mode) any {
	switch id := value.(type) {
	case int64:
		return id
	case int:
		return int64(id)
	case int32:
		return int64(id)
	case float64:
		if id == math.Trunc(id) {
			return int64(id)
		}
	case string:
		if id == "" {
			break
		}
		if mode == Convert {
			if n, err := strconv.ParseInt(id, 10, 64); err == nil {
				return n
			}
		}
		return id
	}
	addError(result, path, rule, "type", value, "must be an integer or a string id")
	return value
}

func (v *Validator) arrayValue(result *schema.ValidationResult, path string, rule *schema.Rule, value any, mode Mode) any {
	items, ok := toSlice(value)
	if !ok {
		addError(result, path, rule, "type", value, "must be an array")
		return value
	}

	n := float64(len(items))
	if rule.Min != nil && n < *rule.Min {
		addError(result, path, rule, "min", n, fmt.Sprintf("must contain at least %v items", *rule.Min))
	}
	if rule.Max != nil && n > *rule.Max {
		addError(result, path, rule, "max", n, fmt.Sprintf("must contain less than or equal to %v items", *rule.Max))
	}

	if rule.Items == nil {
		return items
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = v.value(result, fmt.Sprintf("%s[%d]", path, i), rule.Items, item, mode)
	}
	return out
}

// toSlice accepts any slice type; documents decoded by stores may carry typed slices.
func toSlice(value any) ([]any, bool) {
	if s, ok := value.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func checkEnum(result *schema.ValidationResult, path string, rule *schema.Rule, value any) {
	if len(rule.Enum) == 0 {
		return
	}
	for _, allowed := range rule.Enum {
		if equalValues(allowed, value) {
			return
		}
	}
	vals := make([]string, len(rule.Enum))
	for i, e := range rule.Enum {
		vals[i] = fmt.Sprint(e)
	}
	addError(result, path, rule, "enum", value, fmt.Sprintf("must be one of [%s]", strings.Join(vals, ", ")))
}

func equalValues(a, b any) bool {
	fa, errA := schema.ToFloat64(a)
	fb, errB := schema.ToFloat64(b)
	_, aStr := a.(string)
	_, bStr := b.(string)
	if errA == nil && errB == nil && !aStr && !bStr {
		return fa == fb
	}
	return a == b
}

func addError(result *schema.ValidationResult, path string, rule *schema.Rule, constraint string, value any, message string) {
	if rule != nil && rule.Message != "" {
		message = rule.Message
	}
	result.AddError(path, constraint, value, message)
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
