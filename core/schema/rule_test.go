package schema

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func ptr[T any](v T) *T { return &v }

func TestRuleCheck(t *testing.T) {
	tests := []struct {
		name    string
		rule    *Rule
		wantErr string
	}{
		{"valid string", &Rule{Type: RuleString, Min: ptr(1.0), Max: ptr(10.0)}, ""},
		{"nil rule", nil, "rule is null"},
		{"unknown type", &Rule{Type: "text"}, "unknown rule type"},
		{"bad pattern", &Rule{Type: RuleString, Pattern: "("}, "invalid pattern"},
		{"min over max", &Rule{Type: RuleNumber, Min: ptr(3.0), Max: ptr(1.0)}, "greater than max"},
		{"items on string", &Rule{Type: RuleString, Items: &Rule{Type: RuleString}}, "items requires type array"},
		{"bad item", &Rule{Type: RuleArray, Items: &Rule{Type: "bogus"}}, "x[]"},
		{"fields on array", &Rule{Type: RuleArray, Fields: Rules{{Name: "a", Rule: &Rule{Type: RuleAny}}}}, "fields requires type object"},
		{"bad nested field", &Rule{Type: RuleObject, Fields: Rules{{Name: "a", Rule: &Rule{Type: "bogus"}}}}, "x.a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Check("x")
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Check() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Check() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRuleCheckCompilesPattern(t *testing.T) {
	r := &Rule{Type: RuleString, Pattern: `^[a-z]+$`}
	if err := r.Check("x"); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	re := r.Regexp()
	if re == nil {
		t.Fatal("Regexp() = nil after Check")
	}
	if !re.MatchString("abc") || re.MatchString("ABC") {
		t.Errorf("compiled pattern %q does not behave", re)
	}
}

func TestRuleWithRequired(t *testing.T) {
	r := &Rule{Type: RuleString}
	req := r.WithRequired(true)

	if !req.Required {
		t.Error("WithRequired(true).Required = false")
	}
	if r.Required {
		t.Error("WithRequired modified the original rule")
	}
}

func TestRuleFor(t *testing.T) {
	tests := []struct {
		in   FieldType
		want RuleType
	}{
		{FieldTypeString, RuleString},
		{FieldTypeNumber, RuleNumber},
		{FieldTypeBoolean, RuleBoolean},
		{FieldTypeDate, RuleDate},
		{FieldTypeArray, RuleArray},
		{FieldTypeObject, RuleObject},
		{"", RuleAny},
	}

	for _, tt := range tests {
		if got := RuleFor(tt.in).Type; got != tt.want {
			t.Errorf("RuleFor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRulesUnmarshalKeepsOrder(t *testing.T) {
	src := `
zeta: { type: string }
alpha: { type: integer, min: 1 }
mid:
  type: object
  fields:
    b: { type: boolean }
    a: { type: date }
`
	var rs Rules
	if err := yaml.Unmarshal([]byte(src), &rs); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if got := strings.Join(rs.Names(), ","); got != "zeta,alpha,mid" {
		t.Errorf("Names() = %s, want zeta,alpha,mid", got)
	}
	mid, _ := rs.Get("mid")
	if got := strings.Join(mid.Fields.Names(), ","); got != "b,a" {
		t.Errorf("nested Names() = %s, want b,a", got)
	}
}

func TestRulesUnmarshalRejectsUnknownKey(t *testing.T) {
	var rs Rules
	err := yaml.Unmarshal([]byte("a: { type: string, maxLength: 3 }\n"), &rs)
	if err == nil {
		t.Fatal("Unmarshal should reject unknown rule keys")
	}
}

func TestRulesCheckDuplicate(t *testing.T) {
	rs := Rules{
		{Name: "a", Rule: &Rule{Type: RuleString}},
		{Name: "a", Rule: &Rule{Type: RuleString}},
	}
	if err := rs.Check("payload"); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("Check() error = %v, want duplicate key", err)
	}
}

func TestValidationResult(t *testing.T) {
	r := ValidationResult{Valid: true}
	r.AddError("title", "required", nil, "is required")
	r.AddError("pageSize", "max", 200, "must be at most 100")

	if r.Valid {
		t.Error("Valid should be false after AddError")
	}
	want := "title: is required; pageSize: must be at most 100"
	if got := r.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestToFloat64(t *testing.T) {
	tests := []struct {
		in      any
		want    float64
		wantErr bool
	}{
		{3, 3, false},
		{int64(7), 7, false},
		{2.5, 2.5, false},
		{" 42 ", 42, false},
		{"abc", 0, true},
		{true, 0, true},
	}

	for _, tt := range tests {
		got, err := ToFloat64(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ToFloat64(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ToFloat64(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
