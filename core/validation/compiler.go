package validation

import (
	"fmt"

	"github.com/artpar/restmod/core/schema"
)

// IDField is the surrogate id every record carries.
const IDField = "id"

// StorageField is a field descriptor stripped of validation and join metadata.
type StorageField struct {
	Name     string
	Type     schema.FieldType
	Required bool
	Unique   bool
	Trim     bool
	Secret   bool
}

// NamedJoin is a join spec together with the field carrying it.
type NamedJoin struct {
	Field string
	Spec  schema.JoinSpec
}

// Compiled holds the rule sets and storage descriptors derived from a schema.
type Compiled struct {
	// Create validates create payloads. Required fields are mandatory.
	Create schema.Rules

	// Update validates update payloads. Every key is optional.
	Update schema.Rules

	// Reply describes the replied fields, starting with id.
	Reply schema.Rules

	// Storage is what the persistence layer sees of each field.
	Storage []StorageField

	// Joins lists the join specs in declaration order.
	Joins []NamedJoin
}

// Compile derives rule sets and storage descriptors from field descriptors.
// It returns a *schema.ConfigError when a descriptor is null or invalid.
func Compile(fields schema.Fields) (Compiled, error) {
	if problems := schema.ValidateFields(fields); len(problems) > 0 {
		return Compiled{}, &schema.ConfigError{Source: "schema", Problems: problems}
	}

	formats := New()
	var c Compiled

	c.Reply = append(c.Reply, schema.NamedRule{
		Name: IDField,
		Rule: &schema.Rule{Type: schema.RuleIdentifier, Description: "surrogate id"},
	})

	for _, nf := range fields {
		name, f := nf.Name, nf.Field

		if f.Rule != nil {
			if err := checkFormats(formats, name, f.Rule); err != nil {
				return Compiled{}, schema.Configf("schema", "%v", err)
			}
		}

		if f.Rule != nil && f.IsValidated() {
			c.Update = append(c.Update, schema.NamedRule{Name: name, Rule: f.Rule})
			c.Create = append(c.Create, schema.NamedRule{Name: name, Rule: f.Rule.WithRequired(f.Required)})
		}

		if f.IsReplied() {
			rule := f.Rule
			if rule == nil {
				rule = schema.RuleFor(f.Type)
			}
			// Reply rules never require a key; stored documents may omit optional fields.
			c.Reply = append(c.Reply, schema.NamedRule{Name: name, Rule: rule.WithRequired(false)})
		}

		c.Storage = append(c.Storage, StorageField{
			Name:     name,
			Type:     f.Type,
			Required: f.Required,
			Unique:   f.Unique,
			Trim:     f.Trim,
			Secret:   f.Secret,
		})

		if f.Join != nil {
			c.Joins = append(c.Joins, NamedJoin{Field: name, Spec: *f.Join})
		}
	}

	return c, nil
}

// ReplyNames returns the replied field names, id first.
func (c Compiled) ReplyNames() []string {
	return c.Reply.Names()
}

func checkFormats(v *Validator, path string, rule *schema.Rule) error {
	if rule.Format != "" {
		if err := v.CheckFormat(rule.Format); err != nil {
			return fmt.Errorf("field %s: %w", path, err)
		}
	}
	if rule.Items != nil {
		if err := checkFormats(v, path+"[]", rule.Items); err != nil {
			return err
		}
	}
	for _, nr := range rule.Fields {
		if err := checkFormats(v, path+"."+nr.Name, nr.Rule); err != nil {
			return err
		}
	}
	return nil
}
