package schema

import "fmt"

// Operation names one of the five generated resource operations.
type Operation string

const (
	OpGetAll Operation = "getAll"
	OpGetOne Operation = "getOne"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpRemove Operation = "remove"
)

// Operations lists the operations in route-table order.
var Operations = []Operation{OpGetAll, OpGetOne, OpUpdate, OpRemove, OpCreate}

// Options holds the static, file-declared overrides of a resource.
// Handlers, conditions and sort functions can only be supplied from Go.
type Options struct {
	Routes      RouteSet      `yaml:"routes,omitempty"`
	Controllers ControllerSet `yaml:"controllers,omitempty"`
}

// RouteSet has one entry per operation.
type RouteSet struct {
	GetAll *RouteOptions `yaml:"getAll,omitempty"`
	GetOne *RouteOptions `yaml:"getOne,omitempty"`
	Create *RouteOptions `yaml:"create,omitempty"`
	Update *RouteOptions `yaml:"update,omitempty"`
	Remove *RouteOptions `yaml:"remove,omitempty"`
}

// For returns the route options of op, or nil.
func (s RouteSet) For(op Operation) *RouteOptions {
	switch op {
	case OpGetAll:
		return s.GetAll
	case OpGetOne:
		return s.GetOne
	case OpCreate:
		return s.Create
	case OpUpdate:
		return s.Update
	case OpRemove:
		return s.Remove
	}
	return nil
}

// RouteOptions overrides the generated route of one operation.
type RouteOptions struct {
	Disable     bool   `yaml:"disable,omitempty"`
	Description string `yaml:"description,omitempty"`
	Notes       string `yaml:"notes,omitempty"`
	Auth        string `yaml:"auth,omitempty"`
}

// ControllerSet has one entry per operation.
type ControllerSet struct {
	GetAll *ControllerOptions `yaml:"getAll,omitempty"`
	GetOne *ControllerOptions `yaml:"getOne,omitempty"`
	Create *ControllerOptions `yaml:"create,omitempty"`
	Update *ControllerOptions `yaml:"update,omitempty"`
	Remove *ControllerOptions `yaml:"remove,omitempty"`
}

// For returns the controller options of op, or nil.
func (s ControllerSet) For(op Operation) *ControllerOptions {
	switch op {
	case OpGetAll:
		return s.GetAll
	case OpGetOne:
		return s.GetOne
	case OpCreate:
		return s.Create
	case OpUpdate:
		return s.Update
	case OpRemove:
		return s.Remove
	}
	return nil
}

// ControllerOptions overrides the generated controller of one operation.
type ControllerOptions struct {
	// Validate replaces the generated request rules, per request part.
	Validate *ValidateOptions `yaml:"validate,omitempty"`

	// Response replaces the generated response shape.
	Response *ResponseOptions `yaml:"response,omitempty"`

	// Filter includes (true) or excludes (false) fields from the default projection.
	Filter map[string]bool `yaml:"filter,omitempty"`

	// Sort replaces the default sort (id descending).
	Sort []SortKey `yaml:"sort,omitempty"`
}

// ValidateOptions holds request rules. A nil part keeps the generated rules.
type ValidateOptions struct {
	Params  Rules `yaml:"params,omitempty"`
	Query   Rules `yaml:"query,omitempty"`
	Payload Rules `yaml:"payload,omitempty"`
}

// ResponseOptions describes the reply body.
type ResponseOptions struct {
	// Schema is the full shape of the reply body.
	Schema *Rule `yaml:"schema,omitempty"`

	// Sample is the percentage of replies validated against Schema.
	Sample *int `yaml:"sample,omitempty"`
}

// SortKey orders results by one field.
type SortKey struct {
	Field string `yaml:"field"`
	Desc  bool   `yaml:"desc,omitempty"`
}

// Check validates option values that YAML typing cannot.
func (o Options) Check() error {
	for _, op := range Operations {
		c := o.Controllers.For(op)
		if c == nil {
			continue
		}
		path := fmt.Sprintf("options.controllers.%s", op)
		if c.Validate != nil {
			for part, rs := range map[string]Rules{
				"params":  c.Validate.Params,
				"query":   c.Validate.Query,
				"payload": c.Validate.Payload,
			} {
				if err := rs.Check(path + ".validate." + part); err != nil {
					return err
				}
			}
		}
		if c.Response != nil {
			if c.Response.Schema != nil {
				if err := c.Response.Schema.Check(path + ".response.schema"); err != nil {
					return err
				}
			}
			if s := c.Response.Sample; s != nil && (*s < 0 || *s > 100) {
				return fmt.Errorf("%s.response.sample: %d is outside 0..100", path, *s)
			}
		}
		for _, k := range c.Sort {
			if !isValidFieldPath(k.Field) {
				return fmt.Errorf("%s.sort: invalid field %q", path, k.Field)
			}
		}
	}
	return nil
}
