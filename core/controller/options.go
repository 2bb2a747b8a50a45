package controller

import (
	"github.com/artpar/restmod/core/schema"
	"github.com/artpar/restmod/core/storage"
)

// Options overrides the generated resource per operation. Every field is
// optional and falls back to the generated default on its own.
type Options struct {
	Routes      RouteSet
	Controllers ControllerSet
}

// RouteOptions overrides the generated route of one operation.
type RouteOptions = schema.RouteOptions

// RouteSet has one entry per operation.
type RouteSet = schema.RouteSet

// ControllerOptions overrides the generated controller of one operation.
type ControllerOptions struct {
	// Handler replaces the generated handler. Validation and response
	// rules stay in place unless overridden too.
	Handler HandlerFunc

	// Validate replaces the generated request rules, per request part.
	Validate *schema.ValidateOptions

	// Response replaces the generated response shape.
	Response *schema.ResponseOptions

	// Filter includes or excludes fields from the default projection.
	Filter map[string]bool

	// Condition derives a query condition from the request.
	Condition func(*Request) storage.Cond

	// Sort derives the result order from the request.
	Sort func(*Request) []storage.Sort
}

// ControllerSet has one entry per operation.
type ControllerSet struct {
	GetAll *ControllerOptions
	GetOne *ControllerOptions
	Create *ControllerOptions
	Update *ControllerOptions
	Remove *ControllerOptions
}

// For returns the controller options of op, or nil.
func (s ControllerSet) For(op schema.Operation) *ControllerOptions {
	switch op {
	case schema.OpGetAll:
		return s.GetAll
	case schema.OpGetOne:
		return s.GetOne
	case schema.OpCreate:
		return s.Create
	case schema.OpUpdate:
		return s.Update
	case schema.OpRemove:
		return s.Remove
	}
	return nil
}

func (s *ControllerSet) set(op schema.Operation, o *ControllerOptions) {
	switch op {
	case schema.OpGetAll:
		s.GetAll = o
	case schema.OpGetOne:
		s.GetOne = o
	case schema.OpCreate:
		s.Create = o
	case schema.OpUpdate:
		s.Update = o
	case schema.OpRemove:
		s.Remove = o
	}
}

// FromSchema converts file-declared options.
func FromSchema(o schema.Options) Options {
	out := Options{Routes: o.Routes}

	for _, op := range schema.Operations {
		c := o.Controllers.For(op)
		if c == nil {
			continue
		}
		co := &ControllerOptions{
			Validate: c.Validate,
			Response: c.Response,
			Filter:   c.Filter,
		}
		if len(c.Sort) > 0 {
			sorts := make([]storage.Sort, len(c.Sort))
			for i, k := range c.Sort {
				sorts[i] = storage.Sort{Field: k.Field, Desc: k.Desc}
			}
			co.Sort = func(*Request) []storage.Sort { return sorts }
		}
		out.Controllers.set(op, co)
	}

	return out
}

// Merge overlays over onto base field by field. Fields over leaves unset
// keep base's value.
func Merge(base, over Options) Options {
	var out Options

	for _, op := range schema.Operations {
		out.Routes = setRoute(out.Routes, op, mergeRoute(base.Routes.For(op), over.Routes.For(op)))
		out.Controllers.set(op, mergeController(base.Controllers.For(op), over.Controllers.For(op)))
	}

	return out
}

func mergeRoute(base, over *RouteOptions) *RouteOptions {
	if base == nil && over == nil {
		return nil
	}
	out := &RouteOptions{}
	if base != nil {
		*out = *base
	}
	if over == nil {
		return out
	}
	if over.Disable {
		out.Disable = true
	}
	if over.Description != "" {
		out.Description = over.Description
	}
	if over.Notes != "" {
		out.Notes = over.Notes
	}
	if over.Auth != "" {
		out.Auth = over.Auth
	}
	return out
}

func mergeController(base, over *ControllerOptions) *ControllerOptions {
	if base == nil && over == nil {
		return nil
	}
	out := &ControllerOptions{}
	if base != nil {
		*out = *base
	}
	if over == nil {
		return out
	}
	if over.Handler != nil {
		out.Handler = over.Handler
	}
	if over.Validate != nil {
		out.Validate = over.Validate
	}
	if over.Response != nil {
		out.Response = over.Response
	}
	if over.Filter != nil {
		out.Filter = over.Filter
	}
	if over.Condition != nil {
		out.Condition = over.Condition
	}
	if over.Sort != nil {
		out.Sort = over.Sort
	}
	return out
}

func setRoute(s RouteSet, op schema.Operation, o *RouteOptions) RouteSet {
	switch op {
	case schema.OpGetAll:
		s.GetAll = o
	case schema.OpGetOne:
		s.GetOne = o
	case schema.OpCreate:
		s.Create = o
	case schema.OpUpdate:
		s.Update = o
	case schema.OpRemove:
		s.Remove = o
	}
	return s
}
