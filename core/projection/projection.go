// Package projection computes which fields each operation returns and the
// response shape that follows from it.
package projection

import (
	"strings"

	"github.com/artpar/restmod/core/schema"
)

// InternalID is the store's own record key. It is never replied by default.
const InternalID = "_id"

type entry struct {
	name    string
	include bool
	virtual bool
}

// Filter is an ordered include/exclude list over field names.
// A Filter is immutable; Apply returns a new one.
type Filter struct {
	entries []entry
}

// Default builds the default projection: _id excluded, id included, then every
// replied field in order, then every virtual accessor.
func Default(fields []string, virtuals []string) *Filter {
	f := &Filter{entries: []entry{
		{name: InternalID, include: false},
		{name: "id", include: true},
	}}
	for _, name := range fields {
		if name == "id" || name == InternalID {
			continue
		}
		f.entries = append(f.entries, entry{name: name, include: true})
	}
	for _, name := range virtuals {
		f.entries = append(f.entries, entry{name: name, include: true, virtual: true})
	}
	return f
}

// Apply overlays per-field decisions. Fields not mentioned keep their state.
// _id can only be excluded, and names outside the default projection are
// ignored, so reply=false fields can never be forced in.
func (f *Filter) Apply(override map[string]bool) *Filter {
	out := &Filter{entries: make([]entry, len(f.entries))}
	copy(out.entries, f.entries)

	for i, e := range out.entries {
		include, ok := override[e.name]
		if !ok || e.name == InternalID {
			continue
		}
		out.entries[i].include = include
	}
	return out
}

// Includes reports whether name is part of the projection.
func (f *Filter) Includes(name string) bool {
	for _, e := range f.entries {
		if e.name == name {
			return e.include
		}
	}
	return false
}

// Fields lists the included stored fields in order.
func (f *Filter) Fields() []string {
	var out []string
	for _, e := range f.entries {
		if e.include && !e.virtual {
			out = append(out, e.name)
		}
	}
	return out
}

// Virtuals lists the included virtual accessors in order.
func (f *Filter) Virtuals() []string {
	var out []string
	for _, e := range f.entries {
		if e.include && e.virtual {
			out = append(out, e.name)
		}
	}
	return out
}

// String renders the projection as a select string, e.g. "-_id id title".
func (f *Filter) String() string {
	parts := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		switch {
		case e.virtual:
		case e.name == InternalID && !e.include:
			parts = append(parts, "-"+InternalID)
		case e.include:
			parts = append(parts, e.name)
		}
	}
	return strings.Join(parts, " ")
}

// Shape builds the object rules a response record must satisfy under filter.
// reply holds the replied field rules; virtuals holds one rule per accessor.
func Shape(f *Filter, reply schema.Rules, virtuals schema.Rules) schema.Rules {
	var out schema.Rules

	for _, e := range f.entries {
		if !e.include {
			continue
		}

		var rule *schema.Rule
		switch {
		case e.name == InternalID:
			rule = &schema.Rule{Type: schema.RuleAny}
		case e.name == "id":
			rule = &schema.Rule{Type: schema.RuleIdentifier}
		case e.virtual:
			rule, _ = virtuals.Get(e.name)
		default:
			rule, _ = reply.Get(e.name)
		}
		if rule == nil {
			continue
		}

		out = append(out, schema.NamedRule{Name: e.name, Rule: rule})
	}

	return out
}

// Object wraps a shape into a single-record rule.
func Object(shape schema.Rules) *schema.Rule {
	return &schema.Rule{Type: schema.RuleObject, Fields: shape}
}

// List wraps a shape into a rule for an array of records.
func List(shape schema.Rules) *schema.Rule {
	return &schema.Rule{Type: schema.RuleArray, Items: Object(shape)}
}
