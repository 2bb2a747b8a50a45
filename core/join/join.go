// Package join resolves join specs into store lookups and the response rules
// of their virtual accessors.
package join

import (
	"fmt"

	"github.com/artpar/restmod/core/projection"
	"github.com/artpar/restmod/core/schema"
	"github.com/artpar/restmod/core/storage"
	"github.com/artpar/restmod/core/validation"
)

// Plan is the ordered set of lookups an entity's reads perform.
type Plan struct {
	lookups  []storage.Lookup
	virtuals schema.Rules

	// embedded holds the per-record rule of each lookup, and declared
	// whether its join spec listed reply sub-fields.
	embedded []*schema.Rule
	declared []bool
}

// Resolve builds the plan for joins. It returns a *schema.ConfigError for
// missing virtual or ref names and for virtual name collisions.
//
// A join without reply sub-fields selects only the target's id until Bind
// widens it to the target's replied fields.
func Resolve(joins []validation.NamedJoin) (*Plan, error) {
	p := &Plan{}
	seen := make(map[string]bool, len(joins))

	for _, j := range joins {
		spec := j.Spec
		switch {
		case spec.Virtual == "":
			return nil, schema.Configf(j.Field, "join requires a virtual name")
		case spec.Ref == "":
			return nil, schema.Configf(j.Field, "join requires a ref entity")
		case seen[spec.Virtual]:
			return nil, schema.Configf(j.Field, "join virtual %q declared twice", spec.Virtual)
		}
		seen[spec.Virtual] = true

		local := spec.LocalField
		if local == "" {
			local = j.Field
		}
		foreign := spec.ForeignField
		if foreign == "" {
			foreign = validation.IDField
		}

		reply := spec.Reply
		if len(reply) == 0 {
			reply = schema.Rules{{Name: validation.IDField, Rule: &schema.Rule{Type: schema.RuleIdentifier}}}
		}
		embedded := &schema.Rule{Type: schema.RuleObject, Fields: replyRules(reply)}

		p.lookups = append(p.lookups, storage.Lookup{
			As:           spec.Virtual,
			From:         spec.Ref,
			LocalField:   local,
			ForeignField: foreign,
			JustOne:      spec.JustOne,
			Select:       reply.Names(),
		})
		p.virtuals = append(p.virtuals, schema.NamedRule{Name: spec.Virtual, Rule: virtualRule(embedded, spec.JustOne)})
		p.embedded = append(p.embedded, embedded)
		p.declared = append(p.declared, len(spec.Reply) > 0)
	}

	return p, nil
}

// virtualRule describes an accessor: an array of embedded objects, or a
// nullable embedded object when the join yields at most one.
func virtualRule(embedded *schema.Rule, justOne bool) *schema.Rule {
	if justOne {
		embedded.Nullable = true
		return embedded
	}
	return &schema.Rule{Type: schema.RuleArray, Items: embedded}
}

// Bind checks every lookup against the replied fields of its target entity.
// replied returns those rules, or false for an unknown entity. Joins that
// declared no reply sub-fields select all of them; declared sub-fields must
// all be replied by the target, so hidden and secret fields never leak
// through a join. Bind must run before the plan serves requests.
func (p *Plan) Bind(replied func(entity string) (schema.Rules, bool)) error {
	for i, l := range p.lookups {
		target, ok := replied(l.From)
		if !ok {
			return schema.Configf(l.As, "join references unknown entity %q", l.From)
		}

		if p.declared[i] {
			for _, name := range l.Select {
				if _, ok := target.Get(name); !ok {
					return schema.Configf(l.As, "join reply field %q is not replied by %s", name, l.From)
				}
			}
			continue
		}

		p.lookups[i].Select = target.Names()
		p.embedded[i].Fields = replyRules(target)
	}
	return nil
}

// replyRules makes joined sub-field rules optional; joined documents may lack them.
func replyRules(rules schema.Rules) schema.Rules {
	out := make(schema.Rules, len(rules))
	for i, nr := range rules {
		out[i] = schema.NamedRule{Name: nr.Name, Rule: nr.Rule.WithRequired(false)}
	}
	return out
}

// Names returns the virtual accessor names in declaration order.
func (p *Plan) Names() []string {
	return p.virtuals.Names()
}

// Virtuals returns the response rule of each accessor.
func (p *Plan) Virtuals() schema.Rules {
	return p.virtuals
}

// Lookups returns every lookup of the plan.
func (p *Plan) Lookups() []storage.Lookup {
	out := make([]storage.Lookup, len(p.lookups))
	copy(out, p.lookups)
	return out
}

// For returns the lookups whose accessor filter includes.
func (p *Plan) For(filter *projection.Filter) []storage.Lookup {
	var out []storage.Lookup
	for _, l := range p.lookups {
		if filter == nil || filter.Includes(l.As) {
			out = append(out, l)
		}
	}
	return out
}

func (p *Plan) String() string {
	return fmt.Sprintf("join.Plan(%v)", p.Names())
}
