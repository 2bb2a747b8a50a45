package resource

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/artpar/restmod/core/controller"
	"github.com/artpar/restmod/core/convention"
	"github.com/artpar/restmod/core/schema"
	"github.com/artpar/restmod/core/storage"
)

// Hooks customizes one entity from Go.
type Hooks struct {
	// Options is overlaid onto the module file's options field by field.
	Options controller.Options

	// Store replaces the loader's store for this entity.
	Store storage.Store

	// Init runs once after the bundle is prepared.
	Init func(ctx context.Context, b *Bundle) error
}

// Loader builds a registry from module definitions.
type Loader struct {
	Store  storage.Store
	Logger zerolog.Logger

	// Hooks is keyed by entity name.
	Hooks map[string]Hooks

	// HashCost is passed to every bundle.
	HashCost int
}

// Registry maps entity names to their compiled bundles.
type Registry map[string]*Bundle

// Entities returns the entity names in sorted order.
func (r Registry) Entities() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Routes returns every route, grouped by entity in sorted entity order.
func (r Registry) Routes() []controller.Route {
	var routes []controller.Route
	for _, name := range r.Entities() {
		routes = append(routes, r[name].Routes...)
	}
	return routes
}

// Conflict describes two entities claiming the same name.
type Conflict struct {
	Kind     string
	Name     string
	Existing string
	Incoming string
}

func (c Conflict) Error() string {
	return fmt.Sprintf("%s %q claimed by %s and %s", c.Kind, c.Name, c.Existing, c.Incoming)
}

// ConflictError reports entities that cannot be served side by side.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	msgs := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		msgs[i] = c.Error()
	}
	return fmt.Sprintf("resource conflicts detected:\n  - %s", strings.Join(msgs, "\n  - "))
}

// LoadDir parses every module file under dir and loads it.
func (l *Loader) LoadDir(ctx context.Context, dir string) (Registry, error) {
	mods, err := schema.ParseDir(dir)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, mods)
}

// Load builds, prepares and initializes a bundle per module. Either every
// module loads or none does.
func (l *Loader) Load(ctx context.Context, mods []schema.Module) (Registry, error) {
	reg := make(Registry, len(mods))
	collections := make(map[string]string, len(mods))
	origin := make(map[string]string, len(mods))
	var conflicts []Conflict

	for _, mod := range mods {
		names := convention.Derive(mod)
		from := mod.Source
		if from == "" {
			from = names.Entity
		}

		if prev, ok := reg[names.Entity]; ok {
			conflicts = append(conflicts, Conflict{Kind: "entity", Name: names.Entity, Existing: origin[prev.Entity], Incoming: from})
			continue
		}
		if prev, ok := collections[names.Collection]; ok {
			conflicts = append(conflicts, Conflict{Kind: "collection", Name: names.Collection, Existing: prev, Incoming: names.Entity})
			continue
		}

		hooks := l.Hooks[names.Entity]
		store := l.Store
		if hooks.Store != nil {
			store = hooks.Store
		}

		b, err := Build(Definition{
			Fields:     mod.Schema,
			Collection: names.Collection,
			Entity:     names.Entity,
			Singular:   names.Singular,
			Store:      store,
			Options:    controller.Merge(controller.FromSchema(mod.Options), hooks.Options),
			HashCost:   l.HashCost,
		})
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", from, err)
		}

		reg[names.Entity] = b
		collections[names.Collection] = names.Entity
		origin[names.Entity] = from
	}

	if len(conflicts) > 0 {
		return nil, &ConflictError{Conflicts: conflicts}
	}

	if err := l.check(reg); err != nil {
		return nil, err
	}

	for _, name := range reg.Entities() {
		if err := reg[name].Prepare(ctx); err != nil {
			return nil, err
		}
	}

	for _, name := range reg.Entities() {
		b := reg[name]
		if init := l.Hooks[name].Init; init != nil {
			if err := init(ctx, b); err != nil {
				return nil, fmt.Errorf("init %s: %w", name, err)
			}
		}
		l.Logger.Info().
			Str("entity", b.Entity).
			Str("collection", b.Collection).
			Int("routes", len(b.Routes)).
			Msg("resource loaded")
	}

	return reg, nil
}

// check verifies cross-entity references once every module is built.
func (l *Loader) check(reg Registry) error {
	for entity := range l.Hooks {
		if _, ok := reg[entity]; !ok {
			return schema.Configf(entity, "hooks given for an entity no module defines")
		}
	}
	replied := func(entity string) (schema.Rules, bool) {
		b, ok := reg[entity]
		if !ok {
			return nil, false
		}
		return b.Validations.Reply, true
	}
	for _, name := range reg.Entities() {
		if err := reg[name].Plan.Bind(replied); err != nil {
			return resource(Definition{Entity: name}, err)
		}
	}
	return nil
}
