// Package resource compiles an entity definition into everything needed to
// serve it: validation rules, a repository, controllers and routes.
package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/restmod/core/controller"
	"github.com/artpar/restmod/core/join"
	"github.com/artpar/restmod/core/projection"
	"github.com/artpar/restmod/core/repository"
	"github.com/artpar/restmod/core/schema"
	"github.com/artpar/restmod/core/storage"
	"github.com/artpar/restmod/core/validation"
)

// Definition is the input of Build.
type Definition struct {
	Fields     schema.Fields
	Collection string
	Entity     string
	Singular   string
	Store      storage.Store
	Options    controller.Options

	// HashCost is the bcrypt cost of secret fields. Zero uses the default.
	HashCost int
}

// Validations holds the write rules of the entity and the rules of its
// replied fields.
type Validations struct {
	Create schema.Rules
	Update schema.Rules
	Reply  schema.Rules
}

// Bundle is a compiled resource. It is immutable once built and shared by
// every request of the entity.
type Bundle struct {
	Entity     string
	Collection string
	Singular   string

	Validations Validations
	Storage     []validation.StorageField
	Repository  *repository.Repository
	Controllers *controller.Controllers
	Routes      []controller.Route

	// Filters holds the projection of each operation.
	Filters map[schema.Operation]*projection.Filter

	Plan *join.Plan
}

// Build compiles def. It performs no I/O; broken definitions are reported as
// a *schema.ConfigError.
func Build(def Definition) (*Bundle, error) {
	var problems []string
	if def.Entity == "" {
		problems = append(problems, "entity name is required")
	}
	if !schema.IsValidIdentifier(def.Collection) {
		problems = append(problems, fmt.Sprintf("collection %q is not a valid identifier", def.Collection))
	}
	if def.Singular == "" {
		problems = append(problems, "singular name is required")
	}
	if def.Store == nil {
		problems = append(problems, "a store is required")
	}
	if len(problems) > 0 {
		return nil, &schema.ConfigError{Source: source(def), Problems: problems}
	}

	compiled, err := validation.Compile(def.Fields)
	if err != nil {
		return nil, resource(def, err)
	}

	plan, err := join.Resolve(compiled.Joins)
	if err != nil {
		return nil, resource(def, err)
	}

	repo, err := repository.New(repository.Config{
		Collection: def.Collection,
		Entity:     def.Entity,
		Fields:     compiled.Storage,
		Filter:     projection.Default(compiled.ReplyNames(), plan.Names()),
		Plan:       plan,
		Store:      def.Store,
		HashCost:   def.HashCost,
	})
	if err != nil {
		return nil, resource(def, err)
	}

	ctrls, err := controller.Build(controller.Config{
		Entity:     def.Entity,
		Collection: def.Collection,
		Singular:   def.Singular,
		Compiled:   compiled,
		Plan:       plan,
		Repo:       repo,
		Options:    def.Options,
	})
	if err != nil {
		return nil, resource(def, err)
	}

	filters := make(map[schema.Operation]*projection.Filter, len(schema.Operations))
	for _, op := range schema.Operations {
		filters[op] = ctrls.For(op).Filter
	}

	return &Bundle{
		Entity:      def.Entity,
		Collection:  def.Collection,
		Singular:    def.Singular,
		Validations: Validations{Create: compiled.Create, Update: compiled.Update, Reply: compiled.Reply},
		Storage:     compiled.Storage,
		Repository:  repo,
		Controllers: ctrls,
		Routes:      ctrls.Routes(def.Options.Routes),
		Filters:     filters,
		Plan:        plan,
	}, nil
}

// Prepare performs the store-side setup of the bundle, such as unique indexes.
func (b *Bundle) Prepare(ctx context.Context) error {
	if err := b.Repository.Ensure(ctx); err != nil {
		return fmt.Errorf("prepare %s: %w", b.Entity, err)
	}
	return nil
}

func source(def Definition) string {
	if def.Entity != "" {
		return def.Entity
	}
	return "resource"
}

// resource re-sources configuration errors to the entity being built.
func resource(def Definition, err error) error {
	var cfgErr *schema.ConfigError
	if errors.As(err, &cfgErr) {
		return &schema.ConfigError{Source: source(def), Problems: cfgErr.Problems}
	}
	return schema.Configf(source(def), "%v", err)
}
