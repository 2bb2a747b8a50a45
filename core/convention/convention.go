// Package convention derives resource naming from minimal module definitions.
package convention

import (
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/artpar/restmod/core/schema"
)

// Derived holds the names a resource is exposed under.
type Derived struct {
	// Entity is the model name other modules join against.
	Entity string

	// Collection names the store collection and the route prefix.
	Collection string

	// Singular is used in generated messages and descriptions.
	Singular string
}

// Derive fills in names the module leaves unset: the collection is the
// lower-cased plural of the entity, the singular its lower-cased form.
func Derive(mod schema.Module) Derived {
	d := Derived{
		Entity:     mod.Name,
		Collection: mod.Collection,
		Singular:   mod.Singular,
	}
	if d.Collection == "" {
		d.Collection = Collection(mod.Name)
	}
	if d.Singular == "" {
		d.Singular = Singular(mod.Name)
	}
	return d
}

// Collection returns the default collection name of an entity.
func Collection(entity string) string {
	return inflect.Pluralize(strings.ToLower(entity))
}

// Singular returns the default singular label of an entity.
func Singular(entity string) string {
	return strings.ToLower(entity)
}
