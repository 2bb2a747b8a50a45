// Package storage provides the document-store interface the generated
// persistence layer runs against, with SQLite and MongoDB implementations.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/restmod/core/schema"
)

// Sentinel errors for store-level conditions.
var (
	// ErrDuplicateKey is returned when a write violates a unique index.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnknownCollection is returned for collections never ensured.
	ErrUnknownCollection = errors.New("unknown collection")
)

// InternalID is the key of the store's own record identifier.
const InternalID = "_id"

// Store is a document store. Absent matches are reported as a nil document
// and a nil error.
type Store interface {
	// EnsureCollection creates the collection and its unique indexes.
	// It is idempotent.
	EnsureCollection(ctx context.Context, c Collection) error

	// NextSequence atomically increments and returns the named counter.
	NextSequence(ctx context.Context, name string) (int64, error)

	// Insert stores doc and returns it with its internal id set.
	Insert(ctx context.Context, collection string, doc map[string]any) (map[string]any, error)

	// Find returns the documents matching q.
	Find(ctx context.Context, collection string, q Query) ([]map[string]any, error)

	// FindOne returns the first document matching q, or nil.
	FindOne(ctx context.Context, collection string, q Query) (map[string]any, error)

	// FindOneAndUpdate sets fields on the first document matching q.Where in a
	// single atomic step and returns the updated document shaped by q, or nil.
	FindOneAndUpdate(ctx context.Context, collection string, q Query, set map[string]any) (map[string]any, error)

	// Close releases the store's resources.
	Close() error
}

// Collection describes one collection to the store.
type Collection struct {
	// Name is the collection (or table) name.
	Name string

	// Entity is the entity name lookups refer to.
	Entity string

	// Unique lists fields with a unique index besides id.
	Unique []string
}

// Validate checks the collection names are safe to embed in statements.
func (c Collection) Validate() error {
	if !schema.IsValidFieldPath(c.Name) {
		return fmt.Errorf("invalid collection name %q", c.Name)
	}
	for _, f := range c.Unique {
		if !schema.IsValidFieldPath(f) {
			return fmt.Errorf("collection %s: invalid unique field %q", c.Name, f)
		}
	}
	return nil
}

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "$eq"
	OpNe  Op = "$ne"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpIn  Op = "$in"
)

// Predicate compares one field against a value.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Cond is a conjunction of predicates.
type Cond []Predicate

// Eq matches field == value.
func Eq(field string, value any) Predicate { return Predicate{Field: field, Op: OpEq, Value: value} }

// Ne matches field != value, including documents lacking the field.
func Ne(field string, value any) Predicate { return Predicate{Field: field, Op: OpNe, Value: value} }

// Lt matches field < value.
func Lt(field string, value any) Predicate { return Predicate{Field: field, Op: OpLt, Value: value} }

// Gt matches field > value.
func Gt(field string, value any) Predicate { return Predicate{Field: field, Op: OpGt, Value: value} }

// In matches field against any of values.
func In(field string, values ...any) Predicate {
	return Predicate{Field: field, Op: OpIn, Value: values}
}

// And returns the conjunction of c and other.
func (c Cond) And(other Cond) Cond {
	out := make(Cond, 0, len(c)+len(other))
	out = append(out, c...)
	return append(out, other...)
}

// Validate checks operators and field paths.
func (c Cond) Validate() error {
	for _, p := range c {
		if !schema.IsValidFieldPath(p.Field) {
			return fmt.Errorf("invalid condition field %q", p.Field)
		}
		switch p.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		case OpIn:
			if _, ok := p.Value.([]any); !ok {
				return fmt.Errorf("condition on %s: $in needs a list", p.Field)
			}
		default:
			return fmt.Errorf("condition on %s: unsupported operator %q", p.Field, p.Op)
		}
	}
	return nil
}

// Sort orders results by one field.
type Sort struct {
	Field string
	Desc  bool
}

// Lookup embeds documents of another entity into each result.
type Lookup struct {
	// As is the key the joined data appears under.
	As string

	// From is the target entity name.
	From string

	// LocalField holds the key on the source document.
	LocalField string

	// ForeignField is matched on the target documents.
	ForeignField string

	// JustOne embeds the first match (or nil) instead of a list.
	JustOne bool

	// Select limits the embedded fields. Nil embeds whole documents.
	Select []string
}

// Query selects, orders, shapes and populates documents.
type Query struct {
	Where   Cond
	Sort    []Sort
	Limit   int
	Select  []string
	Lookups []Lookup
}

// Validate checks every field path of the query.
func (q Query) Validate() error {
	if err := q.Where.Validate(); err != nil {
		return err
	}
	for _, s := range q.Sort {
		if !schema.IsValidFieldPath(s.Field) {
			return fmt.Errorf("invalid sort field %q", s.Field)
		}
	}
	for _, l := range q.Lookups {
		if !schema.IsValidFieldPath(l.LocalField) || !schema.IsValidFieldPath(l.ForeignField) {
			return fmt.Errorf("lookup %s: invalid fields %q/%q", l.As, l.LocalField, l.ForeignField)
		}
	}
	return nil
}
