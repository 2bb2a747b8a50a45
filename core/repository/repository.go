// Package repository is the generated persistence adapter of one entity:
// cursor pagination, live-only reads, atomic updates and soft deletion on top
// of a storage.Store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/artpar/restmod/adapters/hasher"
	"github.com/artpar/restmod/core/join"
	"github.com/artpar/restmod/core/projection"
	"github.com/artpar/restmod/core/storage"
	"github.com/artpar/restmod/core/validation"
)

// DefaultPageSize applies when a caller passes no usable page size.
const DefaultPageSize = 20

const (
	idField      = validation.IDField
	deletedField = "deleted"
)

// ValidationError is returned by Create when the document breaks a
// storage-level rule, such as a missing required field.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, " ")
}

// Config describes the entity a repository serves.
type Config struct {
	// Collection is the store collection, also the sequence name.
	Collection string

	// Entity is the name lookups from other entities refer to.
	Entity string

	// Fields are the storage descriptors of the entity.
	Fields []validation.StorageField

	// Filter is the default projection.
	Filter *projection.Filter

	// Plan holds the entity's lookups. Nil means no joins.
	Plan *join.Plan

	// Store executes every operation.
	Store storage.Store

	// Hasher hashes secret fields. Nil uses bcrypt at HashCost.
	Hasher hasher.Hasher

	// HashCost is the bcrypt cost used when Hasher is nil. Zero uses
	// bcrypt.DefaultCost.
	HashCost int
}

// Repository is the persistence adapter of one entity. It is immutable and
// safe for concurrent use.
type Repository struct {
	cfg Config
}

// FindOptions overrides the defaults of a read. The zero value uses defaults.
type FindOptions struct {
	// Filter replaces the default projection.
	Filter *projection.Filter

	// Condition constrains the query. FindAll merges it with the live-only
	// condition; the single-record reads use it instead of the live-only one.
	Condition storage.Cond

	// Sort replaces the default id-descending order.
	Sort []storage.Sort
}

// New creates a repository.
func New(cfg Config) (*Repository, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("repository: store is required")
	case cfg.Collection == "":
		return nil, errors.New("repository: collection is required")
	case cfg.Filter == nil:
		return nil, errors.New("repository: default filter is required")
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hasher.NewBcrypt(cfg.HashCost)
	}
	return &Repository{cfg: cfg}, nil
}

// Collection returns the collection name.
func (r *Repository) Collection() string {
	return r.cfg.Collection
}

// Filter returns the default projection.
func (r *Repository) Filter() *projection.Filter {
	return r.cfg.Filter
}

// Ensure registers the collection and its unique indexes with the store.
func (r *Repository) Ensure(ctx context.Context) error {
	var unique []string
	for _, f := range r.cfg.Fields {
		if f.Unique {
			unique = append(unique, f.Name)
		}
	}
	return r.cfg.Store.EnsureCollection(ctx, storage.Collection{
		Name:   r.cfg.Collection,
		Entity: r.cfg.Entity,
		Unique: unique,
	})
}

// FindAll returns up to pageSize live records with an id below cursor, newest
// first. A cursor of zero means no upper bound; a negative cursor matches
// nothing. pageSize <= 0 means DefaultPageSize.
func (r *Repository) FindAll(ctx context.Context, cursor int64, pageSize int, opts FindOptions) ([]map[string]any, error) {
	if cursor == 0 {
		cursor = math.MaxInt64
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	where := storage.Cond{
		storage.Lt(idField, cursor),
		storage.Ne(deletedField, true),
	}.And(opts.Condition)

	q := r.query(opts.Filter)
	q.Where = where
	q.Sort = r.sort(opts.Sort)
	q.Limit = pageSize

	docs, err := r.cfg.Store.Find(ctx, r.cfg.Collection, q)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []map[string]any{}
	}
	return docs, nil
}

// FindByID returns the live record with id, or nil when there is none.
func (r *Repository) FindByID(ctx context.Context, id int64, opts FindOptions) (map[string]any, error) {
	q := r.query(opts.Filter)
	q.Where = r.byID(id, opts.Condition)
	return r.cfg.Store.FindOne(ctx, r.cfg.Collection, q)
}

// FindByIDAndUpdate sets the payload fields on the live record with id in one
// atomic store call and returns the updated record, or nil when there is none.
// The surrogate id is never updated.
func (r *Repository) FindByIDAndUpdate(ctx context.Context, id int64, payload map[string]any, opts FindOptions) (map[string]any, error) {
	set, err := r.prepare(payload)
	if err != nil {
		return nil, err
	}

	q := r.query(opts.Filter)
	q.Where = r.byID(id, opts.Condition)
	return r.cfg.Store.FindOneAndUpdate(ctx, r.cfg.Collection, q, set)
}

// FindByIDNoLean returns the full mutable record with id, deleted or not.
func (r *Repository) FindByIDNoLean(ctx context.Context, id int64, cond storage.Cond) (*Record, error) {
	where := storage.Cond{storage.Eq(idField, id)}.And(cond)

	doc, err := r.cfg.Store.FindOne(ctx, r.cfg.Collection, storage.Query{Where: where})
	if err != nil || doc == nil {
		return nil, err
	}
	return &Record{doc: doc, repo: r}, nil
}

// Create checks, stores and returns a new record under the default projection.
func (r *Repository) Create(ctx context.Context, payload map[string]any) (map[string]any, error) {
	doc, err := r.prepare(payload)
	if err != nil {
		return nil, err
	}
	delete(doc, deletedField)

	var msgs []string
	for _, f := range r.cfg.Fields {
		if !f.Required {
			continue
		}
		if v, ok := doc[f.Name]; !ok || v == nil || v == "" {
			msgs = append(msgs, fmt.Sprintf("Path `%s` is required.", f.Name))
		}
	}
	if len(msgs) > 0 {
		return nil, &ValidationError{Messages: msgs}
	}

	id, err := r.cfg.Store.NextSequence(ctx, r.cfg.Collection)
	if err != nil {
		return nil, err
	}
	doc[idField] = id

	stored, err := r.cfg.Store.Insert(ctx, r.cfg.Collection, doc)
	if err != nil {
		return nil, err
	}

	return storage.Project(stored, r.cfg.Filter.Fields()), nil
}

// prepare copies a write payload, dropping keys the caller may not set,
// trimming and hashing per field.
func (r *Repository) prepare(payload map[string]any) (map[string]any, error) {
	doc := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == idField || k == storage.InternalID {
			continue
		}
		doc[k] = v
	}

	for _, f := range r.cfg.Fields {
		v, ok := doc[f.Name]
		if !ok || v == nil {
			continue
		}

		if f.Trim {
			if s, isStr := v.(string); isStr {
				v = strings.TrimSpace(s)
				doc[f.Name] = v
			}
		}

		if f.Secret {
			s, isStr := v.(string)
			if !isStr {
				return nil, &ValidationError{Messages: []string{fmt.Sprintf("Path `%s` must be a string.", f.Name)}}
			}
			if s == "" {
				continue
			}
			hash, err := r.cfg.Hasher.Hash(s)
			if err != nil {
				return nil, fmt.Errorf("hash %s: %w", f.Name, err)
			}
			doc[f.Name] = string(hash)
		}
	}

	return doc, nil
}

func (r *Repository) query(filter *projection.Filter) storage.Query {
	if filter == nil {
		filter = r.cfg.Filter
	}
	q := storage.Query{Select: filter.Fields()}
	if r.cfg.Plan != nil {
		q.Lookups = r.cfg.Plan.For(filter)
	}
	return q
}

// byID matches id among live records, or under cond when the caller gives one.
func (r *Repository) byID(id int64, cond storage.Cond) storage.Cond {
	if cond == nil {
		cond = storage.Cond{storage.Ne(deletedField, true)}
	}
	return storage.Cond{storage.Eq(idField, id)}.And(cond)
}

func (r *Repository) sort(custom []storage.Sort) []storage.Sort {
	if len(custom) > 0 {
		return custom
	}
	return []storage.Sort{{Field: idField, Desc: true}}
}

// Record is a full stored record as read by FindByIDNoLean.
type Record struct {
	doc  map[string]any
	repo *Repository
}

// ID returns the surrogate id.
func (rec *Record) ID() any {
	return rec.doc[idField]
}

// Get returns a field value.
func (rec *Record) Get(field string) any {
	return rec.doc[field]
}

// Deleted reports whether the record is soft-deleted.
func (rec *Record) Deleted() bool {
	d, _ := rec.doc[deletedField].(bool)
	return d
}

// ErrAlreadyDeleted is returned by SoftDelete when the record was deleted
// after it was read.
var ErrAlreadyDeleted = errors.New("record already deleted")

// SoftDelete marks the record deleted by its internal id. Only one of several
// concurrent deletes of the same record succeeds; the others get
// ErrAlreadyDeleted.
func (rec *Record) SoftDelete(ctx context.Context) error {
	internal, ok := rec.doc[storage.InternalID]
	if !ok {
		return errors.New("soft delete: record has no internal id")
	}

	updated, err := rec.repo.cfg.Store.FindOneAndUpdate(ctx, rec.repo.cfg.Collection,
		storage.Query{
			Where:  storage.Cond{storage.Eq(storage.InternalID, internal), storage.Ne(deletedField, true)},
			Select: []string{idField},
		},
		map[string]any{deletedField: true})
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	if updated == nil {
		rec.doc[deletedField] = true
		return ErrAlreadyDeleted
	}

	rec.doc[deletedField] = true
	return nil
}
