// Package controller generates the request handlers of an entity and the
// route table that exposes them.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/artpar/restmod/core/apierr"
	"github.com/artpar/restmod/core/join"
	"github.com/artpar/restmod/core/projection"
	"github.com/artpar/restmod/core/repository"
	"github.com/artpar/restmod/core/schema"
	"github.com/artpar/restmod/core/storage"
	"github.com/artpar/restmod/core/validation"
)

// MaxPageSize caps the page size a client may request.
const MaxPageSize = 100

// DefaultSample is the share of replies validated against the response shape.
const DefaultSample = 100

// Request is a validated request as seen by a handler.
type Request struct {
	Params  map[string]any
	Query   map[string]any
	Payload map[string]any
	Header  http.Header

	// Repo is the entity's repository.
	Repo *repository.Repository
}

// Reply is a handler's successful outcome.
type Reply struct {
	Status   int
	Body     any
	Location string
}

// HandlerFunc handles one request. Errors are converted with apierr.From.
type HandlerFunc func(ctx context.Context, req *Request) (*Reply, error)

// Controller is the compiled handler of one operation with its rules.
type Controller struct {
	Operation schema.Operation
	Handler   HandlerFunc

	// Params, Query and Payload validate the request parts. A nil set
	// accepts the part unvalidated.
	Params  schema.Rules
	Query   schema.Rules
	Payload schema.Rules

	// Response is the reply body shape; Sample is the percentage of replies
	// checked against it.
	Response *schema.Rule
	Sample   int

	// Filter is the projection reads of this operation use.
	Filter *projection.Filter

	Repo *repository.Repository

	condition func(*Request) storage.Cond
	sort      func(*Request) []storage.Sort
}

// Serve runs the handler with the controller's repository.
func (c *Controller) Serve(ctx context.Context, req *Request) (*Reply, error) {
	if req.Repo == nil {
		req.Repo = c.Repo
	}
	return c.Handler(ctx, req)
}

func (c *Controller) findOptions(req *Request) repository.FindOptions {
	opts := repository.FindOptions{Filter: c.Filter}
	if c.condition != nil {
		opts.Condition = c.condition(req)
	}
	if c.sort != nil {
		opts.Sort = c.sort(req)
	}
	return opts
}

// Controllers holds the controllers of every operation of one entity.
type Controllers struct {
	Entity     string
	Collection string
	Singular   string

	GetAll *Controller
	GetOne *Controller
	Create *Controller
	Update *Controller
	Remove *Controller
}

// For returns the controller of op.
func (cs *Controllers) For(op schema.Operation) *Controller {
	switch op {
	case schema.OpGetAll:
		return cs.GetAll
	case schema.OpGetOne:
		return cs.GetOne
	case schema.OpCreate:
		return cs.Create
	case schema.OpUpdate:
		return cs.Update
	case schema.OpRemove:
		return cs.Remove
	}
	return nil
}

// Config describes the entity controllers are built for.
type Config struct {
	Entity     string
	Collection string
	Singular   string

	Compiled validation.Compiled
	Plan     *join.Plan
	Repo     *repository.Repository
	Options  Options
}

// Build compiles the five controllers of an entity. Option overrides apply
// independently: a custom handler keeps the generated rules and vice versa.
func Build(cfg Config) (*Controllers, error) {
	if cfg.Repo == nil {
		return nil, schema.Configf(cfg.Entity, "controllers require a repository")
	}
	if cfg.Singular == "" || cfg.Collection == "" {
		return nil, schema.Configf(cfg.Entity, "controllers require collection and singular names")
	}

	cs := &Controllers{Entity: cfg.Entity, Collection: cfg.Collection, Singular: cfg.Singular}

	var virtuals schema.Rules
	if cfg.Plan != nil {
		virtuals = cfg.Plan.Virtuals()
	}

	var problems []string
	for _, op := range schema.Operations {
		o := cfg.Options.Controllers.For(op)
		if err := checkOptions(op, o); err != nil {
			problems = append(problems, err.Error())
			continue
		}

		c := &Controller{
			Operation: op,
			Filter:    cfg.Repo.Filter(),
			Repo:      cfg.Repo,
			Sample:    DefaultSample,
		}
		if o != nil {
			if o.Filter != nil {
				c.Filter = c.Filter.Apply(o.Filter)
			}
			c.condition = o.Condition
			c.sort = o.Sort
		}

		c.Params, c.Query, c.Payload = defaultRules(op, cfg.Compiled)
		c.Response = defaultResponse(op, projection.Shape(c.Filter, cfg.Compiled.Reply, virtuals))
		c.Handler = defaultHandler(op, c, cs)

		if o != nil {
			if o.Handler != nil {
				c.Handler = o.Handler
			}
			if v := o.Validate; v != nil {
				if v.Params != nil {
					c.Params = v.Params
				}
				if v.Query != nil {
					c.Query = v.Query
				}
				if v.Payload != nil {
					c.Payload = v.Payload
				}
			}
			if r := o.Response; r != nil {
				if r.Schema != nil {
					c.Response = r.Schema
				}
				if r.Sample != nil {
					c.Sample = *r.Sample
				}
			}
		}

		cs.set(op, c)
	}

	if len(problems) > 0 {
		return nil, &schema.ConfigError{Source: cfg.Entity, Problems: problems}
	}
	return cs, nil
}

func (cs *Controllers) set(op schema.Operation, c *Controller) {
	switch op {
	case schema.OpGetAll:
		cs.GetAll = c
	case schema.OpGetOne:
		cs.GetOne = c
	case schema.OpCreate:
		cs.Create = c
	case schema.OpUpdate:
		cs.Update = c
	case schema.OpRemove:
		cs.Remove = c
	}
}

func checkOptions(op schema.Operation, o *ControllerOptions) error {
	if o == nil {
		return nil
	}
	path := fmt.Sprintf("options.controllers.%s", op)
	if v := o.Validate; v != nil {
		for part, rs := range map[string]schema.Rules{"params": v.Params, "query": v.Query, "payload": v.Payload} {
			if err := rs.Check(path + ".validate." + part); err != nil {
				return err
			}
		}
	}
	if r := o.Response; r != nil {
		if r.Schema != nil {
			if err := r.Schema.Check(path + ".response.schema"); err != nil {
				return err
			}
		}
		if s := r.Sample; s != nil && (*s < 0 || *s > 100) {
			return fmt.Errorf("%s.response.sample: %d is outside 0..100", path, *s)
		}
	}
	return nil
}

func idParams() schema.Rules {
	return schema.Rules{{Name: "id", Rule: &schema.Rule{Type: schema.RuleInteger, Required: true}}}
}

func listQuery() schema.Rules {
	zero, lo, hi := 0.0, 1.0, float64(MaxPageSize)
	return schema.Rules{
		{Name: "lastId", Rule: &schema.Rule{Type: schema.RuleInteger, Min: &zero}},
		{Name: "pageSize", Rule: &schema.Rule{Type: schema.RuleInteger, Min: &lo, Max: &hi, Default: int64(repository.DefaultPageSize)}},
	}
}

func defaultRules(op schema.Operation, compiled validation.Compiled) (params, query, payload schema.Rules) {
	switch op {
	case schema.OpGetAll:
		return nil, listQuery(), nil
	case schema.OpGetOne, schema.OpRemove:
		return idParams(), nil, nil
	case schema.OpCreate:
		return nil, nil, compiled.Create
	case schema.OpUpdate:
		return idParams(), nil, compiled.Update
	}
	return nil, nil, nil
}

func defaultResponse(op schema.Operation, shape schema.Rules) *schema.Rule {
	switch op {
	case schema.OpGetAll:
		return projection.List(shape)
	case schema.OpGetOne:
		return projection.Object(shape)
	case schema.OpCreate, schema.OpUpdate:
		return &schema.Rule{Type: schema.RuleObject, Fields: schema.Rules{
			{Name: "id", Rule: &schema.Rule{Type: schema.RuleIdentifier, Required: true}},
		}}
	case schema.OpRemove:
		return &schema.Rule{Type: schema.RuleObject, Fields: schema.Rules{
			{Name: "code", Rule: &schema.Rule{Type: schema.RuleInteger, Required: true}},
			{Name: "message", Rule: &schema.Rule{Type: schema.RuleString, Required: true}},
		}}
	}
	return nil
}

func defaultHandler(op schema.Operation, c *Controller, cs *Controllers) HandlerFunc {
	h := handlers{c: c, singular: cs.Singular, collection: cs.Collection}
	switch op {
	case schema.OpGetAll:
		return h.getAll
	case schema.OpGetOne:
		return h.getOne
	case schema.OpCreate:
		return h.create
	case schema.OpUpdate:
		return h.update
	case schema.OpRemove:
		return h.remove
	}
	return nil
}

// RemoveResult is the body of a remove reply.
type RemoveResult struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type handlers struct {
	c          *Controller
	singular   string
	collection string
}

func (h handlers) notFound() error {
	return apierr.NotFound(fmt.Sprintf("Cannot find %s with that id", h.singular))
}

func (h handlers) duplicate(err error) error {
	return apierr.Forbidden(fmt.Sprintf("please provide another %s id, it already exist", h.singular), err)
}

func (h handlers) getAll(ctx context.Context, req *Request) (*Reply, error) {
	cursor, _ := IntOf(req.Query["lastId"])
	pageSize, _ := IntOf(req.Query["pageSize"])

	docs, err := req.Repo.FindAll(ctx, cursor, int(pageSize), h.c.findOptions(req))
	if err != nil {
		return nil, apierr.Internal(err.Error(), err)
	}
	if len(docs) == 0 {
		return nil, apierr.NotFound(fmt.Sprintf("Cannot find any %s", h.singular))
	}
	return &Reply{Status: http.StatusOK, Body: docs}, nil
}

func (h handlers) getOne(ctx context.Context, req *Request) (*Reply, error) {
	id, err := paramID(req)
	if err != nil {
		return nil, err
	}

	doc, err := req.Repo.FindByID(ctx, id, h.c.findOptions(req))
	if err != nil {
		return nil, apierr.Internal(err.Error(), err)
	}
	if doc == nil {
		return nil, h.notFound()
	}
	return &Reply{Status: http.StatusOK, Body: doc}, nil
}

func (h handlers) create(ctx context.Context, req *Request) (*Reply, error) {
	doc, err := req.Repo.Create(ctx, req.Payload)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, h.duplicate(err)
		}
		return nil, apierr.Forbidden(err.Error(), err)
	}

	id := doc[validation.IDField]
	return &Reply{
		Status:   http.StatusCreated,
		Body:     map[string]any{"id": id},
		Location: fmt.Sprintf("/%s/%v", h.collection, id),
	}, nil
}

func (h handlers) update(ctx context.Context, req *Request) (*Reply, error) {
	id, err := paramID(req)
	if err != nil {
		return nil, err
	}

	doc, err := req.Repo.FindByIDAndUpdate(ctx, id, req.Payload, h.c.findOptions(req))
	if err != nil {
		var vErr *repository.ValidationError
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			return nil, h.duplicate(err)
		case errors.As(err, &vErr):
			return nil, apierr.BadRequest(vErr.Error(), err)
		}
		return nil, apierr.Internal(err.Error(), err)
	}
	if doc == nil {
		return nil, h.notFound()
	}
	return &Reply{Status: http.StatusCreated, Body: map[string]any{"id": doc[validation.IDField]}}, nil
}

func (h handlers) remove(ctx context.Context, req *Request) (*Reply, error) {
	id, err := paramID(req)
	if err != nil {
		return nil, err
	}

	var cond storage.Cond
	if h.c.condition != nil {
		cond = h.c.condition(req)
	}

	rec, err := req.Repo.FindByIDNoLean(ctx, id, cond)
	if err != nil {
		return nil, apierr.Internal(fmt.Sprintf("Could not delete %s", h.singular), err)
	}
	if rec == nil {
		return nil, h.notFound()
	}

	if rec.Deleted() {
		return h.alreadyRemoved(), nil
	}

	err = rec.SoftDelete(ctx)
	if errors.Is(err, repository.ErrAlreadyDeleted) {
		return h.alreadyRemoved(), nil
	}
	if err != nil {
		return nil, apierr.Internal(fmt.Sprintf("Could not delete %s", h.singular), err)
	}
	return &Reply{
		Status: http.StatusOK,
		Body:   RemoveResult{Code: http.StatusOK, Message: fmt.Sprintf("%s removed successfully", h.singular)},
	}, nil
}

func (h handlers) alreadyRemoved() *Reply {
	return &Reply{
		Status: http.StatusCreated,
		Body:   RemoveResult{Code: http.StatusCreated, Message: fmt.Sprintf("%s has already removed", h.singular)},
	}
}

func paramID(req *Request) (int64, error) {
	id, ok := IntOf(req.Params["id"])
	if !ok {
		return 0, apierr.BadRequest("id must be an integer", nil)
	}
	return id, nil
}

// IntOf converts a validated integer value, or its decimal string form.
func IntOf(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
