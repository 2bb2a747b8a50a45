package http

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/restmod/core/apierr"
	"github.com/artpar/restmod/core/controller"
	"github.com/artpar/restmod/core/openapi"
	"github.com/artpar/restmod/core/schema"
)

// SchemaHandler serves introspection of the registered resources, so
// clients can discover entities and their rules at runtime.
type SchemaHandler struct {
	routes func() []controller.Route
}

// NewSchemaHandler creates a handler over the channel's routes.
func NewSchemaHandler(c *Channel) *SchemaHandler {
	return &SchemaHandler{routes: c.Routes}
}

// EntitySummary lists one entity.
type EntitySummary struct {
	Entity    string `json:"entity"`
	Endpoints int    `json:"endpoints"`
}

// Endpoint describes one route and its rules.
type Endpoint struct {
	Method      string          `json:"method"`
	Path        string          `json:"path"`
	Operation   string          `json:"operation"`
	Description string          `json:"description,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	Auth        string          `json:"auth,omitempty"`
	Params      *openapi.Schema `json:"params,omitempty"`
	Query       *openapi.Schema `json:"query,omitempty"`
	Payload     *openapi.Schema `json:"payload,omitempty"`
	Response    *openapi.Schema `json:"response,omitempty"`
}

// Routes returns a router with all schema routes.
func (h *SchemaHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listEntities)
	r.Get("/{entity}", h.getEntity)
	return r
}

func (h *SchemaHandler) listEntities(w http.ResponseWriter, r *http.Request) {
	counts := make(map[string]int)
	for _, rt := range h.routes() {
		counts[rt.Entity]++
	}

	summaries := make([]EntitySummary, 0, len(counts))
	for name, n := range counts {
		summaries = append(summaries, EntitySummary{Entity: name, Endpoints: n})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Entity < summaries[j].Entity
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": summaries,
		"count":    len(summaries),
	})
}

func (h *SchemaHandler) getEntity(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")

	var endpoints []Endpoint
	for _, rt := range h.routes() {
		if rt.Entity != entity {
			continue
		}
		endpoints = append(endpoints, endpoint(rt))
	}
	if len(endpoints) == 0 {
		writeError(w, apierr.NotFound("Cannot find entity "+entity))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entity":    entity,
		"endpoints": endpoints,
	})
}

func endpoint(rt controller.Route) Endpoint {
	e := Endpoint{
		Method:      rt.Method,
		Path:        rt.Path,
		Operation:   string(rt.Operation),
		Description: rt.Description,
		Notes:       rt.Notes,
		Auth:        rt.Auth,
	}
	if c := rt.Controller; c != nil {
		e.Params = rulesSchema(c.Params)
		e.Query = rulesSchema(c.Query)
		e.Payload = rulesSchema(c.Payload)
		if c.Response != nil {
			e.Response = openapi.RuleSchema(c.Response)
		}
	}
	return e
}

func rulesSchema(rules schema.Rules) *openapi.Schema {
	if rules == nil {
		return nil
	}
	return openapi.RuleSchema(&schema.Rule{Type: schema.RuleObject, Fields: rules})
}
