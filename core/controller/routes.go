package controller

import (
	"fmt"
	"net/http"

	"github.com/artpar/restmod/core/schema"
)

// Route binds one operation to a method and path.
type Route struct {
	Method    string
	Path      string
	Entity    string
	Operation schema.Operation

	Description string
	Notes       string
	Tags        []string

	// Auth names the authentication strategy. Empty means none.
	Auth string

	Controller *Controller
}

// Routes compiles the route table of the entity in a fixed order:
// getAll, getOne, update, remove, create. Disabled operations are omitted.
func (cs *Controllers) Routes(opts RouteSet) []Route {
	collection := "/" + cs.Collection
	item := collection + "/{id}"

	routes := make([]Route, 0, len(schema.Operations))
	for _, op := range schema.Operations {
		ro := opts.For(op)
		if ro != nil && ro.Disable {
			continue
		}

		r := Route{
			Entity:     cs.Entity,
			Operation:  op,
			Tags:       []string{"api", cs.Collection},
			Controller: cs.For(op),
		}
		r.Method, r.Path = methodPath(op, collection, item)
		r.Description, r.Notes = cs.describe(op)

		if ro != nil {
			if ro.Description != "" {
				r.Description = ro.Description
			}
			if ro.Notes != "" {
				r.Notes = ro.Notes
			}
			r.Auth = ro.Auth
		}

		routes = append(routes, r)
	}
	return routes
}

func methodPath(op schema.Operation, collection, item string) (string, string) {
	switch op {
	case schema.OpGetAll:
		return http.MethodGet, collection
	case schema.OpGetOne:
		return http.MethodGet, item
	case schema.OpUpdate:
		return http.MethodPut, item
	case schema.OpRemove:
		return http.MethodDelete, item
	default:
		return http.MethodPost, collection
	}
}

func (cs *Controllers) describe(op schema.Operation) (description, notes string) {
	s := cs.Singular
	switch op {
	case schema.OpGetAll:
		return "Get all " + cs.Collection, fmt.Sprintf("Returns a list of %s ordered by addition date", cs.Collection)
	case schema.OpGetOne:
		return "Get " + s + " by DB Id", fmt.Sprintf("Returns the %s object if matched with the DB id", s)
	case schema.OpUpdate:
		return "Update a " + s, fmt.Sprintf("Returns a %s by the id passed in the path", s)
	case schema.OpRemove:
		return "Delete " + s, fmt.Sprintf("Returns the %s deletion status", s)
	default:
		return "Add a " + s, fmt.Sprintf("Returns a %s by the id passed in the path", s)
	}
}
