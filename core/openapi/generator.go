// Package openapi generates OpenAPI 3.0 specifications from compiled routes.
// Paths, parameters, bodies and responses follow the rules each controller
// validates with.
package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/artpar/restmod/core/controller"
	"github.com/artpar/restmod/core/schema"
)

// Spec represents an OpenAPI 3.0 specification.
type Spec struct {
	OpenAPI    string              `json:"openapi"`
	Info       Info                `json:"info"`
	Servers    []Server            `json:"servers,omitempty"`
	Paths      map[string]PathItem `json:"paths"`
	Components Components          `json:"components"`
	Tags       []Tag               `json:"tags,omitempty"`
}

// Info provides API metadata.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// Server represents a server URL.
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// PathItem contains operations for a path.
type PathItem struct {
	Get    *Operation `json:"get,omitempty"`
	Post   *Operation `json:"post,omitempty"`
	Put    *Operation `json:"put,omitempty"`
	Delete *Operation `json:"delete,omitempty"`
}

// Operation represents an API operation.
type Operation struct {
	Tags        []string              `json:"tags,omitempty"`
	Summary     string                `json:"summary,omitempty"`
	Description string                `json:"description,omitempty"`
	OperationID string                `json:"operationId,omitempty"`
	Parameters  []Parameter           `json:"parameters,omitempty"`
	RequestBody *RequestBody          `json:"requestBody,omitempty"`
	Responses   map[string]Response   `json:"responses"`
	Security    []SecurityRequirement `json:"security,omitempty"`
}

// Parameter represents an API parameter.
type Parameter struct {
	Name        string  `json:"name"`
	In          string  `json:"in"` // path, query
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

// RequestBody represents a request body.
type RequestBody struct {
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required,omitempty"`
	Content     map[string]MediaType `json:"content"`
}

// Response represents an API response.
type Response struct {
	Description string               `json:"description"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// MediaType represents a media type.
type MediaType struct {
	Schema *Schema `json:"schema,omitempty"`
}

// Schema represents a JSON Schema.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Format      string             `json:"format,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
	Ref         string             `json:"$ref,omitempty"`
	MinLength   *int               `json:"minLength,omitempty"`
	MaxLength   *int               `json:"maxLength,omitempty"`
	MinItems    *int               `json:"minItems,omitempty"`
	MaxItems    *int               `json:"maxItems,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
	Pattern     string             `json:"pattern,omitempty"`
	Default     any                `json:"default,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
}

// Components contains reusable schemas.
type Components struct {
	Schemas         map[string]*Schema        `json:"schemas,omitempty"`
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes,omitempty"`
}

// SecurityScheme defines an authentication method.
type SecurityScheme struct {
	Type        string `json:"type"`
	Scheme      string `json:"scheme,omitempty"`
	Description string `json:"description,omitempty"`
}

// SecurityRequirement specifies required security schemes.
type SecurityRequirement map[string][]string

// Tag groups operations.
type Tag struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

const errorRef = "#/components/schemas/Error"

// Generator builds a Spec from a route table.
type Generator struct {
	info    Info
	servers []Server
	routes  []controller.Route
}

// NewGenerator creates a generator over routes.
func NewGenerator(routes []controller.Route) *Generator {
	return &Generator{
		info: Info{
			Title:   "restmod API",
			Version: "1.0.0",
		},
		routes: routes,
	}
}

// SetInfo sets the API metadata.
func (g *Generator) SetInfo(info Info) {
	g.info = info
}

// AddServer adds a server URL.
func (g *Generator) AddServer(url, description string) {
	g.servers = append(g.servers, Server{URL: url, Description: description})
}

// Generate builds the specification.
func (g *Generator) Generate() *Spec {
	spec := &Spec{
		OpenAPI: "3.0.3",
		Info:    g.info,
		Servers: g.servers,
		Paths:   make(map[string]PathItem),
		Components: Components{
			Schemas: map[string]*Schema{"Error": errorSchema()},
		},
	}

	tags := make(map[string]bool)
	for _, r := range g.routes {
		op := g.operation(spec, r)

		item := spec.Paths[r.Path]
		switch r.Method {
		case http.MethodGet:
			item.Get = op
		case http.MethodPost:
			item.Post = op
		case http.MethodPut:
			item.Put = op
		case http.MethodDelete:
			item.Delete = op
		}
		spec.Paths[r.Path] = item

		for _, t := range r.Tags {
			tags[t] = true
		}
	}

	names := make([]string, 0, len(tags))
	for t := range tags {
		names = append(names, t)
	}
	sort.Strings(names)
	for _, t := range names {
		spec.Tags = append(spec.Tags, Tag{Name: t})
	}

	return spec
}

func (g *Generator) operation(spec *Spec, r controller.Route) *Operation {
	op := &Operation{
		Tags:        r.Tags,
		Summary:     r.Description,
		Description: r.Notes,
		OperationID: string(r.Operation) + r.Entity,
		Responses:   make(map[string]Response),
	}

	c := r.Controller
	if c == nil {
		op.Responses["default"] = Response{Description: "Response"}
		return op
	}

	for _, nr := range c.Params {
		op.Parameters = append(op.Parameters, Parameter{
			Name: nr.Name, In: "path", Required: true,
			Description: nr.Rule.Description, Schema: RuleSchema(nr.Rule),
		})
	}
	for _, nr := range c.Query {
		op.Parameters = append(op.Parameters, Parameter{
			Name: nr.Name, In: "query", Required: nr.Rule.Required,
			Description: nr.Rule.Description, Schema: RuleSchema(nr.Rule),
		})
	}

	if c.Payload != nil {
		op.RequestBody = &RequestBody{
			Required: true,
			Content: map[string]MediaType{
				"application/json": {Schema: RuleSchema(&schema.Rule{Type: schema.RuleObject, Fields: c.Payload})},
			},
		}
	}

	var body *Schema
	if c.Response != nil {
		body = RuleSchema(c.Response)
	}
	for _, status := range successStatuses(r.Operation) {
		resp := Response{Description: http.StatusText(status)}
		if body != nil {
			resp.Content = map[string]MediaType{"application/json": {Schema: body}}
		}
		op.Responses[strconv.Itoa(status)] = resp
	}
	for _, status := range errorStatuses(r.Operation) {
		op.Responses[strconv.Itoa(status)] = Response{
			Description: http.StatusText(status),
			Content:     map[string]MediaType{"application/json": {Schema: &Schema{Ref: errorRef}}},
		}
	}

	if r.Auth != "" {
		op.Security = []SecurityRequirement{{r.Auth: {}}}
		if spec.Components.SecuritySchemes == nil {
			spec.Components.SecuritySchemes = make(map[string]SecurityScheme)
		}
		spec.Components.SecuritySchemes[r.Auth] = SecurityScheme{
			Type:        "http",
			Scheme:      "bearer",
			Description: "Authentication strategy " + r.Auth,
		}
	}

	return op
}

func successStatuses(op schema.Operation) []int {
	switch op {
	case schema.OpCreate, schema.OpUpdate:
		return []int{http.StatusCreated}
	case schema.OpRemove:
		return []int{http.StatusOK, http.StatusCreated}
	default:
		return []int{http.StatusOK}
	}
}

func errorStatuses(op schema.Operation) []int {
	switch op {
	case schema.OpGetAll:
		return []int{http.StatusBadRequest, http.StatusNotFound}
	case schema.OpCreate:
		return []int{http.StatusBadRequest, http.StatusForbidden}
	case schema.OpUpdate:
		return []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError}
	default:
		return []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError}
	}
}

func errorSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"statusCode": {Type: "integer"},
			"error":      {Type: "string"},
			"message":    {Type: "string"},
			"validation": {Type: "array", Items: &Schema{
				Type: "object",
				Properties: map[string]*Schema{
					"field":      {Type: "string"},
					"constraint": {Type: "string"},
					"message":    {Type: "string"},
				},
			}},
		},
		Required: []string{"statusCode", "error", "message"},
	}
}

// RuleSchema converts a validation rule into a JSON Schema.
func RuleSchema(r *schema.Rule) *Schema {
	if r == nil {
		return &Schema{}
	}

	s := &Schema{
		Description: r.Description,
		Enum:        r.Enum,
		Default:     r.Default,
		Nullable:    r.Nullable,
	}

	switch r.Type {
	case schema.RuleString:
		s.Type = "string"
		s.Format = stringFormat(r.Format)
		s.Pattern = r.Pattern
		s.MinLength, s.MaxLength = intBound(r.Min), intBound(r.Max)
	case schema.RuleNumber:
		s.Type = "number"
		s.Minimum, s.Maximum = r.Min, r.Max
	case schema.RuleInteger:
		s.Type = "integer"
		s.Format = "int64"
		s.Minimum, s.Maximum = r.Min, r.Max
	case schema.RuleIdentifier:
		s.Type = "integer"
		s.Format = "int64"
	case schema.RuleBoolean:
		s.Type = "boolean"
	case schema.RuleDate:
		s.Type = "string"
		s.Format = "date-time"
	case schema.RuleArray:
		s.Type = "array"
		s.Items = RuleSchema(r.Items)
		s.MinItems, s.MaxItems = intBound(r.Min), intBound(r.Max)
	case schema.RuleObject:
		s.Type = "object"
		if len(r.Fields) > 0 {
			s.Properties = make(map[string]*Schema, len(r.Fields))
			for _, nr := range r.Fields {
				s.Properties[nr.Name] = RuleSchema(nr.Rule)
				if nr.Rule != nil && nr.Rule.Required {
					s.Required = append(s.Required, nr.Name)
				}
			}
		}
	}

	return s
}

// stringFormat maps validator tags onto OpenAPI formats.
func stringFormat(tag string) string {
	switch tag {
	case "":
		return ""
	case "url", "uri", "http_url":
		return "uri"
	case "uuid", "uuid4":
		return "uuid"
	case "ipv4", "ipv6", "email", "hostname":
		return tag
	default:
		return strings.ReplaceAll(tag, "_", "-")
	}
}

func intBound(f *float64) *int {
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

// ToJSON returns the spec as indented JSON.
func (spec *Spec) ToJSON() ([]byte, error) {
	return json.MarshalIndent(spec, "", "  ")
}

// ToJSONCompact returns the spec as compact JSON.
func (spec *Spec) ToJSONCompact() ([]byte, error) {
	return json.Marshal(spec)
}
