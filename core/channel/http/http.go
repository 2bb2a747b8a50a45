// Package http binds compiled resource routes to a chi router. It parses and
// validates each request part, runs the controller and writes its reply or
// error as JSON.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/artpar/restmod/adapters/metrics"
	"github.com/artpar/restmod/core/apierr"
	"github.com/artpar/restmod/core/controller"
	"github.com/artpar/restmod/core/schema"
	"github.com/artpar/restmod/core/validation"
)

// MaxBodyBytes bounds request payloads.
const MaxBodyBytes = 1 << 20

// Config configures a Channel.
type Config struct {
	Logger zerolog.Logger

	// Metrics is optional.
	Metrics *metrics.Collector

	// Auth maps strategy names used by routes to their middleware.
	Auth map[string]AuthStrategy

	// RequestTimeout bounds each request. Zero means 60s.
	RequestTimeout time.Duration

	// Sample draws a percentile. A reply is validated when the draw is below
	// its route's sample rate. Nil draws uniformly from [0, 100).
	Sample func() int
}

// Channel serves compiled routes over HTTP.
type Channel struct {
	router    chi.Router
	logger    zerolog.Logger
	metrics   *metrics.Collector
	auth      map[string]AuthStrategy
	validator *validation.Validator
	sample    func() int
	routes    []controller.Route
}

// New creates a channel with its middleware stack and health endpoints.
func New(cfg Config) *Channel {
	c := &Channel{
		router:    chi.NewRouter(),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		auth:      map[string]AuthStrategy{},
		validator: validation.New(),
		sample:    cfg.Sample,
	}
	for name, s := range cfg.Auth {
		c.auth[name] = s
	}
	if c.sample == nil {
		c.sample = func() int { return rand.Intn(100) }
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	c.router.Use(middleware.RequestID)
	c.router.Use(middleware.RealIP)
	c.router.Use(NewLoggingMiddleware(c.logger))
	c.router.Use(middleware.Recoverer)
	c.router.Use(middleware.Timeout(timeout))

	c.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, apierr.NotFound("Not Found"))
	})
	c.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, &apierr.Error{Kind: apierr.KindNotFound, Status: http.StatusMethodNotAllowed, Message: "Method Not Allowed"})
	})

	c.router.Get("/health", c.handleHealth)
	c.router.Get("/health/live", c.handleHealth)

	return c
}

// Handler returns the HTTP handler.
func (c *Channel) Handler() http.Handler {
	return c.router
}

// Mount attaches h under pattern, outside the resource routes.
func (c *Channel) Mount(pattern string, h http.Handler) {
	c.router.Mount(pattern, h)
}

// Handle attaches h at exactly pattern.
func (c *Channel) Handle(pattern string, h http.Handler) {
	c.router.Handle(pattern, h)
}

// Routes returns the routes registered so far.
func (c *Channel) Routes() []controller.Route {
	return c.routes
}

// Register binds routes. It fails without binding anything when a route
// names an unknown auth strategy or has no controller.
func (c *Channel) Register(routes []controller.Route) error {
	var problems []string
	for _, rt := range routes {
		if rt.Controller == nil {
			problems = append(problems, fmt.Sprintf("%s %s has no controller", rt.Method, rt.Path))
		}
		if rt.Auth != "" {
			if _, ok := c.auth[rt.Auth]; !ok {
				problems = append(problems, fmt.Sprintf("%s %s: unknown auth strategy %q", rt.Method, rt.Path, rt.Auth))
			}
		}
	}
	if len(problems) > 0 {
		return &schema.ConfigError{Source: "http", Problems: problems}
	}

	for _, rt := range routes {
		var h http.Handler = c.handle(rt)
		if rt.Auth != "" {
			h = c.auth[rt.Auth](h)
		}
		c.router.Method(rt.Method, rt.Path, h)
		c.routes = append(c.routes, rt)

		c.logger.Debug().
			Str("method", rt.Method).
			Str("path", rt.Path).
			Str("entity", rt.Entity).
			Str("operation", string(rt.Operation)).
			Msg("route registered")
	}
	return nil
}

func (c *Channel) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handle serves one route.
func (c *Channel) handle(rt controller.Route) http.HandlerFunc {
	entity, op := rt.Entity, string(rt.Operation)

	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if c.metrics != nil {
			c.metrics.RequestsInFlight.Inc()
			defer c.metrics.RequestsInFlight.Dec()
		}

		status := c.serve(w, r, rt)

		if c.metrics != nil {
			c.metrics.RequestsTotal.WithLabelValues(entity, op, metrics.StatusClass(status)).Inc()
			c.metrics.RequestDuration.WithLabelValues(entity, op).Observe(time.Since(start).Seconds())
		}
	}
}

func (c *Channel) serve(w http.ResponseWriter, r *http.Request, rt controller.Route) int {
	ctrl := rt.Controller
	log := hlog.FromRequest(r).With().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("entity", rt.Entity).
		Str("operation", string(rt.Operation)).
		Logger()

	req, err := c.request(r, rt)
	if err != nil {
		aErr := apierr.From(err)
		if c.metrics != nil {
			var vErr *validation.Error
			if errors.As(err, &vErr) {
				c.metrics.ValidationFailures.WithLabelValues(rt.Entity, string(rt.Operation), vErr.Source).Inc()
			}
		}
		return writeError(w, aErr)
	}

	reply, err := ctrl.Serve(r.Context(), req)
	if err != nil {
		aErr := apierr.From(err)
		if aErr.Status >= http.StatusInternalServerError {
			log.Error().Err(aErr).Int("status", aErr.Status).Msg("request failed")
			if c.metrics != nil && aErr.Kind == apierr.KindStore {
				c.metrics.StoreErrors.WithLabelValues(rt.Entity, string(rt.Operation)).Inc()
			}
		}
		return writeError(w, aErr)
	}
	if reply == nil {
		reply = &controller.Reply{Status: http.StatusNoContent}
	}

	if ctrl.Response != nil && c.sample() < ctrl.Sample {
		if err := c.checkResponse(ctrl.Response, reply.Body); err != nil {
			log.Error().Err(err).Msg("response failed validation")
			if c.metrics != nil {
				c.metrics.ResponseMismatches.WithLabelValues(rt.Entity, string(rt.Operation)).Inc()
			}
			return writeError(w, apierr.Internal("An internal server error occurred", err))
		}
	}

	if reply.Location != "" {
		w.Header().Set("Location", reply.Location)
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return status
	}
	return writeJSON(w, status, reply.Body)
}

// request collects and validates the request parts.
func (c *Channel) request(r *http.Request, rt controller.Route) (*controller.Request, error) {
	ctrl := rt.Controller

	params := make(map[string]any)
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" {
				continue
			}
			params[key] = rctx.URLParams.Values[i]
		}
	}

	query := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	var payload map[string]any
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		p, err := decodePayload(r)
		if err != nil {
			return nil, err
		}
		payload = p
	}

	req := &controller.Request{Params: params, Query: query, Payload: payload, Header: r.Header}

	var err error
	if ctrl.Params != nil {
		if req.Params, err = c.validator.Object("params", ctrl.Params, params, validation.Convert); err != nil {
			return nil, apierr.BadRequest(err.Error(), err)
		}
	}
	if ctrl.Query != nil {
		if req.Query, err = c.validator.Object("query", ctrl.Query, query, validation.Convert); err != nil {
			return nil, apierr.BadRequest(err.Error(), err)
		}
	}
	if ctrl.Payload != nil {
		if payload == nil {
			payload = map[string]any{}
		}
		if req.Payload, err = c.validator.Object("payload", ctrl.Payload, payload, validation.Convert); err != nil {
			return nil, apierr.BadRequest(err.Error(), err)
		}
	}

	return req, nil
}

func decodePayload(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, apierr.BadRequest("Invalid request payload", err)
	}
	if len(body) > MaxBodyBytes {
		return nil, &apierr.Error{Kind: apierr.KindValidation, Status: http.StatusRequestEntityTooLarge, Message: "Payload content length greater than maximum allowed"}
	}
	if len(body) == 0 {
		return nil, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apierr.BadRequest("Invalid request payload JSON format", err)
	}
	return payload, nil
}

// checkResponse validates the reply body as it will appear on the wire.
func (c *Channel) checkResponse(rule *schema.Rule, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	var wire any
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	_, err = c.validator.Value("response", rule, wire, validation.Strict)
	return err
}

func writeJSON(w http.ResponseWriter, status int, body any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
	return status
}

func writeError(w http.ResponseWriter, e *apierr.Error) int {
	return writeJSON(w, e.Status, e.Body())
}
