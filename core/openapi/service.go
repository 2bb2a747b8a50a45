package openapi

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/swaggo/swag"

	"github.com/artpar/restmod/core/controller"
)

// DefaultInstanceName is the swag instance the document registers under.
const DefaultInstanceName = "restmod"

// Service holds the generated document of the current route table and
// exposes it to swag and over HTTP.
type Service struct {
	name   string
	info   Info
	logger zerolog.Logger

	doc      atomic.Pointer[[]byte]
	register sync.Once
}

// ServiceConfig contains configuration for the OpenAPI service.
type ServiceConfig struct {
	InstanceName string
	Info         Info
	Logger       zerolog.Logger
}

// NewService creates a service. The document is empty until Update.
func NewService(cfg ServiceConfig) *Service {
	name := cfg.InstanceName
	if name == "" {
		name = DefaultInstanceName
	}
	info := cfg.Info
	if info.Title == "" {
		info.Title = "restmod API"
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}
	return &Service{name: name, info: info, logger: cfg.Logger}
}

// InstanceName returns the swag instance name.
func (s *Service) InstanceName() string {
	return s.name
}

// Update regenerates the document from routes and registers the service
// with swag on first use.
func (s *Service) Update(routes []controller.Route) error {
	gen := NewGenerator(routes)
	gen.SetInfo(s.info)

	data, err := gen.Generate().ToJSON()
	if err != nil {
		return fmt.Errorf("generate openapi: %w", err)
	}
	s.doc.Store(&data)

	s.register.Do(func() {
		if swag.GetSwagger(s.name) != nil {
			s.logger.Warn().Str("instance", s.name).Msg("swag instance already registered")
			return
		}
		swag.Register(s.name, s)
	})

	s.logger.Debug().Int("routes", len(routes)).Msg("openapi document generated")
	return nil
}

// ReadDoc implements swag.Swagger.
func (s *Service) ReadDoc() string {
	if p := s.doc.Load(); p != nil {
		return string(*p)
	}
	return "{}"
}

// ServeHTTP writes the document as JSON.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write([]byte(s.ReadDoc()))
}
