package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/artpar/restmod/core/apierr"
	"github.com/artpar/restmod/core/controller"
	"github.com/artpar/restmod/core/resource"
	"github.com/artpar/restmod/core/schema"
)

// DefaultHooks returns the Go side of the bundled modules. Module files
// cannot carry handlers, so custom handlers are declared here.
func DefaultHooks(logger zerolog.Logger) map[string]resource.Hooks {
	return map[string]resource.Hooks{
		"Session": {
			Options: controller.Options{Controllers: controller.ControllerSet{
				Create: &controller.ControllerOptions{Handler: sessionCreate(logger)},
			}},
		},
	}
}

// sessionCreate stores the credentials and replies with the new record's
// id as the token.
func sessionCreate(logger zerolog.Logger) controller.HandlerFunc {
	return func(ctx context.Context, req *controller.Request) (*controller.Reply, error) {
		doc, err := req.Repo.Create(ctx, req.Payload)
		if err != nil {
			logger.Error().Err(err).Msg("session create failed")
			return nil, apierr.Internal(err.Error(), err)
		}

		id := doc["id"]
		return &controller.Reply{
			Status:   http.StatusCreated,
			Body:     map[string]any{"token": fmt.Sprint(id)},
			Location: fmt.Sprintf("/%v", id),
		}, nil
	}
}

// Hooks merges hook sets for the entities defined by mods. Later sets
// replace earlier ones entity by entity. The first set holds defaults: its
// entries for entities no module defines are dropped. Later sets pass
// through unchanged so the loader reports their unknown entities.
func Hooks(mods []schema.Module, sets ...map[string]resource.Hooks) map[string]resource.Hooks {
	defined := make(map[string]bool, len(mods))
	for _, m := range mods {
		defined[m.Name] = true
	}

	out := make(map[string]resource.Hooks)
	for i, set := range sets {
		for entity, h := range set {
			if i == 0 && !defined[entity] {
				continue
			}
			out[entity] = h
		}
	}
	return out
}
