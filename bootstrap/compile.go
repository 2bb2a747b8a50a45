package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/restmod/core/resource"
	"github.com/artpar/restmod/core/storage"
)

// Compile loads the modules of dir (or the bundled ones when dir is empty)
// against a throwaway in-memory store. It reports every configuration error
// the server would hit at start without touching a real store.
func Compile(ctx context.Context, dir string, logger zerolog.Logger) (resource.Registry, error) {
	mods, err := loadModules(dir)
	if err != nil {
		return nil, fmt.Errorf("load modules: %w", err)
	}

	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open scratch store: %w", err)
	}
	defer store.Close()

	loader := &resource.Loader{
		Store:    store,
		Logger:   logger,
		Hooks:    Hooks(mods, DefaultHooks(logger)),
		HashCost: bcrypt.MinCost,
	}
	return loader.Load(ctx, mods)
}
