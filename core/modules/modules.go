// Package modules holds the bundled module definitions: games, their
// reviews and sign-in sessions.
package modules

import (
	"embed"

	"github.com/artpar/restmod/core/schema"
)

// FS holds the bundled module files.
//
//go:embed *.yaml
var FS embed.FS

// Bundled parses the bundled module files.
func Bundled() ([]schema.Module, error) {
	return schema.ParseFS(FS, ".")
}
