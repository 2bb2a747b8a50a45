package schema

import (
	"fmt"
	"strings"
)

// ConfigError reports a broken resource definition. It is a build-time
// contract violation and is never recovered from at runtime.
type ConfigError struct {
	// Source names the module or file being compiled.
	Source string

	// Problems lists every violation found.
	Problems []string
}

// Configf creates a ConfigError with a single problem.
func Configf(source, format string, args ...any) *ConfigError {
	return &ConfigError{Source: source, Problems: []string{fmt.Sprintf(format, args...)}}
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("configuration error in %s: %s", e.Source, e.Problems[0])
	}
	return fmt.Sprintf("configuration errors in %s:\n  - %s", e.Source, strings.Join(e.Problems, "\n  - "))
}
