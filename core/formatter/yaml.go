package formatter

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAML formats rows as a YAML sequence.
type YAML struct{}

// Name returns the formatter name.
func (YAML) Name() string {
	return "yaml"
}

// Format writes the rows as a sequence of mappings.
func (YAML) Format(w io.Writer, columns []string, rows []map[string]any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(pick(columns, rows)); err != nil {
		return err
	}
	return enc.Close()
}
