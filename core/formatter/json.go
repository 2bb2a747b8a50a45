package formatter

import (
	"encoding/json"
	"io"
)

// JSON formats rows as an indented JSON array.
type JSON struct{}

// Name returns the formatter name.
func (JSON) Name() string {
	return "json"
}

// Format writes the rows as an array of objects.
func (JSON) Format(w io.Writer, columns []string, rows []map[string]any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(pick(columns, rows))
}
