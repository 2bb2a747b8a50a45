package formatter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Table formats rows as an aligned text table.
type Table struct {
	// NoHeader disables the header row.
	NoHeader bool
}

// Name returns the formatter name.
func (Table) Name() string {
	return "table"
}

// Format writes one line per row. Empty values print as "-".
func (f Table) Format(w io.Writer, columns []string, rows []map[string]any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if !f.NoHeader {
		headers := make([]string, len(columns))
		for i, col := range columns {
			headers[i] = strings.ToUpper(col)
		}
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
	}

	for _, row := range rows {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = formatValue(row[col])
		}
		fmt.Fprintln(tw, strings.Join(values, "\t"))
	}

	return tw.Flush()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		if val == "" {
			return "-"
		}
		return val
	case bool:
		if val {
			return "yes"
		}
		return "no"
	case []string:
		if len(val) == 0 {
			return "-"
		}
		return strings.Join(val, ",")
	default:
		return fmt.Sprint(val)
	}
}
