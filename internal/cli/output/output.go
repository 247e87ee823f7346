// Package output renders CLI command results in table, JSON, or YAML form.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format identifies an output format selected with --output.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatTable, "":
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected table, json, or yaml)", s)
	}
}

// Print renders data in the requested format. Table output requires data
// to implement TableRenderer; JSON and YAML accept anything marshalable.
func Print(w io.Writer, format Format, data any) error {
	switch format {
	case FormatJSON:
		return PrintJSON(w, data)
	case FormatYAML:
		return PrintYAML(w, data)
	default:
		tr, ok := data.(TableRenderer)
		if !ok {
			return fmt.Errorf("value of type %T cannot be rendered as a table", data)
		}
		return PrintTable(w, tr)
	}
}
