package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedFormat = errors.New("events: unsupported export format")

// CSVHeader is the fixed export schema.
const CSVHeader = "id,type,severity,timestamp,actor,summary"

// ExportOptions select the serialization format and the filters to re-apply
// before serializing. Export never serializes the unfiltered log.
type ExportOptions struct {
	Format string // "csv" (default) or "json"
	Filter Filters
}

// Export filters the records and renders them in the requested format.
func Export(records []Record, opts ExportOptions) (string, error) {
	filtered := Filter(records, opts.Filter)
	format := opts.Format
	if format == "" {
		format = "csv"
	}
	switch format {
	case "csv":
		return exportCSV(filtered), nil
	case "json":
		return exportJSON(filtered)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func exportCSV(records []Record) string {
	lines := make([]string, 0, len(records)+1)
	lines = append(lines, CSVHeader)
	for _, rec := range records {
		lines = append(lines, csvRow([]string{
			rec.ID,
			rec.Type,
			rec.Severity,
			rec.Timestamp,
			rec.Actor,
			rec.Summary,
		}))
	}
	return strings.Join(lines, "\n")
}

// csvRow quotes any value containing a comma, quote or newline, doubling
// internal quotes.
func csvRow(values []string) string {
	quoted := make([]string, len(values))
	for i, value := range values {
		if strings.ContainsAny(value, ",\"\n") {
			quoted[i] = `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
		} else {
			quoted[i] = value
		}
	}
	return strings.Join(quoted, ",")
}

func exportJSON(records []Record) (string, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
