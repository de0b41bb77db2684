// Package tabular reads and writes label tree record tables as CSV, JSON or YAML.
package tabular

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/pbaille/labeltree/internal/domain"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Format names a serialization
type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
	YAML Format = "yaml"
)

// ErrUnsupported is returned for a format that cannot carry the requested shape
var ErrUnsupported = errors.New("unsupported format")

// ParseFormat validates a format name
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case CSV, JSON, YAML:
		return f, nil
	case "yml":
		return YAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, name)
}

// FormatFromPath guesses a format from a file extension, defaulting to CSV
func FormatFromPath(path string) Format {
	f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return CSV
	}
	return f
}

// FormatFromContentType maps a media type to a format, false when unknown
func FormatFromContentType(contentType string) (Format, bool) {
	switch contentType {
	case "text/csv":
		return CSV, true
	case "application/json":
		return JSON, true
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return YAML, true
	}
	return "", false
}

// WriteRecords writes a flat record table
func WriteRecords(w io.Writer, format Format, records []domain.Record) error {
	switch format {
	case CSV:
		return writeCSV(w, records)
	case JSON:
		return writeJSON(w, records)
	case YAML:
		return writeYAML(w, records)
	}
	return fmt.Errorf("%w: %q", ErrUnsupported, format)
}

// WriteHierarchy writes a nested record. CSV cannot carry nesting.
func WriteHierarchy(w io.Writer, format Format, root domain.Record) error {
	switch format {
	case JSON:
		return writeJSON(w, root)
	case YAML:
		return writeYAML(w, root)
	}
	return fmt.Errorf("%w for hierarchy: %q", ErrUnsupported, format)
}

// ReadRecords reads a flat record table. Columns absent from the input are
// absent from the records; empty CSV cells become nil.
func ReadRecords(r io.Reader, format Format) ([]domain.Record, error) {
	switch format {
	case CSV:
		return readCSV(r)
	case JSON:
		var records []domain.Record
		if err := json.NewDecoder(r).Decode(&records); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return records, nil
	case YAML:
		var records []domain.Record
		if err := yaml.NewDecoder(r).Decode(&records); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		return records, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, format)
}

func writeCSV(w io.Writer, records []domain.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(domain.Columns); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	row := make([]string, len(domain.Columns))
	for _, r := range records {
		for i, col := range domain.Columns {
			row[i] = formatCell(r[col])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format(time.RFC3339)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return s
}

func readCSV(r io.Reader) ([]domain.Record, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	// Spreadsheet exports often start with a byte order mark.
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []domain.Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rec := make(domain.Record, len(header))
		for i, col := range header {
			if row[i] == "" {
				rec[col] = nil
				continue
			}
			rec[col] = row[i]
		}
		records = append(records, rec)
	}
	return records, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
