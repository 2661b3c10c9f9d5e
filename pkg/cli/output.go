package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/itchyny/gojq"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatYAML outputs as YAML (default)
	FormatYAML OutputFormat = "yaml"
	// FormatJSON outputs as JSON
	FormatJSON OutputFormat = "json"
	// FormatTable renders a Tabler as a table
	FormatTable OutputFormat = "table"
)

// ParseOutputFormat checks a --format flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatYAML, FormatJSON, FormatTable:
		return f, nil
	case "":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("cli: unsupported output format %q", s)
}

// OutputOptions configures output behavior
type OutputOptions struct {
	// Format is the output format (yaml, json, table)
	Format OutputFormat

	// Query is a jq expression applied to the result before formatting.
	// Every value it yields is written in turn.
	Query string

	// File is the output file path (empty for stdout)
	File string

	// Writer is an optional custom writer (overrides File)
	Writer io.Writer
}

// Output writes the result to the configured destination
func Output(result any, opts OutputOptions) error {
	var w io.Writer = os.Stdout
	if opts.Writer != nil {
		w = opts.Writer
	} else if opts.File != "" {
		f, err := os.Create(opts.File)
		if err != nil {
			return fmt.Errorf("cli: create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if opts.Query != "" {
		if opts.Format == FormatTable {
			return errors.New("cli: --query cannot be combined with table output")
		}
		values, err := Query(context.Background(), opts.Query, result)
		if err != nil {
			return err
		}
		for _, v := range values {
			if err := write(w, opts.Format, v); err != nil {
				return err
			}
		}
		return nil
	}
	return write(w, opts.Format, result)
}

func write(w io.Writer, f OutputFormat, v any) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML, "":
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("cli: format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatTable:
		t, ok := v.(Tabler)
		if !ok {
			return fmt.Errorf("cli: %T cannot be shown as a table", v)
		}
		_, err := fmt.Fprintln(w, t.Table().Render())
		return err
	default:
		return fmt.Errorf("cli: unsupported output format %q", f)
	}
}

// Query runs the jq expression expr over v. v is first converted to its
// JSON form so struct tags decide the field names.
func Query(ctx context.Context, expr string, v any) ([]any, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cli: parse query: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cli: query input: %w", err)
	}
	var in any
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("cli: query input: %w", err)
	}

	var out []any
	iter := q.RunWithContext(ctx, in)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return nil, fmt.Errorf("cli: query: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Print helpers for terminal output

// PrintSuccess prints a success message with checkmark
func PrintSuccess(format string, args ...any) {
	fmt.Printf("✓ "+format+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(format string, args ...any) {
	fmt.Printf("⚠ "+format+"\n", args...)
}
