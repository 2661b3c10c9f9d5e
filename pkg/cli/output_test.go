package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type summary struct {
	Name     string    `json:"name" yaml:"name"`
	Channels int       `json:"channels" yaml:"channels"`
	Rates    []float64 `json:"rates" yaml:"rates"`
}

func (s summary) Table() *Table {
	return &Table{
		Title:   s.Name,
		Headers: []string{"channel", "rate"},
		Rows:    [][]string{{"0", "1.5"}, {"1", "2.5"}},
	}
}

var testSummary = summary{Name: "src", Channels: 2, Rates: []float64{1.5, 2.5}}

func TestOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Output(testSummary, OutputOptions{Format: FormatJSON, Writer: &buf}); err != nil {
		t.Fatal(err)
	}
	var got summary
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if diff := cmp.Diff(testSummary, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestOutputYAMLDefault(t *testing.T) {
	var buf bytes.Buffer
	if err := Output(testSummary, OutputOptions{Writer: &buf}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "name: src") {
		t.Errorf("default format should be YAML, got:\n%s", buf.String())
	}
}

func TestOutputQuery(t *testing.T) {
	var buf bytes.Buffer
	err := Output(testSummary, OutputOptions{Format: FormatJSON, Query: ".rates[]", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "1.5\n2.5\n" {
		t.Errorf("query output = %q", got)
	}

	vals, err := Query(context.Background(), "{n: .name, count: (.rates | length)}", testSummary)
	if err != nil {
		t.Fatal(err)
	}
	want := []any{map[string]any{"n": "src", "count": 2}}
	if diff := cmp.Diff(want, vals); diff != "" {
		t.Errorf("Query mismatch (-want +got):\n%s", diff)
	}

	if _, err := Query(context.Background(), ".[", testSummary); err == nil {
		t.Errorf("expected a parse error")
	}
	if _, err := Query(context.Background(), ".name | error", testSummary); err == nil {
		t.Errorf("expected a runtime error")
	}
}

func TestOutputTable(t *testing.T) {
	var buf bytes.Buffer
	if err := Output(testSummary, OutputOptions{Format: FormatTable, Writer: &buf}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, s := range []string{"src", "channel", "rate", "2.5"} {
		if !strings.Contains(out, s) {
			t.Errorf("table output lacks %q:\n%s", s, out)
		}
	}
	if err := Output(map[string]int{"a": 1}, OutputOptions{Format: FormatTable, Writer: &buf}); err == nil {
		t.Errorf("a map has no table form")
	}
	if err := Output(testSummary, OutputOptions{Format: FormatTable, Query: ".", Writer: &buf}); err == nil {
		t.Errorf("query with table output should fail")
	}
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": FormatYAML, "json": FormatJSON, "table": FormatTable} {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseOutputFormat("xml"); err == nil {
		t.Errorf("xml should be rejected")
	}
}
