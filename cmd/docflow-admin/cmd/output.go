package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// Output format constants.
const (
	outputJSON = "json"
	outputYAML = "yaml"
	outputWide = "wide"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: marshal JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// printYAML round-trips v through JSON so json tags and raw payloads are
// respected.
func printYAML(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: marshal YAML: %v\n", err)
		return
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		fmt.Fprintf(os.Stderr, "Error: marshal YAML: %v\n", err)
		return
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: marshal YAML: %v\n", err)
		return
	}
	fmt.Print(string(out))
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// tableWriter renders kubectl-style borderless tables.
type tableWriter struct {
	tw table.Writer
}

func newTable(headers ...string) *tableWriter {
	return newTableTo(os.Stdout, headers...)
}

func newTableTo(w io.Writer, headers ...string) *tableWriter {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)

	style := table.StyleDefault
	style.Options = table.OptionsNoBordersAndSeparators
	style.Format.Header = text.FormatDefault
	tw.SetStyle(style)

	row := make(table.Row, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	tw.AppendHeader(row)
	return &tableWriter{tw: tw}
}

func (t *tableWriter) AddRow(values ...string) {
	row := make(table.Row, len(values))
	for i, v := range values {
		row[i] = v
	}
	t.tw.AppendRow(row)
}

func (t *tableWriter) Render() {
	t.tw.Render()
}

func printTotal(shown, total int) {
	if total == 0 {
		fmt.Println("No resources found.")
		return
	}
	fmt.Printf("\nShowing %d of %d results\n", shown, total)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func optTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return shortTime(*t)
}

// age renders a kubectl-style relative duration.
func age(t time.Time, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
