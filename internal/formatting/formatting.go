// Package formatting renders apply results for the command line.
package formatting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"sigs.k8s.io/yaml"

	"github.com/giantswarm/upsert/pkg/createorreplace"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Rich table output
	FormatJSON  OutputFormat = "json"  // JSON output
	FormatYAML  OutputFormat = "yaml"  // YAML output
)

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat
	Color  bool // Enable colored table output
}

// ParseFormat validates an output format name.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use table, json or yaml)", s)
	}
}

// OutcomeDeleted is reported for objects removed by a delete.
const OutcomeDeleted = "Deleted"

// Result is the outcome of applying or deleting one object.
type Result struct {
	Kind            string `json:"kind"`
	Namespace       string `json:"namespace,omitempty"`
	Name            string `json:"name"`
	Outcome         string `json:"outcome"`
	ResourceVersion string `json:"resourceVersion,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Render writes results to w in the configured format.
func Render(w io.Writer, results []Result, options Options) error {
	switch options.Format {
	case FormatJSON:
		_, err := fmt.Fprintln(w, PrettyJSON(resultsOrEmpty(results)))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(resultsOrEmpty(results))
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatTable, "":
		return renderTable(w, results, options.Color)
	default:
		return fmt.Errorf("unsupported output format %q", options.Format)
	}
}

func resultsOrEmpty(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}

func renderTable(w io.Writer, results []Result, color bool) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, colorize(color, text.FgYellow, "No objects processed"))
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{
		colorize(color, text.FgHiCyan, "KIND"),
		colorize(color, text.FgHiCyan, "NAMESPACE"),
		colorize(color, text.FgHiCyan, "NAME"),
		colorize(color, text.FgHiCyan, "OUTCOME"),
		colorize(color, text.FgHiCyan, "VERSION"),
		colorize(color, text.FgHiCyan, "ERROR"),
	})

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
		t.AppendRow(table.Row{
			r.Kind,
			r.Namespace,
			r.Name,
			colorize(color, outcomeColor(r.Outcome), r.Outcome),
			r.ResourceVersion,
			truncate(r.Error, 80),
		})
	}

	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d total", len(results)), "", fmt.Sprintf("%d failed", failed)})
	t.Render()
	return nil
}

func outcomeColor(outcome string) text.Color {
	switch createorreplace.Outcome(outcome) {
	case createorreplace.OutcomeCreated:
		return text.FgGreen
	case createorreplace.OutcomeReplaced, createorreplace.OutcomeRecreated:
		return text.FgHiBlue
	case createorreplace.OutcomeFailed:
		return text.FgRed
	case OutcomeDeleted:
		return text.FgYellow
	default:
		return text.FgHiBlack
	}
}

func colorize(enabled bool, c text.Color, s string) string {
	if !enabled {
		return s
	}
	return c.Sprint(s)
}

// truncate collapses s to a single line of at most max runes.
func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
