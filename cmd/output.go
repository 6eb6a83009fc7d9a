package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kidoz/vmsmoke/internal/session"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, v any, format string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// reportView adds the derived verdict to the serialized report.
type reportView struct {
	Verdict        string `json:"verdict" yaml:"verdict"`
	session.Report `yaml:",inline"`
}

func writeReport(w io.Writer, r *session.Report, format string) error {
	if format != outputText {
		return encode(w, reportView{Verdict: r.Verdict(), Report: *r}, format)
	}

	fmt.Fprintf(w, "Host:     %s", r.Host)
	if r.InstanceID != "" {
		fmt.Fprintf(w, " (instance %s)", r.InstanceID)
	}
	fmt.Fprintln(w)
	if r.Suite != nil {
		fmt.Fprintf(w, "Suite:    %s\n", r.Suite)
	}
	fmt.Fprintf(w, "Verdict:  %s (%s)\n\n", r.Verdict(), r.Duration().Round(time.Second))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, step := range r.Steps {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", step.Name, stepStatus(step), step.Result.Summary())
		for _, adv := range step.Advisory {
			fmt.Fprintf(tw, "  \t\t%s\n", adv.Summary())
		}
		if step.Result.Escalated() {
			for _, esc := range step.Result.Escalations {
				fmt.Fprintf(tw, "  \t\tescalated from %s (%s)\n", esc.Strategy, esc.Kind)
			}
			fmt.Fprintf(tw, "  \t\tfinished by %s\n", step.Result.Strategy)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings (%d):\n", len(r.Warnings))
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  - [%s] %s\n", warn.Step, firstLine(warn.Message))
		}
	}
	return nil
}

func stepStatus(step session.StepOutcome) string {
	switch {
	case step.Result.Succeeded:
		return "ok"
	case step.IsWarningOnly:
		return "warning"
	default:
		return "FAILED"
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
