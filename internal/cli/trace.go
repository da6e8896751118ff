package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lemonstate/internal/harness"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Store string // optional - filter to one store
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Scenario   string               `json:"scenario"`
	Pass       bool                 `json:"pass"`
	Timeline   []harness.TraceEvent `json:"timeline"`
	Recomputes map[string]int       `json:"recomputes"`
	Errors     []string             `json:"errors,omitempty"`
	Stats      TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents   int `json:"total_events"`
	Actions       int `json:"actions"`
	Notifications int `json:"notifications"`
	Errors        int `json:"errors"`
	Recomputes    int `json:"recomputes"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <scenario-file>",
		Short: "Print the trace of one scenario",
		Long: `Run one scenario and print its timeline: every action, the
notifications it caused and the errors it raised.

Examples:
  lemonstate trace ./scenarios/cart.yaml
  lemonstate trace ./scenarios/cart.cue --store cart
  lemonstate trace ./scenarios/cart.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "only show events of this store")

	return cmd
}

func runTrace(opts *TraceOptions, path string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	result, err := harness.Run(scenario, harness.WithLogger(opts.logger(cmd)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	timeline := buildTimeline(result.Trace, opts.Store)
	out := TraceResult{
		Scenario:   scenario.Name,
		Pass:       result.Pass,
		Timeline:   timeline,
		Recomputes: result.Recomputes,
		Errors:     result.Errors,
		Stats:      buildStats(timeline),
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: out})
	}
	return outputTraceText(cmd.OutOrStdout(), out, opts.Verbose)
}

// buildTimeline filters the trace to one store when store is set.
func buildTimeline(trace []harness.TraceEvent, store string) []harness.TraceEvent {
	timeline := make([]harness.TraceEvent, 0, len(trace))
	for _, ev := range trace {
		if store != "" && ev.Store != store {
			continue
		}
		timeline = append(timeline, ev)
	}
	return timeline
}

func buildStats(timeline []harness.TraceEvent) TraceStats {
	stats := TraceStats{TotalEvents: len(timeline)}
	for _, ev := range timeline {
		switch ev.Type {
		case harness.EventNotify:
			stats.Notifications++
		case harness.EventError:
			stats.Errors++
		default:
			stats.Actions++
		}
		stats.Recomputes += ev.Recomputed
	}
	return stats
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for Scenario: %s\n", result.Scenario)
	fmt.Fprintf(w, "Status: %s\n", passStatus(result.Pass))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, event := range result.Timeline {
		formatTimelineEvent(w, event, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Recomputes ===")
	if len(result.Recomputes) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	refs := make([]string, 0, len(result.Recomputes))
	for ref := range result.Recomputes {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		fmt.Fprintf(w, "  %s: %d\n", ref, result.Recomputes[ref])
	}
	fmt.Fprintln(w)

	if len(result.Errors) > 0 {
		fmt.Fprintln(w, "=== Failed Expectations ===")
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(e, "\n", "\n  "))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events:  %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Actions:       %d\n", result.Stats.Actions)
	fmt.Fprintf(w, "  Notifications: %d\n", result.Stats.Notifications)
	fmt.Fprintf(w, "  Errors:        %d\n", result.Stats.Errors)
	fmt.Fprintf(w, "  Recomputes:    %d\n", result.Stats.Recomputes)

	return nil
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, event harness.TraceEvent, verbose bool) {
	var line string
	switch event.Type {
	case harness.EventSet:
		line = fmt.Sprintf("SET %s %s", event.Store, formatArgs(event.State))
	case harness.EventNotify:
		line = fmt.Sprintf("NOTIFY %s %s", event.Store, formatValue(toAnySlice(event.Changed)))
	case harness.EventRead:
		line = fmt.Sprintf("READ %s.%s", event.Store, event.Key)
		if event.Value != nil {
			line += " = " + formatValue(event.Value)
		}
	case harness.EventError:
		line = fmt.Sprintf("ERROR %s %s", event.Store, event.Code)
	default:
		line = fmt.Sprintf("%s %s", strings.ToUpper(event.Type), event.Store)
	}
	fmt.Fprintf(w, "  [%d] %s\n", event.Step, line)
	if verbose && event.Recomputed > 0 {
		fmt.Fprintf(w, "       Recomputed: %d\n", event.Recomputed)
	}
}

func toAnySlice(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// formatArgs formats a map for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// passStatus returns a human-readable scenario status.
func passStatus(pass bool) string {
	if pass {
		return "Pass"
	}
	return "Fail (expectations not met)"
}
