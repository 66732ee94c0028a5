package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mattsolo1/tuxplan/pkg/orchestration"
)

func isTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// stateText colors a state for terminal output. Finished tests are shown
// by their result.
func stateText(kind orchestration.UnitKind, state, result string) string {
	shown := state
	if kind == orchestration.UnitTest && orchestration.IsTerminalTestState(state) && result != "" {
		shown = result
	}
	if shown == "" {
		return color.New(color.Faint).Sprint("-")
	}

	switch shown {
	case orchestration.StatePass:
		return color.GreenString(shown)
	case orchestration.StateWarning:
		return color.YellowString(shown)
	case orchestration.StateFail, orchestration.StateError:
		return color.RedString(shown)
	case orchestration.StateCanceled, "unknown", "skip":
		return color.MagentaString(shown)
	case orchestration.StateRunning, orchestration.StateProvisioning:
		return color.CyanString(shown)
	}
	return shown
}

func kindSymbol(kind orchestration.UnitKind) string {
	if kind == orchestration.UnitBuild {
		return "build"
	}
	return "test "
}

// eventJSON is the line-delimited JSON form of a watch event.
type eventJSON struct {
	Kind        orchestration.UnitKind `json:"kind"`
	UID         string                 `json:"uid"`
	Label       string                 `json:"label"`
	State       string                 `json:"state"`
	Result      string                 `json:"result,omitempty"`
	WaitingFor  string                 `json:"waiting_for,omitempty"`
	DownloadURL string                 `json:"download_url,omitempty"`
}

func printEvent(w io.Writer, ev orchestration.Event, jsonOutput bool) error {
	if jsonOutput {
		line := eventJSON{Kind: ev.Kind, UID: ev.UID(), Label: ev.Label(), State: ev.State, Result: ev.Result}
		if ev.Build != nil {
			line.DownloadURL = ev.Build.DownloadURL
		}
		if ev.Test != nil {
			line.WaitingFor = ev.Test.WaitingFor
		}
		return json.NewEncoder(w).Encode(line)
	}

	_, err := fmt.Fprintf(w, "%s %-28s %-40s %s\n",
		kindSymbol(ev.Kind), ev.UID(), ev.Label(), stateText(ev.Kind, ev.State, ev.Result))
	return err
}

func printSummary(w io.Writer, s orchestration.Summary, jsonOutput bool) error {
	if jsonOutput {
		return json.NewEncoder(w).Encode(map[string]any{"summary": s})
	}
	fmt.Fprintf(w, "\nBuilds: %s\n", formatCounts(s.Builds))
	fmt.Fprintf(w, "Tests:  %s\n", formatCounts(s.Tests))
	return nil
}

// formatCounts renders per-state counts. Summary keys finished tests by
// result already, so keys are colored as plain states.
func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", stateText(orchestration.UnitBuild, k, ""), counts[k]))
	}
	return strings.Join(parts, ", ")
}

func printStates(w io.Writer, states []orchestration.UnitState) {
	for _, us := range states {
		fmt.Fprintf(w, "%s %-28s %-40s %s\n",
			kindSymbol(us.Kind), us.UID, us.Label, stateText(us.Kind, us.State, us.Result))
	}
}

func printEntries(w io.Writer, cfg *orchestration.PlanConfig) {
	fmt.Fprintf(w, "Plan: %s (%s)\n", color.CyanString(cfg.Name), cfg.Kind)
	if cfg.Description != "" {
		fmt.Fprintf(w, "%s\n", cfg.Description)
	}
	fmt.Fprintln(w)
	for i, e := range cfg.Entries {
		name := e.Name
		if e.JobName != "" && e.JobName != e.Name {
			name = fmt.Sprintf("%s (%s)", e.Name, e.JobName)
		}
		fmt.Fprintf(w, "%3d. %s\n", i+1, color.New(color.Bold).Sprint(name))
		for _, t := range e.Tests {
			test := orchestration.Test{Spec: t}
			fmt.Fprintf(w, "       test %s\n", test.Label())
		}
	}
	fmt.Fprintf(w, "\n%d builds, %d tests\n", cfg.BuildCount(), cfg.TestCount())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
