package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/mattsolo1/tuxplan/pkg/orchestration"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// watchPlan follows plan until every unit is terminal, then prints the
// summary. It fails when any build or test failed.
func watchPlan(cmd *cobra.Command, plan *orchestration.Plan, cfg *Config, metrics *runMetrics) error {
	interval := cfg.PollInterval
	if cmd.Flags().Changed("poll-interval") {
		interval = planPollInterval
	}
	w := plan.Watch(&orchestration.WatchOptions{Interval: interval})
	out := cmd.OutOrStdout()

	var err error
	if planTUI && !planJSON && isTTY() {
		err = runWatchTUI(cmd.Context(), plan, w)
	} else {
		err = streamEvents(cmd.Context(), out, w, planJSON)
	}

	metrics.observeWatch(plan.UID, w)
	if werr := metrics.write(planMetricsFile); werr != nil {
		logrus.WithError(werr).Warn("Could not write metrics")
	}
	if err != nil {
		return err
	}

	summary := w.Summary()
	if err := printSummary(out, summary, planJSON); err != nil {
		return err
	}
	if summary.Failed() {
		return fmt.Errorf("plan %s: %w", plan.UID, errPlanFailed)
	}
	return nil
}

func streamEvents(ctx context.Context, out io.Writer, w *orchestration.Watcher, jsonOutput bool) error {
	for ev, err := range w.Events(ctx) {
		if err != nil {
			return fmt.Errorf("watch plan: %w", err)
		}
		if err := printEvent(out, ev, jsonOutput); err != nil {
			return err
		}
	}
	return nil
}

func printSubmitted(out io.Writer, plan *orchestration.Plan) {
	fmt.Fprintf(out, "%s Plan %s submitted to %s/%s: %d builds, %d tests\n",
		color.GreenString("✓"), color.CyanString(plan.UID), plan.Group, plan.Project,
		len(plan.Builds), len(plan.Tests))
}
