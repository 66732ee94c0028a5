package cmd

import (
	"fmt"
	"time"

	"github.com/mattsolo1/tuxplan/pkg/orchestration"
	"github.com/mattsolo1/tuxplan/pkg/state"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Command flags
var (
	planName          string
	planDescription   string
	planJobName       string
	planGitRepo       string
	planGitRef        string
	planLocalManifest string
	planNoCache       bool
	planNoWait        bool
	planJSON          bool
	planTUI           bool
	planPollInterval  time.Duration
	planMetricsFile   string
)

// NewPlanCmd returns the plan command with all subcommands configured.
func NewPlanCmd() *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Submit, expand and follow plans",
		Long: `Submit, expand and follow plans of builds and the tests gated on them.
A plan document lists jobs; each job declares builds (or a build matrix)
and the tests that run against every one of its builds.`,
	}

	planCmd.AddCommand(newPlanSubmitCmd())
	planCmd.AddCommand(newPlanExpandCmd())
	planCmd.AddCommand(newPlanWatchCmd())
	planCmd.AddCommand(newPlanStatusCmd())
	planCmd.AddCommand(newPlanSchemaCmd())
	return planCmd
}

func addWatchFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&planJSON, "json", false, "Print events and the summary as JSON lines")
	cmd.Flags().BoolVarP(&planTUI, "tui", "t", false, "Follow the plan in an interactive view")
	cmd.Flags().DurationVar(&planPollInterval, "poll-interval", orchestration.DefaultPollInterval, "Time between status polls (default from config)")
	cmd.Flags().StringVar(&planMetricsFile, "metrics-textfile", "", "Write Prometheus metrics of this run to a textfile")
}

func newPlanSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <plan.yaml|url>",
		Short: "Submit a plan and follow it",
		Long: `Expand a plan document, create the plan, submit all builds in one
request and all tests in a second request, then follow the plan until
every build and test has finished.

Examples:
  # Submit and watch
  tuxplan plan submit plan.yaml --git-repo https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git --git-ref master

  # Submit a single job and return immediately
  tuxplan plan submit plan.yaml --job-name defconfig-gcc-10 --no-wait`,
		Args: cobra.ExactArgs(1),
		RunE: runPlanSubmit,
	}
	cmd.Flags().StringVar(&planName, "name", "", "Plan name (default: from the document)")
	cmd.Flags().StringVar(&planDescription, "description", "", "Plan description (default: from the document)")
	cmd.Flags().StringVar(&planJobName, "job-name", "", "Only submit entries with this entry or job name")
	cmd.Flags().StringVar(&planGitRepo, "git-repo", "", "Kernel git repository")
	cmd.Flags().StringVar(&planGitRef, "git-ref", "", "Kernel git ref")
	cmd.Flags().StringVar(&planLocalManifest, "local-manifest", "", "Local manifest for bitbake builds")
	cmd.Flags().BoolVar(&planNoCache, "no-cache", false, "Build without the service cache")
	cmd.Flags().BoolVar(&planNoWait, "no-wait", false, "Return after submission without watching")
	addWatchFlags(cmd)
	return cmd
}

// submissionJSON is printed after a successful submit in JSON mode.
type submissionJSON struct {
	Plan    string                    `json:"plan"`
	Group   string                    `json:"group"`
	Project string                    `json:"project"`
	Builds  []orchestration.UnitState `json:"builds"`
	Tests   []orchestration.UnitState `json:"tests"`
}

func runPlanSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	planCfg, err := orchestration.LoadPlanConfig(ctx, orchestration.PlanConfigOptions{
		Name:        planName,
		Description: planDescription,
		Location:    args[0],
		JobName:     planJobName,
		HTTPClient:  httpClient,
	})
	if err != nil {
		return err
	}
	if len(planCfg.Entries) == 0 {
		return fmt.Errorf("no entries to submit in %s (job name %q)", args[0], planJobName)
	}

	metrics := metricsFor(planMetricsFile)
	client, err := newAPIClient(cfg, metrics.registerer())
	if err != nil {
		return err
	}

	plan := orchestration.NewPlan(client, planCfg, orchestration.SubmitOptions{
		GitRepo:       planGitRepo,
		GitRef:        planGitRef,
		LocalManifest: planLocalManifest,
		NoCache:       planNoCache,
	})
	plan.SetLogger(newPlanLogger())
	if err := plan.Submit(ctx); err != nil {
		_ = metrics.write(planMetricsFile)
		return fmt.Errorf("submit plan: %w", err)
	}

	if err := state.SetActivePlan(plan.UID, plan.Group, plan.Project); err != nil {
		logrus.WithError(err).Warn("Could not record the active plan")
	}

	if planJSON {
		states := plan.States(&orchestration.Snapshot{})
		sub := submissionJSON{Plan: plan.UID, Group: plan.Group, Project: plan.Project}
		for _, us := range states {
			if us.Kind == orchestration.UnitBuild {
				sub.Builds = append(sub.Builds, us)
			} else {
				sub.Tests = append(sub.Tests, us)
			}
		}
		if err := writeJSON(out, sub); err != nil {
			return err
		}
	} else {
		printSubmitted(out, plan)
	}

	if planNoWait {
		return metrics.write(planMetricsFile)
	}
	return watchPlan(cmd, plan, cfg, metrics)
}

func newPlanExpandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand <plan.yaml|url>",
		Short: "Print the builds and tests a plan would submit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planCfg, err := orchestration.LoadPlanConfig(cmd.Context(), orchestration.PlanConfigOptions{
				Name:       planName,
				Location:   args[0],
				JobName:    planJobName,
				HTTPClient: httpClient,
			})
			if err != nil {
				return err
			}
			if planJSON {
				return writeJSON(cmd.OutOrStdout(), planCfg)
			}
			printEntries(cmd.OutOrStdout(), planCfg)
			return nil
		},
	}
	cmd.Flags().StringVar(&planName, "name", "", "Plan name (default: from the document)")
	cmd.Flags().StringVar(&planJobName, "job-name", "", "Only show entries with this entry or job name")
	cmd.Flags().BoolVar(&planJSON, "json", false, "Print the expanded plan as JSON")
	return cmd
}

func newPlanWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [uid]",
		Short: "Follow a submitted plan until it finishes",
		Long: `Follow a submitted plan until every build and test has finished.
If no uid is given, the active plan is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := resolvePlanUID(args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			metrics := metricsFor(planMetricsFile)
			client, err := newAPIClient(cfg, metrics.registerer())
			if err != nil {
				return err
			}
			plan, err := orchestration.LoadPlan(cmd.Context(), client, uid)
			if err != nil {
				return fmt.Errorf("load plan: %w", err)
			}
			plan.SetLogger(newPlanLogger())
			return watchPlan(cmd, plan, cfg, metrics)
		},
	}
	addWatchFlags(cmd)
	return cmd
}

func newPlanStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [uid]",
		Short: "Show the current state of a plan",
		Long: `Fetch the plan once and print every build and test with its state.
If no uid is given, the active plan is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPlanStatus,
	}
	cmd.Flags().BoolVar(&planJSON, "json", false, "Print the plan state as JSON")
	return cmd
}

func runPlanStatus(cmd *cobra.Command, args []string) error {
	uid, err := resolvePlanUID(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg, nil)
	if err != nil {
		return err
	}

	plan, err := orchestration.LoadPlan(cmd.Context(), client, uid)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	plan.SetLogger(newPlanLogger())
	snap, err := plan.GetPlan(cmd.Context())
	if err != nil {
		return err
	}

	states := plan.States(snap)
	out := cmd.OutOrStdout()
	if planJSON {
		return writeJSON(out, map[string]any{"plan": plan.UID, "kind": plan.Kind, "units": states})
	}
	fmt.Fprintf(out, "Plan %s (%s/%s)\n\n", plan.UID, plan.Group, plan.Project)
	printStates(out, states)
	return nil
}

func newPlanSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of plan documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := orchestration.GeneratePlanSchema()
			if err != nil {
				return fmt.Errorf("generate schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
