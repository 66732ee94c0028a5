package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Global flags
var (
	configPath string
	verbose    bool
)

// NewRootCmd returns the tuxplan command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tuxplan",
		Short: "Submit and follow build and test plans",
		Long: `Submit a plan of kernel or bitbake builds and the tests gated on them
to the build service, then follow it until every build and test is done.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: global config, then ./tuxplan.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log API requests and plan progress at debug level")

	rootCmd.AddCommand(NewPlanCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewCurrentCmd())
	rootCmd.AddCommand(NewUnsetCmd())
	rootCmd.AddCommand(NewVersionCmd())
	return rootCmd
}

func setupLogging(debug bool) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors: color.NoColor,
		FullTimestamp: true,
	})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}
}

// Execute runs the command tree until it returns or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
	}
	return err
}
