package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jstool.dev/pkg/jstool/internal/domain"
)

var runParallelFlag int
var runHeadlessFlag bool

// runCmd represents the run command.
var runCmd = newRunCmd()

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "run [suite.yml...]",
		Short:        "Run JavaScript test suites in a headless browser",
		Long:         runLongDescription,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err := workflow.Run(ctx, domain.RunArgs{
				SuitePaths:      parseSuitePaths(args),
				Coverage:        coverageEnabled(),
				CoverageTimeout: secondsKey(coverageTimeoutKey),
				Parallel:        viper.GetInt(runParallelConfigKey),
			})

			return err
		},
	}

	configureRunFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func configureRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&runParallelFlag, runParallelFlagName, "p", viper.GetInt(runParallelConfigKey), "number of suite pages loaded at once")
	bindFlagToConfig(cmd.Flags().Lookup(runParallelFlagName), runParallelConfigKey)

	cmd.Flags().BoolVar(&runHeadlessFlag, headlessFlagName, viper.GetBool(browserHeadlessKey), "run Chrome without a window")
	bindFlagToConfig(cmd.Flags().Lookup(headlessFlagName), browserHeadlessKey)

	cmd.Flags().Int(coverageTimeoutFlagName, viper.GetInt(coverageTimeoutKey), "seconds to wait for every suite to report coverage")
	bindFlagToConfig(cmd.Flags().Lookup(coverageTimeoutFlagName), coverageTimeoutKey)
}
