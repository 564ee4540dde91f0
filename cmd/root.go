// Package cmd provides the root command and CLI setup for jstool.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"jstool.dev/pkg/jstool/internal/adapter"
	"jstool.dev/pkg/jstool/internal/controller"
	"jstool.dev/pkg/jstool/internal/domain"
	m "jstool.dev/pkg/jstool/internal/model"
)

var fsAdapter adapter.SourceFSAdapter
var suiteLoader adapter.SuiteLoader
var reportStore adapter.ReportStore
var workflow domain.Workflow
var ui controller.UI

// verboseFlag switches logging to debug.
var verboseFlag bool

// logFileFlag overrides the log file path.
var logFileFlag string

func init() {
	configureRootFlags(rootCmd)

	// Initialize shared dependencies.
	ui = controller.NewUI(rootCmd, controller.IsTTY(os.Stdout))
	fsAdapter = adapter.NewLocalSourceFSAdapter()
	suiteLoader = adapter.NewYAMLSuiteLoader(fsAdapter)
	reportStore = configuredReportStore{fs: fsAdapter}
	workflow = domain.NewWorkflow(
		suiteLoader,
		reportStore,
		ui,
		newSuitePageServer,
		newBrowser,
	)
}

const suitePathsHelp = `Each argument is a YAML suite description file. Without arguments
` + adapter.DefaultSuiteFile + ` in the current directory is used.`

const rootLongDescription = `jstool runs JavaScript test suites in a browser. It serves a runner page
for every suite together with the suite's libraries, sources, specs and
fixtures, and optionally collects line coverage through JSCover.

` + suitePathsHelp

const runLongDescription = `Serve every suite, load each runner page in headless Chrome and report
the results. With coverage.jscover_path set, sources are instrumented and
coverage reports are written.

` + suitePathsHelp

const serveLongDescription = `Serve every suite for manual browsing until interrupted.

` + suitePathsHelp

const listLongDescription = `List suites and the files each one resolves to.

` + suitePathsHelp

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jstool",
		Short: "JavaScript test runner with coverage",
		Long:  rootLongDescription,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogger(logFileFlag, verboseFlag)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", viper.GetBool(logVerboseKey), "log at debug level")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(verboseFlagName), logVerboseKey)

	cmd.PersistentFlags().StringVar(&logFileFlag, logFileFlagName, viper.GetString(logFilenameKey), "path of the rotating log file")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(logFileFlagName), logFilenameKey)

	cmd.PersistentFlags().String(jscoverFlagName, viper.GetString(jscoverPathKey), "path to the JSCover JAR; enables coverage")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(jscoverFlagName), jscoverPathKey)

	cmd.PersistentFlags().String(coverageXMLFlagName, viper.GetString(coverageXMLKey), "write a Cobertura XML coverage report to this path")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(coverageXMLFlagName), coverageXMLKey)

	cmd.PersistentFlags().String(coverageHTMLFlagName, viper.GetString(coverageHTMLKey), "write an HTML coverage report to this path")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(coverageHTMLFlagName), coverageHTMLKey)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func parseSuitePaths(args []string) []string {
	if len(args) == 0 {
		return []string{adapter.DefaultSuiteFile}
	}

	paths := make([]string, 0, len(args))
	paths = append(paths, args...)

	return paths
}

// configuredReportStore resolves report paths when reports are saved, so
// flags parsed after init still apply.
type configuredReportStore struct {
	fs adapter.SourceFSAdapter
}

func (s configuredReportStore) SaveReports(snapshot m.CoverageSnapshot) error {
	store := adapter.NewCoverageReportStore(s.fs, viper.GetString(coverageXMLKey), viper.GetString(coverageHTMLKey))
	return store.SaveReports(snapshot)
}

func newSuitePageServer(suites []*m.SuiteDescription, coverage bool) (domain.SuitePageServer, error) {
	renderer, err := adapter.NewTemplateRenderer()
	if err != nil {
		return nil, err
	}

	opts := domain.ServerOptions{
		Coverage:     coverage,
		Renderer:     renderer,
		FS:           fsAdapter,
		PollInterval: millisecondsKey(coveragePollIntervalKey),
	}

	if coverage {
		launcher := adapter.NewJSCoverLauncher(viper.GetString(javaPathKey), viper.GetString(jscoverPathKey))
		ports := adapter.NewPortRegistry()
		instrOpts := instrumenterOptions()

		opts.NewInstrumenter = func(suite *m.SuiteDescription) adapter.SourceInstrumenter {
			return adapter.NewJSCoverInstrumenter(suite.RootDir, launcher, ports, instrOpts)
		}
	}

	return domain.NewSuitePageServer(suites, opts)
}

func newBrowser() (adapter.Browser, error) {
	browser, err := adapter.NewRodBrowser(browserConfig())
	if err != nil {
		return nil, err
	}

	return browser, nil
}
