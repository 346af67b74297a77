// Package cmd provides the root command and CLI setup for prompteval.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"prompteval.dev/pkg/prompteval/internal/adapter"
	"prompteval.dev/pkg/prompteval/internal/controller"
	"prompteval.dev/pkg/prompteval/internal/domain"
	m "prompteval.dev/pkg/prompteval/internal/model"
)

var testcaseAdapter adapter.TestcaseFSAdapter
var checkoutAdapter adapter.CheckoutAdapter
var workflow domain.Workflow
var ui controller.UI

// verboseFlag enables debug logging and verbose evaluator output.
var verboseFlag bool

// forceFlag destroys stale workdirs left over from a previous run.
var forceFlag bool

// noCleanFlag keeps workdirs around after their test finishes.
var noCleanFlag bool

// sourceRootFlag is the checkout that per-worker workdirs are copied from.
var sourceRootFlag string

func init() {
	// Initialize shared dependencies.
	ui = controller.NewUI(rootCmd, controller.IsTTY(os.Stdout))
	testcaseAdapter = adapter.NewLocalTestcaseFSAdapter()
	checkoutAdapter = adapter.NewLocalCheckoutAdapter()
	workflow = domain.NewWorkflow(
		testcaseAdapter,
		checkoutAdapter,
		ui,
		newWorkerPool,
	)
}

// newWorkerPool builds the production pool, routing result output through
// the command's writer so tests can capture it.
func newWorkerPool(cfg domain.PoolConfig) domain.Pool {
	cfg.Out = rootCmd.OutOrStdout()

	return domain.NewWorkerPool(cfg)
}

const pathArgumentsHelp = `Testcase paths may be files or directories:
  - eval/                 recursively scan a directory for *.eval.yaml
  - eval/foo.eval.yaml    run a single testcase
  - eval/a eval/b         scan multiple directories`

const rootLongDescription = `Prompteval runs agent evaluation testcases concurrently. Each worker gets
an isolated copy of the source checkout, invokes the evaluation tool
against it, and failed tests are retried up to a configurable budget.

` + pathArgumentsHelp

const runLongDescription = `Run the selected testcases (default: current directory).

` + pathArgumentsHelp

const listLongDescription = `List the testcases a run would execute, with their per-test settings.

` + pathArgumentsHelp

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := baseRootCmd()
	configureRootFlags(cmd)

	return cmd
}

func baseRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompteval",
		Short: "Concurrent agent evaluation harness",
		Long:  rootLongDescription,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogger("", verboseFlag)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", viper.GetBool(logVerboseKey), "enable debug logging and verbose evaluator output")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(verboseFlagName), logVerboseKey)

	cmd.PersistentFlags().BoolVarP(&forceFlag, forceFlagName, "f", false, "destroy stale workdirs left over from a previous run")

	cmd.PersistentFlags().BoolVar(&noCleanFlag, noCleanFlagName, false, "keep workdirs after their test finishes")

	cmd.PersistentFlags().StringVar(&sourceRootFlag, sourceRootFlagName, viper.GetString(sourceRootConfigKey), "source checkout that workdirs are copied from")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(sourceRootFlagName), sourceRootConfigKey)
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

func parsePaths(args []string) []m.Path {
	if len(args) == 0 {
		return []m.Path{m.Path(".")}
	}

	paths := make([]m.Path, 0, len(args))
	for _, arg := range args {
		paths = append(paths, m.Path(arg))
	}

	return paths
}
