package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"prompteval.dev/pkg/prompteval/internal/adapter"
	"prompteval.dev/pkg/prompteval/internal/domain"
	m "prompteval.dev/pkg/prompteval/internal/model"
)

// fallbackConsoleWidth is used when stdout is not a terminal.
const fallbackConsoleWidth = 80

var runParallelFlag int
var runRetriesFlag int
var runRepeatFlag int
var runFilterFlag string
var runShardFlag string
var runPrintOutputFlag bool
var runSandboxFlag bool
var runAgentBinFlag string
var runEvalBinFlag string
var runInstallNpmFlag string
var runInstallSourceFlag string
var runTestTimeoutFlag = defaultTestTimeout

// runCmd represents the run command.
var runCmd = newRunCmd()

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run evaluation testcases",
		Long:  runLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			shardIndex, totalShards := shardSelection(runShardFlag)

			verdict, err := workflow.RunEvals(cmd.Context(), domain.RunArgs{
				Paths:       parsePaths(args),
				Filter:      runFilterFlag,
				ShardIndex:  shardIndex,
				TotalShards: totalShards,
				Repeat:      runRepeatFlag,
				Retries:     viper.GetInt(retriesConfigKey),
				Workers:     viper.GetInt(runParallelConfigKey),
				SourceRoot:  m.Path(viper.GetString(sourceRootConfigKey)),
				Options: domain.WorkerOptions{
					Clean:        !noCleanFlag,
					Verbose:      verboseFlag,
					Force:        forceFlag,
					Sandbox:      viper.GetBool(agentSandboxConfigKey),
					AgentBin:     m.Path(viper.GetString(agentBinConfigKey)),
					ConsoleWidth: consoleWidth(),
					TestTimeout:  viper.GetDuration(testTimeoutConfigKey),
				},
				Install: adapter.InstallConfig{
					Bin:            m.Path(viper.GetString(evalBinConfigKey)),
					NpmVersion:     viper.GetString(evalNpmVersionConfigKey),
					SourceRevision: viper.GetString(evalSourceRevConfigKey),
					SourceRepo:     viper.GetString(evalSourceRepoConfigKey),
					Dir:            m.Path(viper.GetString(evalInstallDirConfigKey)),
				},
				PrintOutputOnSuccess: runPrintOutputFlag,
			})
			if err != nil {
				return err
			}

			if verdict.ExitCode != 0 {
				if len(verdict.Failed) == 0 {
					return errors.New("no testcases selected")
				}

				return fmt.Errorf("%d testcases still failing after %d rounds", len(verdict.Failed), verdict.Rounds)
			}

			return nil
		},
	}

	configureRunFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func configureRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&runParallelFlag, runParallelFlagName, "p", viper.GetInt(runParallelConfigKey), "number of parallel workers (-1 for one per test)")
	bindFlagToConfig(cmd.Flags().Lookup(runParallelFlagName), runParallelConfigKey)

	cmd.Flags().IntVar(&runRetriesFlag, retriesFlagName, viper.GetInt(retriesConfigKey), "extra rounds to re-run failed tests")
	bindFlagToConfig(cmd.Flags().Lookup(retriesFlagName), retriesConfigKey)

	cmd.Flags().IntVar(&runRepeatFlag, repeatFlagName, viper.GetInt(repeatConfigKey), "run each selected test this many extra times")
	bindFlagToConfig(cmd.Flags().Lookup(repeatFlagName), repeatConfigKey)

	cmd.Flags().StringVar(&runFilterFlag, filterFlagName, "", "run only tests matching these ::-separated globs")
	cmd.Flags().StringVarP(&runShardFlag, shardFlagName, "s", "", "shard index and total shard count in the format INDEX/TOTAL (e.g., 0/3)")
	cmd.Flags().BoolVar(&runPrintOutputFlag, printOutputFlagName, false, "echo evaluator output for passing tests as well")

	cmd.Flags().BoolVar(&runSandboxFlag, sandboxFlagName, viper.GetBool(agentSandboxConfigKey), "run the agent inside a sandbox")
	bindFlagToConfig(cmd.Flags().Lookup(sandboxFlagName), agentSandboxConfigKey)

	cmd.Flags().StringVar(&runAgentBinFlag, agentBinFlagName, viper.GetString(agentBinConfigKey), "agent binary the evaluator should invoke")
	bindFlagToConfig(cmd.Flags().Lookup(agentBinFlagName), agentBinConfigKey)

	cmd.Flags().StringVar(&runEvalBinFlag, evalBinFlagName, viper.GetString(evalBinConfigKey), "use a preinstalled evaluation binary")
	bindFlagToConfig(cmd.Flags().Lookup(evalBinFlagName), evalBinConfigKey)

	cmd.Flags().StringVar(&runInstallNpmFlag, installNpmFlagName, viper.GetString(evalNpmVersionConfigKey), "install the evaluation tool from npm at this version")
	bindFlagToConfig(cmd.Flags().Lookup(installNpmFlagName), evalNpmVersionConfigKey)

	cmd.Flags().StringVar(&runInstallSourceFlag, installSourceFlagName, viper.GetString(evalSourceRevConfigKey), "build the evaluation tool from source at this revision")
	bindFlagToConfig(cmd.Flags().Lookup(installSourceFlagName), evalSourceRevConfigKey)

	cmd.Flags().DurationVar(&runTestTimeoutFlag, testTimeoutFlagName, viper.GetDuration(testTimeoutConfigKey), "timeout for a single evaluation")
	bindFlagToConfig(cmd.Flags().Lookup(testTimeoutFlagName), testTimeoutConfigKey)

	cmd.MarkFlagsMutuallyExclusive(evalBinFlagName, installNpmFlagName, installSourceFlagName)
}

// shardSelection resolves the shard spec from the flag, falling back to the
// run.shard config key so CI can drive sharding through the environment.
func shardSelection(flagValue string) (int, int) {
	if flagValue == "" {
		flagValue = viper.GetString(shardConfigKey)
	}

	return parseShardFlag(flagValue)
}

func parseShardFlag(shard string) (int, int) {
	if shard == "" {
		return 0, 1
	}

	var index, total int

	_, err := fmt.Sscanf(shard, "%d/%d", &index, &total)
	if err != nil || total <= 0 || index < 0 || index >= total {
		return 0, 1
	}

	return index, total
}

func consoleWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return fallbackConsoleWidth
	}

	return width
}
