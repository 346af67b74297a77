package cmd

import (
	"github.com/spf13/cobra"

	"prompteval.dev/pkg/prompteval/internal/domain"
)

var listFilterFlag string
var listShardFlag string

// listCmd represents the list command.
var listCmd = newListCmd()

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [paths...]",
		Short: "List evaluation testcases",
		Long:  listLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			shardIndex, totalShards := shardSelection(listShardFlag)

			testcases, err := workflow.ListTestcases(cmd.Context(), domain.ListArgs{
				Paths:       parsePaths(args),
				Filter:      listFilterFlag,
				ShardIndex:  shardIndex,
				TotalShards: totalShards,
			})
			if err != nil {
				return err
			}

			return ui.DisplayTestcases(cmd.Context(), testcases)
		},
	}

	cmd.Flags().StringVar(&listFilterFlag, filterFlagName, "", "list only tests matching these ::-separated globs")
	cmd.Flags().StringVarP(&listShardFlag, shardFlagName, "s", "", "shard index and total shard count in the format INDEX/TOTAL (e.g., 0/3)")

	return cmd
}

func init() {
	rootCmd.AddCommand(listCmd)
}
