package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tracefeed/internal/convert"
	"tracefeed/internal/logging"
)

var convertCmd = &cobra.Command{
	Use:   "convert <in> [out]",
	Short: "Convert a text trace to the binary format",
	Long: `Convert parses a text trace (gzip or plain) and writes gzip compressed
binary records. Malformed lines are dropped; conversion aborts once the drop
budget is spent. The output defaults to the input name with a .trc extension.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := ""
		if len(args) > 1 {
			out = args[1]
		}

		opts := cfg.ConvertOptions()
		opts.Logger = logging.Default()
		if budget, _ := cmd.Flags().GetInt("drop-budget"); budget > 0 {
			opts.DropBudget = budget
		}

		path, sum, err := convert.ConvertFile(cmd.Context(), args[0], out, opts)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "wrote %s: %d records, %d dropped of %d lines\n", path, sum.Records, sum.Dropped, sum.Lines)
		if show, _ := cmd.Flags().GetBool("binaries"); show {
			for id, name := range sum.DisplayNames() {
				fmt.Fprintf(w, "%3d  %s\n", id, name)
			}
			if sum.Overflowed > 0 {
				fmt.Fprintf(w, "%3d  (overflow, %d records)\n", convert.OverflowBinary, sum.Overflowed)
			}
		}
		return nil
	},
}

func init() {
	convertCmd.Flags().Int("drop-budget", 0, "Malformed lines tolerated before aborting (default from config)")
	convertCmd.Flags().Bool("binaries", false, "List the source binary id table")
	rootCmd.AddCommand(convertCmd)
}
