package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tracefeed/internal/follow"
	"tracefeed/internal/logging"
	"tracefeed/internal/trace"
)

var followCmd = &cobra.Command{
	Use:   "follow <trace>",
	Short: "Tail a text trace that is still being written",
	Long: `Follow tails a plain text trace and reports progress every --every records.
It keeps waiting for new lines until interrupted, or stops at the current end
of file with --once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		every, _ := cmd.Flags().GetUint64("every")
		once, _ := cmd.Flags().GetBool("once")
		poll, _ := cmd.Flags().GetBool("poll")
		if every == 0 {
			every = 1
		}

		w := cmd.OutOrStdout()
		var n uint64
		sum, err := follow.Follow(cmd.Context(), args[0], func(rec trace.Record) error {
			n++
			if n%every == 0 {
				fmt.Fprintf(w, "%d records, last pc %#x\n", n, rec.PC)
			}
			return nil
		}, follow.Options{Logger: logging.Default(), Once: once, Poll: poll})

		fmt.Fprintf(w, "%d lines, %d records, %d malformed\n", sum.Lines, sum.Records, sum.Malformed)
		if err != nil && cmd.Context().Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	followCmd.Flags().Uint64("every", 100000, "Report progress every N records")
	followCmd.Flags().Bool("once", false, "Stop at the current end of file")
	followCmd.Flags().Bool("poll", false, "Poll for changes instead of using inotify")
	rootCmd.AddCommand(followCmd)
}
