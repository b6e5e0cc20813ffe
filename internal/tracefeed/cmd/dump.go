package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tracefeed/internal/disasm"
	"tracefeed/internal/elfx"
	"tracefeed/internal/ui/colorize"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <trace>",
	Short: "Print decoded trace events",
	Example: `
# First 20 events of a binary trace
tracefeed dump -n 20 run.trc
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		r, err := openTrace(cmd, args[0])
		if err != nil {
			return err
		}
		defer r.Close()

		w := cmd.OutOrStdout()
		stream := disasm.Collect(r, limit)
		if symPath, _ := cmd.Flags().GetString("symbols"); symPath != "" {
			im, err := elfx.Open(symPath)
			if err != nil {
				return err
			}
			im.Bias, _ = cmd.Flags().GetUint64("bias")
			stream.Symbolize(im)
		}
		for _, inst := range stream {
			fmt.Fprintln(w, colorize.Line(inst.String()))
		}

		stats := r.Stats()
		fmt.Fprintf(w, "; %d events shown, %d parsed, %d skipped\n", len(stream), stats.Instructions, stats.Skipped)
		return nil
	},
}

func init() {
	dumpCmd.Flags().IntP("limit", "n", 100, "Number of events to print (0 for all)")
	dumpCmd.Flags().String("symbols", "", "ELF binary used to name code addresses")
	dumpCmd.Flags().Uint64("bias", 0, "Load address bias of the --symbols binary")
	addFormatFlag(dumpCmd)
	rootCmd.AddCommand(dumpCmd)
}
