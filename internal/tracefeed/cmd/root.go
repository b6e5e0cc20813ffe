package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"tracefeed/internal/config"
	"tracefeed/internal/logging"
	"tracefeed/internal/trace"
	tflog "tracefeed/internal/tracefeed/log"
	"tracefeed/internal/ui/colorize"
)

// cfg is loaded before every command runs.
var cfg = config.Default()

var stopProfiles = func() {}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a JSON config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.PersistentFlags().String("memprofile", "", "Write memory profile to file")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
}

var rootCmd = &cobra.Command{
	Use:   "tracefeed",
	Short: "Instruction trace reader for simulator front ends",
	Long: `Tracefeed reads x86-64 instruction traces, decodes every instruction and
resolves whether it transferred control, one instruction ahead.
Text traces are converted once into a compact binary form that replays faster.`,
	Example: `
# Convert a text trace to the binary format
tracefeed convert run.txt.gz

# Print the first 50 decoded instructions
tracefeed dump --limit 50 run.trc

# Replay the whole trace and print counters
tracefeed run run.trc
  `,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded

		debug, _ := cmd.Flags().GetBool("debug")
		if debug {
			cfg.Debug = true
		}
		if cfg.Debug {
			logging.SetDebug()
		}
		tflog.Setup(nil, cfg.Debug)

		return startProfiles(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		stopProfiles()
	},
}

func startProfiles(cmd *cobra.Command) error {
	var stops []func()

	cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			f.Close()
		})
	}

	memprofile, _ := cmd.Flags().GetString("memprofile")
	if memprofile != "" {
		stops = append(stops, func() {
			f, err := os.Create(memprofile)
			if err != nil {
				slog.Error("could not create memory profile", "error", err)
				return
			}
			defer f.Close()
			if err := pprof.WriteHeapProfile(f); err != nil {
				slog.Error("could not write memory profile", "error", err)
			}
		})
	}

	stopProfiles = func() {
		for _, stop := range stops {
			stop()
		}
		stops = nil
	}
	return nil
}

// openTrace opens path with the configured reader options.
func openTrace(cmd *cobra.Command, path string) (trace.Reader, error) {
	name, _ := cmd.Flags().GetString("format")
	format, err := trace.ParseFormat(name)
	if err != nil {
		return nil, err
	}
	opts := append(cfg.ReaderOptions(path, format), trace.WithLogger(logging.Default()))
	return trace.Open(path, format, opts...)
}

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().String("format", "auto", "Trace format: text, binary or auto")
}

// isTerminal reports whether stdout is an interactive terminal.
func isTerminal() bool {
	return term.IsTerminal(os.Stdout.Fd())
}

func Execute() {
	err := execute()
	stopProfiles()
	if err != nil {
		os.Exit(1)
	}
}

func execute() error {
	// fang renders help and errors for humans; plain cobra when piped
	if !isTerminal() {
		colorize.Disable()
		return rootCmd.Execute()
	}
	return fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	)
}
