package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"tracefeed/internal/trace"
	"tracefeed/internal/tracefeed/styles"
	"tracefeed/internal/xdec"
)

// replaySummary is what run reports after draining a trace.
type replaySummary struct {
	Events     uint64
	Taken      uint64
	Undecoded  uint64
	MemOps     uint64
	Categories map[xdec.Category]uint64
	Stats      trace.Stats
}

// replay drains r.
func replay(r trace.Reader) replaySummary {
	sum := replaySummary{Categories: make(map[xdec.Category]uint64)}
	for {
		ev := r.Next()
		if !ev.Valid {
			break
		}
		sum.Events++
		sum.Categories[ev.Category]++
		if ev.Taken && ev.Category.IsBranch() {
			sum.Taken++
		}
		if ev.UnknownType {
			sum.Undecoded++
		}
		for _, used := range ev.MemUsed {
			if used {
				sum.MemOps++
			}
		}
	}
	sum.Stats = r.Stats()
	return sum
}

func (s replaySummary) markdown(path string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trace\n\n`%s`\n\n", path)
	b.WriteString("| counter | value |\n|---|---:|\n")
	fmt.Fprintf(&b, "| instructions | %d |\n", s.Events)
	fmt.Fprintf(&b, "| branches | %d |\n", s.Stats.Branches)
	fmt.Fprintf(&b, "| taken branches | %d |\n", s.Taken)
	fmt.Fprintf(&b, "| skipped | %d |\n", s.Stats.Skipped)
	fmt.Fprintf(&b, "| memory operands | %d |\n", s.MemOps)

	b.WriteString("\n## Categories\n\n| category | count |\n|---|---:|\n")
	for _, c := range s.sortedCategories() {
		fmt.Fprintf(&b, "| %s | %d |\n", c, s.Categories[c])
	}
	return b.String()
}

func (s replaySummary) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "instructions  %d\n", s.Events)
	fmt.Fprintf(&b, "branches      %d\n", s.Stats.Branches)
	fmt.Fprintf(&b, "taken         %d\n", s.Taken)
	fmt.Fprintf(&b, "skipped       %d\n", s.Stats.Skipped)
	fmt.Fprintf(&b, "mem operands  %d\n", s.MemOps)
	for _, c := range s.sortedCategories() {
		fmt.Fprintf(&b, "  %-12s %d\n", c, s.Categories[c])
	}
	return b.String()
}

// sortedCategories orders categories by count, most frequent first.
func (s replaySummary) sortedCategories() []xdec.Category {
	cats := make([]xdec.Category, 0, len(s.Categories))
	for c := range s.Categories {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if s.Categories[cats[i]] != s.Categories[cats[j]] {
			return s.Categories[cats[i]] > s.Categories[cats[j]]
		}
		return cats[i] < cats[j]
	})
	return cats
}

var runCmd = &cobra.Command{
	Use:   "run <trace>",
	Short: "Replay a whole trace and print counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openTrace(cmd, args[0])
		if err != nil {
			return err
		}
		defer r.Close()

		sum := replay(r)

		w := cmd.OutOrStdout()
		if md, _ := cmd.Flags().GetBool("markdown"); md {
			out, err := styles.RenderMarkdown(sum.markdown(args[0]), 80)
			if err != nil {
				return fmt.Errorf("failed to render summary: %w", err)
			}
			fmt.Fprintln(w, out)
			return nil
		}
		fmt.Fprint(w, sum.text())
		return nil
	},
}

func init() {
	runCmd.Flags().BoolP("markdown", "m", false, "Render the summary as markdown")
	addFormatFlag(runCmd)
	rootCmd.AddCommand(runCmd)
}
