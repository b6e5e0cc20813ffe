package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/spf13/cobra"

	"tracefeed/internal/disasm"
	"tracefeed/internal/trace"
	"tracefeed/internal/tracefeed/styles"
)

type eventsMsg struct {
	stream disasm.Stream
	stats  trace.Stats
	err    error
}

// loadEventsCmd reads the first limit events of the trace opened by open.
func loadEventsCmd(open func() (trace.Reader, error), limit int) tea.Cmd {
	return func() tea.Msg {
		r, err := open()
		if err != nil {
			return eventsMsg{err: err}
		}
		defer r.Close()
		stream := disasm.Collect(r, limit)
		return eventsMsg{stream: stream, stats: r.Stats()}
	}
}

type model struct {
	viewport viewport.Model
	spinner  spinner.Model

	path    string
	limit   int
	load    tea.Cmd
	loading bool

	stream disasm.Stream
	stats  trace.Stats
	err    error

	width  int
	height int
}

func newModel(path string, limit int, open func() (trace.Reader, error)) model {
	vp := viewport.New()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	m := model{
		viewport: vp,
		spinner:  s,
		path:     path,
		limit:    limit,
		load:     loadEventsCmd(open, limit),
		loading:  true,
	}
	m.updateContent()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.load, m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case eventsMsg:
		m.loading = false
		m.stream = msg.stream
		m.stats = msg.stats
		m.err = msg.err
		m.updateContent()
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateContent()
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.updateContent()
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "g", "home":
			m.viewport.GotoTop()
			return m, nil
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) View() string {
	menu := " ↑/↓: scroll • g: top • Q: quit "
	if !m.loading && m.err == nil {
		menu = fmt.Sprintf(" %d events • %d skipped •%s", len(m.stream), m.stats.Skipped, menu)
	}
	return m.viewport.View() + "\n" + styles.MenuBar(menu, m.width)
}

func (m *model) header() string {
	var lines []string
	if dir := filepath.Dir(m.path); dir != "." {
		lines = append(lines, fmt.Sprintf("; %s/", dir))
	}
	lines = append(lines, fmt.Sprintf("; %s", filepath.Base(m.path)))
	if !m.loading && m.err == nil {
		lines = append(lines,
			fmt.Sprintf("; %d instructions parsed, %d branches, %d taken, %d skipped",
				m.stats.Instructions, m.stats.Branches, m.stats.Taken, m.stats.Skipped))
	}

	md := fmt.Sprintf("# Trace\n\n```\n%s\n```", strings.Join(lines, "\n"))
	if m.loading {
		md += fmt.Sprintf("\n\n%s Decoding first %d events...", m.spinner.View(), m.limit)
	}
	if m.err != nil {
		md += fmt.Sprintf("\n\n> %s", m.err)
	}

	width := m.width
	if width == 0 {
		width = 80
	}
	rendered, err := styles.RenderMarkdown(md, width-2)
	if err != nil {
		return md
	}
	return rendered
}

func (m *model) updateContent() {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n\n")
	for _, inst := range m.stream {
		b.WriteString(renderInst(inst))
		b.WriteByte('\n')
	}
	m.viewport.SetContent(strings.TrimSuffix(b.String(), "\n"))
}

// renderInst styles one listing line for the viewer.
func renderInst(inst disasm.Inst) string {
	text := styles.Mnemonic.Render(fmt.Sprintf("%-40s", inst.Text))
	if inst.Unknown {
		text = styles.Bad.Render(fmt.Sprintf("%-40s", inst.Text))
	}
	note := styles.Note.Render("; " + inst.Annotation())
	if inst.Taken && inst.Category.IsBranch() {
		note = styles.Taken.Render("; " + inst.Annotation())
	}
	return fmt.Sprintf("%s  %s %s", styles.Address.Render(fmt.Sprintf("%016x", inst.VA)), text, note)
}

var viewCmd = &cobra.Command{
	Use:   "view <trace>",
	Short: "Browse decoded trace events in a terminal UI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if !isTerminal() {
			return fmt.Errorf("view needs a terminal; use dump instead")
		}

		open := func() (trace.Reader, error) { return openTrace(cmd, args[0]) }
		program := tea.NewProgram(
			newModel(args[0], limit, open),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	},
}

func init() {
	viewCmd.Flags().IntP("limit", "n", 5000, "Number of events to load")
	addFormatFlag(viewCmd)
	rootCmd.AddCommand(viewCmd)
}
