// Command waldump is an interactive viewer for the `print` operation: it
// opens a log file through wal.NewWAL (which creates it if missing),
// appends nothing to it, and renders every record it contains in a
// scrollable terminal view.
package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/clui951/storemy-wal/pkg/log/wal"
	"github.com/clui951/storemy-wal/pkg/memory"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type model struct {
	path     string
	viewport viewport.Model
	ready    bool
}

func newModel(path, dump string) model {
	vp := viewport.New(0, 0)
	vp.SetContent(dump)
	return model{path: path, viewport: vp}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - headerHeight - footerHeight
		m.ready = true
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "loading...\n"
	}
	return fmt.Sprintf("%s\n%s\n%s", m.headerView(), m.viewport.View(), m.footerView())
}

func (m model) headerView() string {
	return titleStyle.Render(fmt.Sprintf("waldump: %s", m.path))
}

func (m model) footerView() string {
	pct := fmt.Sprintf("%3.f%%", m.viewport.ScrollPercent()*100)
	return footerStyle.Render(fmt.Sprintf("%s  q quits, arrows/pgup/pgdn scroll", pct))
}

func run(path string) error {
	registry := memory.NewTypeRegistry()
	memory.RegisterSimplePageType(registry)
	store := memory.NewSimplePageStore(registry)

	w, err := wal.NewWAL(path, store)
	if err != nil {
		return err
	}
	defer w.Close()

	var buf bytes.Buffer
	if err := w.Print(&buf); err != nil {
		return err
	}

	p := tea.NewProgram(newModel(path, buf.String()), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: waldump <log-file>")
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "waldump:", err)
		os.Exit(1)
	}
}
