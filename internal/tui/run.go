package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the local TUI client and blocks until it exits.
func Run(opts Options) error {
	bridge := NewBridge(opts.Bus)
	bridge.Start()
	defer bridge.Close()

	model := NewModel(opts, bridge)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
