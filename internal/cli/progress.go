package cli

import (
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"

	"github.com/confmove/confmove/internal/models"
	"github.com/confmove/confmove/internal/state"
)

const pollInterval = time.Second

// tickMsg triggers re-reading the state file.
type tickMsg time.Time

// stateUpdateMsg carries freshly loaded state counts.
type stateUpdateMsg struct {
	total  int
	counts map[models.Status]int
	err    error
}

// watchModel is the bubbletea model for live migration progress.
type watchModel struct {
	path     string
	total    int
	counts   map[models.Status]int
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newWatchModel(path string) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return watchModel{
		path:     path,
		progress: prog,
		theme:    defaultTheme,
	}
}

// watchState runs the live progress display until the migration
// completes or the user quits.
func watchState() error {
	model := newWatchModel(statePath())
	_, err := tea.NewProgram(model).Run()
	return err
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.readState(),
		m.progress.Init(),
	)
}

func (m watchModel) readState() tea.Cmd {
	return func() tea.Msg {
		st, err := state.Load(m.path)
		if err != nil {
			return stateUpdateMsg{err: err}
		}
		return stateUpdateMsg{total: st.Len(), counts: st.Summary()}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.readState()

	case stateUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to read state file: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.total = msg.total
		m.counts = msg.counts

		if m.total > 0 && m.terminal() == m.total {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// terminal counts pages that will not move again this run.
func (m watchModel) terminal() int {
	return m.counts[models.StatusUploaded] + m.counts[models.StatusFailed]
}

func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.err != nil {
		return m.theme.errorStyle().Render("✗ "+m.err.Error()) + "\n"
	}
	if m.total == 0 {
		return m.theme.hintStyle().Render("Waiting for migration state...") + "\n"
	}

	pct := float64(m.terminal()) / float64(m.total)
	bar := m.progress.ViewAs(pct)

	line := fmt.Sprintf("%s %d/%d pages", bar, m.terminal(), m.total)
	detail := fmt.Sprintf("exported %d  converted %d  uploaded %d  failed %d",
		m.counts[models.StatusExported],
		m.counts[models.StatusConverted],
		m.counts[models.StatusUploaded],
		m.counts[models.StatusFailed])

	if m.done {
		status := m.theme.completedStyle().Render("✓ migration complete")
		if m.counts[models.StatusFailed] > 0 {
			status = m.theme.errorStyle().Render(fmt.Sprintf("✗ finished with %d failed pages", m.counts[models.StatusFailed]))
		}
		return fmt.Sprintf("%s\n%s\n", status, detail)
	}

	hint := m.theme.hintStyle().Render("q to quit")
	return fmt.Sprintf("%s\n%s\n%s\n", line, m.theme.statusStyle().Render(detail), hint)
}
