// Package tui implements the Bubble Tea inspector for a page evaluation.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Model is the top-level Bubble Tea model for the inspector.
type Model struct {
	in *Inspection

	width  int
	height int

	// Verdict list
	index int // currently selected revision

	// Diff viewport
	scrollOffset int
	viewHeight   int

	// Rendered lines for the current revision
	lines []renderedLine

	splitView bool
	showHelp  bool
}

// New creates a new inspector model.
func New(in *Inspection) Model {
	if in == nil {
		in = &Inspection{}
	}
	m := Model{in: in}
	m.updateLines()
	return m
}

func (m *Model) updateLines() {
	if len(m.in.Entries) == 0 {
		m.lines = nil
		return
	}
	m.lines = renderDiff(m.in.Entries[m.index].Diff)
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewHeight = m.height - 4
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Down):
			if m.scrollOffset < len(m.lines)-1 {
				m.scrollOffset++
			}

		case key.Matches(msg, keys.Up):
			if m.scrollOffset > 0 {
				m.scrollOffset--
			}

		case key.Matches(msg, keys.NextRev):
			if m.index < len(m.in.Entries)-1 {
				m.index++
				m.scrollOffset = 0
				m.updateLines()
			}

		case key.Matches(msg, keys.PrevRev):
			if m.index > 0 {
				m.index--
				m.scrollOffset = 0
				m.updateLines()
			}

		case key.Matches(msg, keys.NextHunk):
			m.jumpToNextHunk()

		case key.Matches(msg, keys.PrevHunk):
			m.jumpToPrevHunk()

		case key.Matches(msg, keys.Toggle):
			m.splitView = !m.splitView

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
		}
	}

	return m, nil
}

func (m *Model) jumpToNextHunk() {
	for i := m.scrollOffset + 1; i < len(m.lines); i++ {
		if m.lines[i].IsHunk {
			m.scrollOffset = i
			return
		}
	}
}

func (m *Model) jumpToPrevHunk() {
	for i := m.scrollOffset - 1; i >= 0; i-- {
		if m.lines[i].IsHunk {
			m.scrollOffset = i
			return
		}
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	if m.showHelp {
		return m.renderHelp()
	}

	listWidth := m.listWidth()
	diffWidth := m.width - listWidth - 1

	list := m.renderVerdictList(listWidth, m.height-2)
	diffView := m.renderDiffView(diffWidth, m.height-2)

	main := lipgloss.JoinHorizontal(lipgloss.Top, list, " ", diffView)
	return lipgloss.JoinVertical(lipgloss.Left, main, m.renderStatusBar())
}

func (m Model) listWidth() int {
	w := 44
	if w > m.width/3 {
		w = m.width / 3
	}
	if w < 20 {
		w = 20
	}
	return w
}

func verdictLabel(e Entry) string {
	v := e.Verdict
	reason := v.Reason.String()
	if reason == "" {
		reason = "-"
	}
	return fmt.Sprintf("%-6s %-10s %d %s", v.State(), reason, v.Revision.ID, v.Revision.User)
}

func (m Model) renderVerdictList(width, height int) string {
	var b strings.Builder

	for i, e := range m.in.Entries {
		line := truncate(verdictLabel(e), width-4)

		var style lipgloss.Style
		switch {
		case i == m.index:
			style = verdictSelectedStyle
		case e.Verdict.OK():
			style = verdictOKStyle
		default:
			style = verdictNotOKStyle
		}

		b.WriteString(style.Width(width - 4).Render(line))
		if i < len(m.in.Entries)-1 {
			b.WriteByte('\n')
		}
	}
	if len(m.in.Entries) == 0 {
		b.WriteString("No revisions evaluated")
	}

	return verdictListStyle.Width(width).Height(height - 2).Render(b.String())
}

func (m Model) renderDiffView(width, height int) string {
	innerHeight := height - 2
	if len(m.in.Entries) == 0 {
		return diffViewStyle.Width(width).Height(innerHeight).Render("Nothing to show")
	}

	e := m.in.Entries[m.index]
	innerWidth := width - 4

	header := revisionHeaderStyle.Render(fmt.Sprintf("Revision %d by %s  %s",
		e.Verdict.Revision.ID, e.Verdict.Revision.User,
		e.Verdict.Revision.Timestamp.UTC().Format("2006-01-02 15:04")))

	visibleLines := innerHeight - 3
	if visibleLines < 1 {
		visibleLines = 1
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	if e.Verdict.Note != "" {
		b.WriteString(verdictNoteStyle.Render(truncate(e.Verdict.Note, innerWidth)))
		b.WriteByte('\n')
	}

	switch {
	case e.Err != nil:
		b.WriteString(verdictNotOKStyle.Render(truncate("diff unavailable: "+e.Err.Error(), innerWidth)))
	case len(m.lines) == 0:
		b.WriteString(contextLineStyle.Render("No textual change"))
	case m.splitView:
		m.renderSplitDiff(&b, innerWidth, visibleLines)
	default:
		m.renderUnifiedDiff(&b, innerWidth, visibleLines)
	}

	return diffViewStyle.Width(width).Height(innerHeight).Render(b.String())
}

func (m Model) renderUnifiedDiff(b *strings.Builder, width, visibleLines int) {
	end := m.scrollOffset + visibleLines
	if end > len(m.lines) {
		end = len(m.lines)
	}

	for i := m.scrollOffset; i < end; i++ {
		b.WriteString(styleLine(m.lines[i], width))
		if i < end-1 {
			b.WriteByte('\n')
		}
	}
}

func (m Model) renderSplitDiff(b *strings.Builder, width, visibleLines int) {
	halfWidth := (width - 3) / 2

	end := m.scrollOffset + visibleLines
	if end > len(m.lines) {
		end = len(m.lines)
	}

	for i := m.scrollOffset; i < end; i++ {
		left, right := styleLineSplit(m.lines[i], halfWidth)
		b.WriteString(left)
		b.WriteString(" │ ")
		b.WriteString(right)
		if i < end-1 {
			b.WriteByte('\n')
		}
	}
}

func (m Model) renderStatusBar() string {
	left := fmt.Sprintf(" %s  Revision %d/%d", m.in.Title, m.index+1, len(m.in.Entries))
	if len(m.lines) > 0 {
		left += fmt.Sprintf("  Line %d/%d", m.scrollOffset+1, len(m.lines))
	}

	var state string
	switch {
	case m.in.Withheld:
		state = statusWithheldStyle.Render(fmt.Sprintf("withheld %d", m.in.Approved))
	case m.in.Approved != 0:
		state = statusApprovedStyle.Render(fmt.Sprintf("approve %d", m.in.Approved))
	default:
		state = "nothing approved"
	}

	mode := "unified"
	if m.splitView {
		mode = "split"
	}
	right := fmt.Sprintf("%s  %s  ? help ", state, mode)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderHelp() string {
	var b strings.Builder

	b.WriteString(revisionHeaderStyle.Render("pendingbot inspector: Keyboard Shortcuts"))
	b.WriteString("\n\n")

	helpItems := []struct{ key, desc string }{
		{"↑/k", "Scroll up"},
		{"↓/j", "Scroll down"},
		{"n/Tab", "Next revision"},
		{"N/S-Tab", "Previous revision"},
		{"]", "Next hunk"},
		{"[", "Previous hunk"},
		{"v", "Toggle unified/split view"},
		{"?", "Toggle this help"},
		{"q", "Quit"},
	}

	for _, item := range helpItems {
		b.WriteString(fmt.Sprintf("  %s  %s\n",
			helpKeyStyle.Width(12).Render(item.key),
			item.desc,
		))
	}

	if m.in.Comment != "" {
		b.WriteString("\nReview comment: ")
		b.WriteString(m.in.Comment)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpBarStyle.Render("Press ? to close help"))

	return b.String()
}

// Run starts the inspector.
func Run(in *Inspection) error {
	p := tea.NewProgram(New(in), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
