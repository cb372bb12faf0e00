package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/pendingbot/internal/bot"
	"github.com/sprite-ai/pendingbot/internal/diff"
	"github.com/sprite-ai/pendingbot/internal/engine"
	"github.com/sprite-ai/pendingbot/internal/journal"
	"github.com/sprite-ai/pendingbot/internal/model"
)

// Verdict lines keep their tabs so they line up with plain logs.
var (
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#50fa7b")).
		TabWidth(lipgloss.NoTabConversion)

	notOKStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff5555")).
			TabWidth(lipgloss.NoTabConversion)

	noteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffb86c"))

	headingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8be9fd")).
			Bold(true)
)

// verdictPrinter writes one coloured line per verdict.
func verdictPrinter(w io.Writer) engine.Observer {
	return engine.ObserverFunc(func(_ string, v model.Verdict) {
		printVerdict(w, v)
	})
}

func printVerdict(w io.Writer, v model.Verdict) {
	if v.OK() {
		fmt.Fprintln(w, okStyle.Render(v.String()))
		return
	}
	fmt.Fprintln(w, notOKStyle.Render(v.String()))
	if v.Note != "" {
		fmt.Fprintln(w, noteStyle.Render("  "+v.Note))
	}
}

// pageResult classifies an evaluation the way the journal does.
func pageResult(res *bot.PageResult) journal.Result {
	switch {
	case res.Skip != "":
		return journal.ResultSkipped
	case res.Outcome.Withheld:
		return journal.ResultWithheld
	case res.Outcome.Approved():
		return journal.ResultApproved
	default:
		return journal.ResultUnapproved
	}
}

// printHighlighted writes a unified diff with chroma token colours.
func printHighlighted(w io.Writer, raw string) {
	for _, hl := range diff.HighlightUnified(raw) {
		for _, tok := range hl.Tokens {
			if tok.Color == "" {
				fmt.Fprint(w, tok.Text)
				continue
			}
			fmt.Fprint(w, lipgloss.NewStyle().Foreground(lipgloss.Color(tok.Color)).Render(tok.Text))
		}
		fmt.Fprintln(w)
	}
}
