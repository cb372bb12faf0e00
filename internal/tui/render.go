package tui

import (
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/pendingbot/internal/diff"
)

// wikitextLexer is the chroma lexer used for context lines. Unknown names fall back to plain text.
const wikitextLexer = "wikitext"

// renderedLine is a single line of diff output ready for display.
type renderedLine struct {
	OldNum  int // 0 means not applicable (add-only)
	NewNum  int // 0 means not applicable (delete-only)
	Op      gitdiff.LineOp
	Content string // raw text content (no trailing newline)
	IsHunk  bool

	Tokens []diff.Token
}

// renderDiff produces renderedLines for every fragment of a parent/revision diff.
func renderDiff(ds *diff.DiffSet) []renderedLine {
	if ds == nil {
		return nil
	}
	var lines []renderedLine
	for _, f := range ds.Files {
		lines = append(lines, renderFile(f)...)
	}
	return lines
}

func renderFile(f *diff.File) []renderedLine {
	var lines []renderedLine

	var contentLines []string
	for _, frag := range f.Fragments {
		for _, line := range frag.Lines {
			contentLines = append(contentLines, strings.TrimRight(line.Line, "\n\r"))
		}
	}

	highlighted := diff.HighlightLines(wikitextLexer, contentLines)
	hlIdx := 0

	for i, frag := range f.Fragments {
		lines = append(lines, renderedLine{
			IsHunk:  true,
			Content: formatHunkHeader(frag),
		})

		oldLine := int(frag.OldPosition)
		newLine := int(frag.NewPosition)

		for _, line := range frag.Lines {
			rl := renderedLine{
				Op:      line.Op,
				Content: strings.TrimRight(line.Line, "\n\r"),
			}

			if hlIdx < len(highlighted) {
				rl.Tokens = highlighted[hlIdx].Tokens
				hlIdx++
			}

			switch line.Op {
			case gitdiff.OpContext:
				rl.OldNum = oldLine
				rl.NewNum = newLine
				oldLine++
				newLine++
			case gitdiff.OpDelete:
				rl.OldNum = oldLine
				oldLine++
			case gitdiff.OpAdd:
				rl.NewNum = newLine
				newLine++
			}

			lines = append(lines, rl)
		}

		if i < len(f.Fragments)-1 {
			lines = append(lines, renderedLine{})
		}
	}

	return lines
}

func formatHunkHeader(frag *gitdiff.TextFragment) string {
	old := fmt.Sprintf("-%d", frag.OldPosition)
	if frag.OldLines != 1 {
		old += fmt.Sprintf(",%d", frag.OldLines)
	}
	new := fmt.Sprintf("+%d", frag.NewPosition)
	if frag.NewLines != 1 {
		new += fmt.Sprintf(",%d", frag.NewLines)
	}

	header := fmt.Sprintf("@@ %s %s @@", old, new)
	if frag.Comment != "" {
		header += " " + frag.Comment
	}
	return header
}

// renderHighlightedContent renders context line content with syntax colours.
func renderHighlightedContent(rl renderedLine, prefix string) string {
	if len(rl.Tokens) == 0 {
		return prefix + rl.Content
	}

	var b strings.Builder
	b.WriteString(prefix)
	for _, tok := range rl.Tokens {
		if tok.Color != "" {
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(tok.Color)).Render(tok.Text))
		} else {
			b.WriteString(tok.Text)
		}
	}
	return b.String()
}

func lineNumber(n int) string {
	if n > 0 {
		return fmt.Sprintf("%4d", n)
	}
	return "    "
}

// styleLine applies styling to a rendered line for unified view.
func styleLine(rl renderedLine, width int) string {
	if rl.IsHunk {
		return hunkHeaderStyle.Width(width).Render(rl.Content)
	}

	lineNums := lineNumberStyle.Render(lineNumber(rl.OldNum)) + " " + lineNumberStyle.Render(lineNumber(rl.NewNum))

	var prefix string
	var style *lipgloss.Style
	switch rl.Op {
	case gitdiff.OpAdd:
		prefix, style = "+", &addedLineStyle
	case gitdiff.OpDelete:
		prefix, style = "-", &deletedLineStyle
	default:
		prefix = " "
	}

	maxContent := width - 12
	if style != nil {
		return lineNums + " " + style.Render(truncate(prefix+rl.Content, maxContent))
	}
	content := renderHighlightedContent(rl, prefix)
	if maxContent > 0 && lipgloss.Width(content) > maxContent {
		content = truncate(prefix+rl.Content, maxContent)
	}
	return lineNums + " " + content
}

// styleLineSplit renders a line for split (side-by-side) view.
func styleLineSplit(rl renderedLine, halfWidth int) (left, right string) {
	if rl.IsHunk {
		return hunkHeaderStyle.Width(halfWidth).Render(rl.Content), ""
	}

	maxContent := halfWidth - 7
	content := truncate(rl.Content, maxContent)

	switch rl.Op {
	case gitdiff.OpDelete:
		left = lineNumberStyle.Render(lineNumber(rl.OldNum)) + " " + deletedLineStyle.Render("-"+content)
		right = strings.Repeat(" ", halfWidth)
	case gitdiff.OpAdd:
		left = strings.Repeat(" ", halfWidth)
		right = lineNumberStyle.Render(lineNumber(rl.NewNum)) + " " + addedLineStyle.Render("+"+content)
	default:
		left = lineNumberStyle.Render(lineNumber(rl.OldNum)) + " " + contextLineStyle.Render(" "+content)
		right = lineNumberStyle.Render(lineNumber(rl.NewNum)) + " " + contextLineStyle.Render(" "+content)
	}

	return left, right
}

// truncate shortens s to at most max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
