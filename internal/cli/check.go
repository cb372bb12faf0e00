package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/pendingbot/internal/bot"
	"github.com/sprite-ai/pendingbot/internal/journal"
	"github.com/sprite-ai/pendingbot/internal/model"
	"github.com/sprite-ai/pendingbot/internal/site"
)

var checkCmd = &cobra.Command{
	Use:   "check [title...]",
	Short: "Evaluate pages and report without reviewing anything",
	Long: `Run the approval rules on the given pages, or on the pending changes list when no
titles are given, and print a report. Nothing is submitted to the wiki.

Exit codes:
  0 - every page was evaluated
  1 - one or more pages could not be evaluated`,
	RunE: runCheck,
}

func init() {
	f := checkCmd.Flags()
	f.StringP("format", "f", "text", "output format: text, json, markdown")
	f.Int("limit", 20, "pages to take from the pending changes list when no titles are given")
	addRuleFlags(f)
}

// checkedPage is one row of a check report.
type checkedPage struct {
	*bot.PageResult
	Title  string `json:"title"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "text", "json", "markdown":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	cfg.Simulate = true

	s := site.New(cfg)
	runner := bot.New(s, cfg)
	ctx := cmd.Context()
	if err := runner.Prepare(ctx); err != nil {
		return err
	}

	titles := args
	if len(titles) == 0 {
		limit, _ := cmd.Flags().GetInt("limit")
		if titles, err = firstTitles(ctx, s.PendingChanges, limit); err != nil {
			return err
		}
	}

	pages := make([]checkedPage, 0, len(titles))
	failed := false
	for _, title := range titles {
		res, err := runner.Evaluate(ctx, title)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed = true
			pages = append(pages, checkedPage{Title: title, Result: journal.ResultFailed.String(), Error: err.Error()})
			continue
		}
		pages = append(pages, checkedPage{PageResult: res, Title: res.Title, Result: pageResult(res).String()})
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		err = outputJSON(out, pages)
	case "markdown":
		outputMarkdown(out, pages)
	default:
		outputText(out, pages)
	}
	if err != nil {
		return err
	}
	if failed {
		return errPagesFailed
	}
	return nil
}

// firstTitles collects up to limit titles from source.
func firstTitles(ctx context.Context, source bot.Source, limit int) ([]string, error) {
	var titles []string
	stop := errors.New("enough titles")
	err := source(ctx, func(title string) error {
		titles = append(titles, title)
		if limit > 0 && len(titles) >= limit {
			return stop
		}
		return nil
	})
	if err != nil && !errors.Is(err, stop) {
		return nil, err
	}
	return titles, nil
}

func outputText(w io.Writer, pages []checkedPage) {
	if len(pages) == 0 {
		fmt.Fprintln(w, "No pages to check.")
		return
	}
	for _, p := range pages {
		fmt.Fprintln(w, headingStyle.Render(fmt.Sprintf(">>> %s <<<", p.Title)))
		switch {
		case p.Error != "":
			fmt.Fprintf(w, "  failed: %s\n", p.Error)
		case p.Skip != "":
			fmt.Fprintf(w, "  skipped: %s\n", p.Skip)
		default:
			for _, v := range p.Outcome.Verdicts {
				printVerdict(w, v)
			}
			switch {
			case p.Outcome.Withheld:
				fmt.Fprintf(w, "  would withhold revision %d: approval too old\n", p.Outcome.LatestApproved)
			case p.Outcome.Approved():
				fmt.Fprintf(w, "  would review revision %d with comment: %q\n", p.Outcome.LatestApproved, p.Comment)
			default:
				fmt.Fprintln(w, "  nothing to review")
			}
		}
		fmt.Fprintln(w)
	}

	counts := make(map[string]int)
	for _, p := range pages {
		counts[p.Result]++
	}
	var parts []string
	for _, r := range []journal.Result{journal.ResultApproved, journal.ResultWithheld, journal.ResultUnapproved, journal.ResultSkipped, journal.ResultFailed} {
		if n := counts[r.String()]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, r))
		}
	}
	fmt.Fprintf(w, "%s checked: %s\n", plural(len(pages), "page"), strings.Join(parts, ", "))
}

func outputJSON(w io.Writer, pages []checkedPage) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Pages []checkedPage `json:"pages"`
	}{pages})
}

func outputMarkdown(w io.Writer, pages []checkedPage) {
	fmt.Fprintf(w, "## Pending changes report\n\n")
	if len(pages) == 0 {
		fmt.Fprintln(w, "No pages to check.")
		return
	}

	fmt.Fprintln(w, "| Page | Result | Revision | Rules | Comment |")
	fmt.Fprintln(w, "|------|--------|----------|-------|---------|")
	for _, p := range pages {
		var rev, rules, note string
		switch {
		case p.Error != "":
			note = p.Error
		case p.Skip != "":
			note = p.Skip
		default:
			if p.Outcome.LatestApproved != 0 {
				rev = fmt.Sprint(p.Outcome.LatestApproved)
			}
			rules = ruleList(p.Outcome.Records)
			note = p.Comment
		}
		fmt.Fprintf(w, "| %s | %s | %s | %s | %s |\n", p.Title, p.Result, rev, rules, markdownEscape(note))
	}
}

func ruleList(records []model.ApprovalRecord) string {
	seen := make(map[model.Reason]bool)
	var names []string
	for _, r := range records {
		if !seen[r.Reason] {
			seen[r.Reason] = true
			names = append(names, r.Reason.String())
		}
	}
	return strings.Join(names, ", ")
}

func markdownEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
