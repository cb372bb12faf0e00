package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/pendingbot/internal/diff"
	"github.com/sprite-ai/pendingbot/internal/engine"
	"github.com/sprite-ai/pendingbot/internal/site"
)

var explainCmd = &cobra.Command{
	Use:   "explain <title> <revid>",
	Short: "Show how the content rule classifies one revision",
	Long: `Fetch a revision, its parent and the page's current text, then print the
classifier result, the word sets it was based on and the highlighted diff.`,
	Args: cobra.ExactArgs(2),
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().IntP("context", "C", 3, "lines of context around changes")
}

func runExplain(cmd *cobra.Command, args []string) error {
	title := args[0]
	revID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || revID <= 0 {
		return fmt.Errorf("invalid revision id %q", args[1])
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s := site.New(cfg)
	ctx := cmd.Context()

	rev, err := s.Revision(ctx, revID)
	if err != nil {
		return err
	}
	text, err := s.RevisionText(ctx, rev.ID)
	if err != nil {
		return err
	}
	parent := ""
	if rev.ParentID != 0 {
		if parent, err = s.RevisionText(ctx, rev.ParentID); err != nil {
			return err
		}
	}
	latest, err := s.LatestText(ctx, title)
	if err != nil {
		return err
	}

	contextLines, _ := cmd.Flags().GetInt("context")
	raw, err := diff.Unified(title, parent, text, contextLines)
	if err != nil {
		return err
	}

	result := diff.Classify(parent, text, latest)
	reason := engine.ContentReason(result).String()
	if reason == "" {
		reason = "none (not approved by content)"
	}
	words := diff.ContentWords(parent, text, latest)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headingStyle.Render(fmt.Sprintf("Revision %d of %s by %s", rev.ID, title, rev.User)))
	fmt.Fprintf(out, "Parent:     %d\n", rev.ParentID)
	fmt.Fprintf(out, "Classifier: %s\n", result)
	fmt.Fprintf(out, "Reason:     %s\n", reason)
	fmt.Fprintf(out, "Added:      %s\n", wordList(words.Added))
	fmt.Fprintf(out, "Removed:    %s\n", wordList(words.Removed))
	fmt.Fprintf(out, "Surviving:  %s\n\n", wordList(words.Survived))

	if raw == "" {
		fmt.Fprintln(out, "No textual change.")
		return nil
	}
	printHighlighted(out, raw)
	return nil
}

func wordList(words []string) string {
	const maxWords = 12
	if len(words) == 0 {
		return "-"
	}
	if len(words) > maxWords {
		return strings.Join(words[:maxWords], " ") + fmt.Sprintf(" ... (%d more)", len(words)-maxWords)
	}
	return strings.Join(words, " ")
}
