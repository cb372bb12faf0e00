package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/pendingbot/internal/journal"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarise a run journal",
	Long: `Read a journal written by "run --journal" and print page outcomes per result and
approved revisions per rule.`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().StringP("journal", "j", "", "path to the journal file")
	summaryCmd.Flags().StringP("format", "f", "text", "output format: text, json")
	_ = summaryCmd.MarkFlagRequired("journal")
}

func runSummary(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("journal")
	entries, err := journal.ReadFile(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Journal is empty.")
		return nil
	}

	s := journal.Summarize(entries)
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "text":
		fmt.Fprint(out, s.String())
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
