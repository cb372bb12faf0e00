package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/pendingbot/internal/bot"
	"github.com/sprite-ai/pendingbot/internal/site"
	"github.com/sprite-ai/pendingbot/internal/tui"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <title>",
	Short: "Browse a page's evaluation in an interactive viewer",
	Long: `Evaluate a page without reviewing it and open a terminal viewer listing each
pending revision's verdict next to its diff against the parent revision.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	addRuleFlags(inspectCmd.Flags())
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	s := site.New(cfg)
	runner := bot.New(s, cfg)
	ctx := cmd.Context()
	if err := runner.Prepare(ctx); err != nil {
		return err
	}

	res, err := runner.Evaluate(ctx, args[0])
	if err != nil {
		return err
	}
	if res.Skip != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Nothing to inspect on %s: %s\n", res.Title, res.Skip)
		return nil
	}

	in, err := tui.Load(ctx, s, res)
	if err != nil {
		return err
	}
	return tui.Run(in)
}
