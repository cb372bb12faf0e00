package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sprite-ai/pendingbot/internal/bot"
	"github.com/sprite-ai/pendingbot/internal/config"
	"github.com/sprite-ai/pendingbot/internal/journal"
	"github.com/sprite-ai/pendingbot/internal/site"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Review pending changes",
	Long: `Evaluate pages one at a time and review the longest run of approvable pending
revisions on each.

Examples:
  pendingbot run --pendingchanges --simulate
  pendingbot run --unreviewedpages --limit 50 --journal run.jsonl
  pendingbot run --page Kissa --page Koira --ores goodfaith_true_min=0.9`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.Bool("pendingchanges", false, "visit pages listed in Special:PendingChanges")
	f.Bool("unreviewedpages", false, "visit pages that were never reviewed")
	f.StringArray("page", nil, "visit this page (repeatable)")
	addRuleFlags(f)
	f.String("journal", "", "append one JSON line per visited page to this file")
	f.Int("limit", 0, "stop after this many pages (0 = no limit)")

	runCmd.MarkFlagsMutuallyExclusive("pendingchanges", "unreviewedpages", "page")
	runCmd.MarkFlagsOneRequired("pendingchanges", "unreviewedpages", "page")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	s := site.New(cfg)
	source, err := selectSource(cmd, s)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	limit, _ := cmd.Flags().GetInt("limit")
	opts := []bot.Option{
		bot.WithOutput(out),
		bot.WithObserver(verdictPrinter(out)),
		bot.WithLimit(limit),
	}

	if path, _ := cmd.Flags().GetString("journal"); path != "" {
		jw, err := journal.Create(path)
		if err != nil {
			return err
		}
		defer jw.Close()
		opts = append(opts, bot.WithJournal(jw))
	}

	runner := bot.New(s, cfg, opts...)
	slog.Info("starting run", "run", runner.RunID(), "site", cfg.APIEndpoint(), "simulate", cfg.Simulate)

	stats, err := runner.Run(cmd.Context(), source)
	fmt.Fprintln(out)
	fmt.Fprintln(out, headingStyle.Render("Done: "+stats.String()))
	return err
}

func addRuleFlags(f *pflag.FlagSet) {
	f.Bool("noores", false, "disable the ML scoring rule")
	f.Bool("noformerbots", false, "disable the former-bot rule")
	f.Int("daylimit", 0, "withhold approvals whose newest approved revision is older than this many days (0 = no limit)")
	f.StringArray("ores", nil, "scoring threshold override MODEL_(true|false)_(min|max)=VALUE (repeatable)")
}

// applyRunFlags folds the rule switches and threshold overrides into cfg. Rejected overrides
// are reported and leave the previous value in place.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if noores, _ := f.GetBool("noores"); noores {
		cfg.Scoring.Enabled = false
	}
	if noformer, _ := f.GetBool("noformerbots"); noformer {
		cfg.FormerBots = false
	}
	if f.Changed("daylimit") {
		cfg.DayLimit, _ = f.GetInt("daylimit")
	}

	raw, _ := f.GetStringArray("ores")
	overrides, errs := parseOverrides(raw)
	errs = append(errs, cfg.ApplyThresholds(overrides)...)
	for _, err := range errs {
		slog.Error("ignoring threshold override", "error", err)
	}
}

// parseOverrides splits KEY=VALUE pairs. Pairs without "=" are returned as errors.
func parseOverrides(pairs []string) (map[string]string, []error) {
	overrides := make(map[string]string, len(pairs))
	var errs []error
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			errs = append(errs, fmt.Errorf("malformed override %q, expected KEY=VALUE", p))
			continue
		}
		overrides[strings.TrimSpace(k)] = v
	}
	return overrides, errs
}

// selectSource picks the page list named by the source flags.
func selectSource(cmd *cobra.Command, s *site.Site) (bot.Source, error) {
	f := cmd.Flags()
	pending, _ := f.GetBool("pendingchanges")
	unreviewed, _ := f.GetBool("unreviewedpages")
	titles, _ := f.GetStringArray("page")

	switch {
	case pending:
		return s.PendingChanges, nil
	case unreviewed:
		return s.UnreviewedPages, nil
	case len(titles) > 0:
		return bot.Titles(titles...), nil
	default:
		return nil, errors.New("no pages selected")
	}
}
