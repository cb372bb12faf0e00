// Package cli implements the pendingbot command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/pendingbot/internal/config"
	"github.com/sprite-ai/pendingbot/internal/telemetry"
)

// globalFlags holds the persistent flags shared by every command.
var globalFlags struct {
	configPath string
	lang       string
	family     string
	simulate   bool
	verbose    bool
	traceFile  string
}

// shutdownTracing flushes the trace exporter installed by --trace-file.
var shutdownTracing func(context.Context) error

var rootCmd = &cobra.Command{
	Use:   "pendingbot",
	Short: "Automatically review pending changes on a MediaWiki site",
	Long: `pendingbot walks pages with pending changes, runs each pending revision through
a cascade of approval rules and reviews the longest approvable run of revisions.

The password for credentials.username is read from the ` + config.PasswordEnv + `
environment variable.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&globalFlags.configPath, "config", "c", "", "configuration file path or URL")
	pf.StringVar(&globalFlags.lang, "lang", "", "site language code (overrides site.lang)")
	pf.StringVar(&globalFlags.family, "family", "", "site family (overrides site.family)")
	pf.BoolVar(&globalFlags.simulate, "simulate", false, "evaluate and log without submitting reviews")
	pf.BoolVarP(&globalFlags.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&globalFlags.traceFile, "trace-file", "", "write OpenTelemetry spans as JSON to this file (- for stdout)")

	rootCmd.AddCommand(runCmd, checkCmd, explainCmd, inspectCmd, summaryCmd, serveCmd, versionCmd)
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if shutdownTracing != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := shutdownTracing(sctx); serr != nil {
			slog.Warn("flushing traces failed", "error", serr)
		}
	}
	return err
}

func setup(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if globalFlags.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	if globalFlags.traceFile != "" && shutdownTracing == nil {
		shutdown, err := telemetry.Init("pendingbot", version, globalFlags.traceFile)
		if err != nil {
			return err
		}
		shutdownTracing = shutdown
	}
	return nil
}

// loadConfig reads --config and applies the persistent overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Context(), globalFlags.configPath)
	if err != nil {
		return nil, err
	}
	for _, err := range cfg.Rejected {
		slog.Error("ignoring configured threshold", "config", globalFlags.configPath, "error", err)
	}

	flags := cmd.Flags()
	if flags.Changed("lang") {
		cfg.Site.Lang = globalFlags.lang
	}
	if flags.Changed("family") {
		cfg.Site.Family = globalFlags.family
	}
	if globalFlags.simulate {
		cfg.Simulate = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var errPagesFailed = errors.New("some pages could not be evaluated")

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
