package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/pendingbot/internal/api"
	"github.com/sprite-ai/pendingbot/internal/bot"
	"github.com/sprite-ai/pendingbot/internal/site"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing the approval rules. Evaluations are dry runs;
the server never submits reviews.

Endpoints:
  GET  /health         Health check
  POST /api/classify   Classify a parent/revision/latest text triple
  POST /api/comment    Compose a review comment from approval records
  POST /api/evaluate   Evaluate one page
  GET  /api/ws         WebSocket streaming verdicts while a page is evaluated`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "127.0.0.1", "address to listen on")
	serveCmd.Flags().IntP("port", "p", 6142, "port to listen on")
	serveCmd.Flags().Bool("offline", false, "serve only classify and comment, without contacting the wiki")
	addRuleFlags(serveCmd.Flags())
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	port, _ := cmd.Flags().GetInt("port")
	offline, _ := cmd.Flags().GetBool("offline")
	ctx := cmd.Context()

	var eval api.Evaluator
	if !offline {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg)
		cfg.Simulate = true

		runner := bot.New(site.New(cfg), cfg)
		if err := runner.Prepare(ctx); err != nil {
			return err
		}
		eval = runner
	}

	srv := api.New(fmt.Sprintf("%s:%d", addr, port), eval)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		slog.Info("shutting down API server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
