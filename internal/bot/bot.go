// Package bot drives a review run: it walks a list of pages, evaluates each one and submits
// the resulting approvals.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sprite-ai/pendingbot/internal/comment"
	"github.com/sprite-ai/pendingbot/internal/config"
	"github.com/sprite-ai/pendingbot/internal/engine"
	"github.com/sprite-ai/pendingbot/internal/journal"
	"github.com/sprite-ai/pendingbot/internal/model"
)

const tracerName = "github.com/sprite-ai/pendingbot/internal/bot"

// Wiki is everything a run needs from the remote side.
type Wiki interface {
	engine.Signals
	engine.Texts

	PageState(ctx context.Context, title string) (model.PendingState, error)
	Revisions(ctx context.Context, title string, since *time.Time) ([]model.Revision, error)
	BotUsers(ctx context.Context) ([]string, error)
	PrivilegedUsers(ctx context.Context) ([]string, error)
	FormerBotUsers(ctx context.Context) ([]string, error)
	Models(ctx context.Context) ([]string, error)
	Login(ctx context.Context) error
	Review(ctx context.Context, revID int64, comment string) error
}

// Source calls fn for each page title to visit. An error from fn stops the source.
type Source func(ctx context.Context, fn func(title string) error) error

// Titles is a Source over a fixed list.
func Titles(titles ...string) Source {
	return func(ctx context.Context, fn func(string) error) error {
		for _, t := range titles {
			if err := fn(t); err != nil {
				return err
			}
		}
		return nil
	}
}

// Skip reasons.
const (
	SkipMissing     = "page does not exist"
	SkipNamespace   = "not an article"
	SkipReviewed    = "no pending changes"
	SkipNoRevisions = "no pending revisions"
)

// PageResult is the evaluation of one page.
type PageResult struct {
	Title     string             `json:"title"`
	State     model.PendingState `json:"state"`
	Skip      string             `json:"skip,omitempty"`
	Outcome   *engine.Outcome    `json:"outcome,omitempty"`
	Comment   string             `json:"comment,omitempty"`
	Submitted bool               `json:"submitted,omitempty"`
}

// Stats counts what a run did.
type Stats struct {
	Visited  int `json:"visited"`
	Skipped  int `json:"skipped"`
	Reviewed int `json:"reviewed"`
	Withheld int `json:"withheld"`
	Failed   int `json:"failed"`
}

func (s Stats) String() string {
	return fmt.Sprintf("%d visited, %d reviewed, %d withheld, %d skipped, %d failed",
		s.Visited, s.Reviewed, s.Withheld, s.Skipped, s.Failed)
}

var errLimit = errors.New("page limit reached")

// Runner evaluates and reviews pages.
type Runner struct {
	wiki      Wiki
	cfg       *config.Config
	engine    *engine.Engine
	observers []engine.Observer
	out       io.Writer
	journal   *journal.Writer
	limit     int

	runID    string
	loggedIn bool
	log      *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutput sets where review results are printed.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithJournal records every visited page.
func WithJournal(j *journal.Writer) Option {
	return func(r *Runner) { r.journal = j }
}

// WithObserver receives every verdict.
func WithObserver(o engine.Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// WithLimit stops a run after n visited pages. Zero means no limit.
func WithLimit(n int) Option {
	return func(r *Runner) { r.limit = n }
}

// New creates a runner. Prepare must be called before evaluating pages.
func New(wiki Wiki, cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		wiki:   wiki,
		cfg:    cfg,
		out:    io.Discard,
		runID:  uuid.NewString(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = slog.Default().With("component", "bot", "run", r.runID)
	return r
}

// RunID identifies this run in logs and the journal.
func (r *Runner) RunID() string { return r.runID }

// Engine returns the engine built by Prepare.
func (r *Runner) Engine() *engine.Engine { return r.engine }

// Prepare loads the per-run user lists and scoring model list and builds the engine. A user
// list that cannot be loaded is left empty; a model list that cannot be loaded disables ML
// scoring for the run.
func (r *Runner) Prepare(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "bot.Prepare")
	defer span.End()

	roster := engine.Roster{
		Bots:       r.users(ctx, "bot", r.wiki.BotUsers),
		Privileged: r.users(ctx, "autoreview", r.wiki.PrivilegedUsers),
		FormerBots: engine.NewUserSet(),
	}
	if r.cfg.FormerBots {
		roster.FormerBots = r.users(ctx, "formerbot", r.wiki.FormerBotUsers)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := engine.Options{
		FormerBots: r.cfg.FormerBots,
		DayLimit:   r.cfg.DayLimit,
		BatchSize:  r.cfg.Scoring.BatchSize,
		RetryDelay: r.cfg.Scoring.RetryDelay,
	}
	if th, ok := r.cfg.ScoreThresholds(config.GoodfaithModel); ok {
		models, err := r.wiki.Models(ctx)
		switch {
		case err != nil:
			r.log.Error("loading scoring models failed, ML scoring disabled for this run", "error", err)
		case !slices.Contains(models, config.GoodfaithModel):
			r.log.Warn("site has no goodfaith model, ML scoring disabled", "models", models)
		default:
			opts.Goodfaith = &th
		}
	}

	r.engine = engine.New(r.wiki, r.wiki, roster, opts, r.observers...)
	span.SetAttributes(
		attribute.Int("roster.bots", len(roster.Bots)),
		attribute.Int("roster.privileged", len(roster.Privileged)),
		attribute.Int("roster.formerbots", len(roster.FormerBots)),
		attribute.Bool("scoring", opts.Goodfaith != nil),
	)
	r.log.Info("run prepared",
		"bots", len(roster.Bots), "privileged", len(roster.Privileged), "formerbots", len(roster.FormerBots),
		"scoring", opts.Goodfaith != nil, "day_limit", opts.DayLimit, "simulate", r.cfg.Simulate)
	return nil
}

func (r *Runner) users(ctx context.Context, name string, load func(context.Context) ([]string, error)) engine.UserSet {
	names, err := load(ctx)
	if err != nil {
		r.log.Error("loading user list failed, rule disabled", "list", name, "error", err)
		return engine.NewUserSet()
	}
	return engine.NewUserSet(names...)
}

// Evaluate reads a page and runs the engine on its pending revisions without submitting
// anything. Skipped pages have Skip set and no Outcome.
func (r *Runner) Evaluate(ctx context.Context, title string, observers ...engine.Observer) (*PageResult, error) {
	if r.engine == nil {
		return nil, errors.New("runner not prepared")
	}
	state, err := r.wiki.PageState(ctx, title)
	if err != nil {
		return nil, err
	}
	res := &PageResult{Title: title, State: state}
	if state.Title != "" {
		res.Title = state.Title
	}

	switch {
	case state.Missing:
		res.Skip = SkipMissing
		return res, nil
	case state.Namespace != 0:
		res.Skip = SkipNamespace
		return res, nil
	case !state.NeedsReview():
		res.Skip = SkipReviewed
		return res, nil
	}

	revs, err := r.wiki.Revisions(ctx, res.Title, state.PendingSince)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		res.Skip = SkipNoRevisions
		return res, nil
	}

	out, err := r.engine.Evaluate(ctx, engine.Page{State: state, Revisions: revs}, observers...)
	if err != nil {
		return nil, err
	}
	res.Outcome = out
	res.Comment = comment.Compose(out.Records, out.Scores)
	return res, nil
}

// Run visits every page from source one at a time. Failures on one page are logged and
// counted; only cancellation of ctx or a failing source ends the run early.
func (r *Runner) Run(ctx context.Context, source Source) (Stats, error) {
	var stats Stats
	if r.engine == nil {
		if err := r.Prepare(ctx); err != nil {
			return stats, err
		}
	}

	err := source(ctx, func(title string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.limit > 0 && stats.Visited >= r.limit {
			return errLimit
		}
		stats.Visited++
		r.visit(ctx, title, &stats)
		return ctx.Err()
	})
	if errors.Is(err, errLimit) {
		err = nil
	}
	r.log.Info("run finished", "stats", stats.String())
	return stats, err
}

func (r *Runner) visit(ctx context.Context, title string, stats *Stats) {
	ctx, span := r.tracer.Start(ctx, "bot.visit", trace.WithAttributes(attribute.String("page.title", title)))
	defer span.End()

	fmt.Fprintf(r.out, "\n>>> %s <<<\n", title)
	entry := journal.Entry{RunID: r.runID, Time: time.Now().UTC(), Title: title, Simulated: r.cfg.Simulate}

	res, err := r.Evaluate(ctx, title)
	switch {
	case err != nil:
		stats.Failed++
		entry.Result = journal.ResultFailed
		entry.Error = err.Error()
		r.log.Error("page failed", "page", title, "error", err)
	case res.Skip != "":
		stats.Skipped++
		entry.Result = journal.ResultSkipped
		entry.Skip = res.Skip
		r.log.Debug("page skipped", "page", title, "reason", res.Skip)
	default:
		out := res.Outcome
		entry.Verdicts = out.Verdicts
		entry.LatestApproved = out.LatestApproved
		entry.Comment = res.Comment
		switch {
		case out.Withheld:
			stats.Withheld++
			entry.Result = journal.ResultWithheld
			fmt.Fprintf(r.out, "Skipped revision %d: older than %d days\n", out.LatestApproved, r.cfg.DayLimit)
		case out.Approved():
			if err := r.submit(ctx, out.LatestApproved, res.Comment); err != nil {
				stats.Failed++
				entry.Result = journal.ResultFailed
				entry.Error = err.Error()
				r.log.Error("review failed", "page", title, "revision", out.LatestApproved, "error", err)
				break
			}
			res.Submitted = true
			stats.Reviewed++
			entry.Result = journal.ResultApproved
			verb := "Reviewed"
			if r.cfg.Simulate {
				verb = "Reviewed (simulated)"
			}
			fmt.Fprintf(r.out, "%s revision: %d with comment: %q\n", verb, out.LatestApproved, res.Comment)
		default:
			entry.Result = journal.ResultUnapproved
		}
	}

	if r.journal != nil {
		if err := r.journal.Append(entry); err != nil {
			r.log.Warn("journal write failed", "error", err)
		}
	}
}

// submit logs in on first use and reviews revID. In simulate mode nothing is sent.
func (r *Runner) submit(ctx context.Context, revID int64, summary string) error {
	if r.cfg.Simulate {
		return nil
	}
	if !r.loggedIn {
		if err := r.wiki.Login(ctx); err != nil {
			return fmt.Errorf("login: %w", err)
		}
		r.loggedIn = true
	}
	return r.wiki.Review(ctx, revID, summary)
}
