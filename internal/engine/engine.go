// Package engine decides which pending revisions of a page can be approved automatically.
//
// Revisions are evaluated oldest first against an ordered list of rules; the first rule that
// matches approves the revision. Evaluation stops at the first revision no rule approves, so
// the approved revisions always form a contiguous prefix of the pending list.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sprite-ai/pendingbot/internal/config"
	"github.com/sprite-ai/pendingbot/internal/model"
)

const tracerName = "github.com/sprite-ai/pendingbot/internal/engine"

// DefaultBatchSize is the number of revisions scored in one ML request.
const DefaultBatchSize = 40

// DefaultRetryDelay is the pause before the single ML retry.
const DefaultRetryDelay = 10 * time.Second

// ErrUnreadable marks a revision whose text (or its parent's, or the page's current text)
// could not be read. Such a revision is never approved and evaluation stops there.
var ErrUnreadable = errors.New("revision text unreadable")

// Revert flag kinds passed to Signals.RevertFlag.
const (
	FlagReverted = "reverted"
	FlagRevert   = "revert"
)

// Signals provides the non-content evidence the rules consult.
type Signals interface {
	// PatrolledRevisions lists revision ids from the page's patrol log, bounded by end.
	PatrolledRevisions(ctx context.Context, title string, end *time.Time) ([]int64, error)
	// RevertFlag reports whether the revert service flags revID with kind.
	RevertFlag(ctx context.Context, revID int64, kind string) (bool, error)
	// Scores returns ML probability pairs for revIDs.
	Scores(ctx context.Context, revIDs []int64, models ...string) (model.ScoreBatch, error)
}

// Texts provides revision content.
type Texts interface {
	RevisionText(ctx context.Context, revID int64) (string, error)
	LatestText(ctx context.Context, title string) (string, error)
}

// UserSet is a set of user names.
type UserSet map[string]struct{}

// NewUserSet builds a set from names.
func NewUserSet(names ...string) UserSet {
	s := make(UserSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s UserSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Roster holds the user sets loaded once per run.
type Roster struct {
	Bots       UserSet
	Privileged UserSet // autoreview or autopatrol right
	FormerBots UserSet
}

// Options are the run-wide policy switches.
type Options struct {
	FormerBots bool
	// Goodfaith enables ML scoring with these thresholds; nil disables it.
	Goodfaith  *config.Thresholds
	DayLimit   int
	BatchSize  int
	RetryDelay time.Duration
}

// Observer receives each verdict as it is reached.
type Observer interface {
	Verdict(title string, v model.Verdict)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(title string, v model.Verdict)

// Verdict calls f.
func (f ObserverFunc) Verdict(title string, v model.Verdict) { f(title, v) }

// Page is the input of one evaluation.
type Page struct {
	State     model.PendingState
	Revisions []model.Revision // pending revisions, oldest first
}

// Outcome is the result of evaluating one page.
type Outcome struct {
	Title            string                 `json:"title"`
	LatestApproved   int64                  `json:"latest_approved,omitempty"`
	LatestApprovedAt time.Time              `json:"latest_approved_at,omitempty"`
	Records          []model.ApprovalRecord `json:"records"`
	Verdicts         []model.Verdict        `json:"verdicts"`
	Stop             *model.Verdict         `json:"stop,omitempty"` // first revision left unapproved
	Withheld         bool                   `json:"withheld,omitempty"`
	Scores           model.ScoreBatch       `json:"-"`
}

// Approved reports whether the outcome should be submitted.
func (o *Outcome) Approved() bool {
	return o.LatestApproved != 0 && !o.Withheld
}

// Engine evaluates pages. It is safe for concurrent use when its ports are.
type Engine struct {
	signals   Signals
	texts     Texts
	roster    Roster
	opts      Options
	observers []Observer

	now    func() time.Time
	log    *slog.Logger
	tracer trace.Tracer
}

// New creates an engine.
func New(signals Signals, texts Texts, roster Roster, opts Options, observers ...Observer) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Engine{
		signals:   signals,
		texts:     texts,
		roster:    roster,
		opts:      opts,
		observers: observers,
		now:       time.Now,
		log:       slog.Default().With("component", "engine"),
		tracer:    otel.Tracer(tracerName),
	}
}

// Options returns the engine's policy switches.
func (e *Engine) Options() Options { return e.opts }

// Evaluate runs the rule cascade over the page's pending revisions. Extra observers receive
// this evaluation's verdicts only. A non-nil error means the page was abandoned, e.g.
// because ctx was cancelled.
func (e *Engine) Evaluate(ctx context.Context, page Page, observers ...Observer) (_ *Outcome, err error) {
	title := page.State.Title
	ctx, span := e.tracer.Start(ctx, "engine.Evaluate", trace.WithAttributes(
		attribute.String("page.title", title),
		attribute.Int("page.pending", len(page.Revisions)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	v := newVisit(ctx, e, page)
	out := &Outcome{Title: title}

	for _, rev := range page.Revisions {
		verdict, err := v.judge(rev)
		if err != nil {
			return nil, err
		}
		out.Verdicts = append(out.Verdicts, verdict)
		e.notify(title, verdict, observers)
		span.AddEvent("verdict", trace.WithAttributes(
			attribute.Int64("revision", rev.ID),
			attribute.String("reason", verdict.Reason.String()),
		))

		if !verdict.OK() {
			stop := verdict
			out.Stop = &stop
			break
		}
		out.Records = append(out.Records, model.ApprovalRecord{Revision: rev, Reason: verdict.Reason})
		out.LatestApproved = rev.ID
		out.LatestApprovedAt = rev.Timestamp
	}
	out.Scores = v.scores

	if out.LatestApproved != 0 && e.tooOld(page, out) {
		out.Withheld = true
		e.log.Info("approval withheld by day limit",
			"page", title, "revision", out.LatestApproved, "day_limit", e.opts.DayLimit)
	}
	span.SetAttributes(
		attribute.Int64("outcome.latest_approved", out.LatestApproved),
		attribute.Bool("outcome.withheld", out.Withheld),
	)
	return out, nil
}

func (e *Engine) notify(title string, v model.Verdict, extra []Observer) {
	e.log.Debug("verdict", "page", title, "revision", v.Revision.ID, "ok", v.OK(), "reason", v.Reason.String(), "note", v.Note)
	for _, o := range e.observers {
		o.Verdict(title, v)
	}
	for _, o := range extra {
		o.Verdict(title, v)
	}
}

// tooOld applies the day limit: an approval that stops short of the page's latest revision
// is withheld once it is older than the limit.
func (e *Engine) tooOld(page Page, out *Outcome) bool {
	if e.opts.DayLimit <= 0 {
		return false
	}
	latest := page.State.LatestRevID
	if latest == 0 && len(page.Revisions) > 0 {
		latest = page.Revisions[len(page.Revisions)-1].ID
	}
	if out.LatestApproved == latest {
		return false
	}
	deadline := out.LatestApprovedAt.AddDate(0, 0, e.opts.DayLimit)
	return e.now().After(deadline)
}

func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("evaluation aborted: %w", ctxErr)
	}
	return err
}
