package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sprite-ai/pendingbot/internal/config"
	"github.com/sprite-ai/pendingbot/internal/diff"
	"github.com/sprite-ai/pendingbot/internal/model"
)

// A rule returns the reason it approves rev for, or ReasonNone.
type rule struct {
	name  string
	match func(v *visit, rev model.Revision) (model.Reason, error)
}

// rules is the approval cascade in priority order.
var rules = []rule{
	{"bot", matchBot},
	{"autoreview", matchAutoreview},
	{"formerbot", matchFormerBot},
	{"patrolled", matchPatrolled},
	{"reverted", matchRevertFlag(FlagReverted, model.ReasonReverted)},
	{"revert", matchRevertFlag(FlagRevert, model.ReasonRevert)},
	{"ores", matchScore},
	{"content", matchContent},
}

// RuleNames lists the cascade's rules in evaluation order.
func RuleNames() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}

// visit holds the lazily filled caches of one page evaluation.
type visit struct {
	ctx  context.Context
	e    *Engine
	page Page

	patrolled    map[int64]bool
	patrolledErr error
	patrolLoaded bool

	scores      model.ScoreBatch
	scoresErr   error
	scoreLoaded bool

	texts  map[int64]string
	latest *string
}

func newVisit(ctx context.Context, e *Engine, page Page) *visit {
	return &visit{ctx: ctx, e: e, page: page, texts: map[int64]string{}}
}

// judge runs the cascade on one revision.
func (v *visit) judge(rev model.Revision) (model.Verdict, error) {
	for _, r := range rules {
		reason, err := r.match(v, rev)
		switch {
		case err == nil:
		case v.ctx.Err() != nil:
			return model.Verdict{}, contextError(v.ctx, err)
		case errors.Is(err, ErrUnreadable):
			v.e.log.Warn("revision unreadable, not approving", "page", v.page.State.Title, "revision", rev.ID, "error", err)
			return model.Verdict{Revision: rev, Note: err.Error()}, nil
		default:
			v.e.log.Warn("rule unavailable", "rule", r.name, "page", v.page.State.Title, "revision", rev.ID, "error", err)
			continue
		}
		if reason != model.ReasonNone {
			return model.Verdict{Revision: rev, Reason: reason}, nil
		}
	}
	return model.Verdict{Revision: rev, Note: "no rule matched"}, nil
}

func matchBot(v *visit, rev model.Revision) (model.Reason, error) {
	if v.e.roster.Bots.Has(rev.User) {
		return model.ReasonBot, nil
	}
	return model.ReasonNone, nil
}

func matchAutoreview(v *visit, rev model.Revision) (model.Reason, error) {
	if v.e.roster.Privileged.Has(rev.User) {
		return model.ReasonAutoreview, nil
	}
	return model.ReasonNone, nil
}

func matchFormerBot(v *visit, rev model.Revision) (model.Reason, error) {
	if v.e.opts.FormerBots && v.e.roster.FormerBots.Has(rev.User) {
		return model.ReasonFormerBot, nil
	}
	return model.ReasonNone, nil
}

func matchPatrolled(v *visit, rev model.Revision) (model.Reason, error) {
	if !v.patrolLoaded {
		v.patrolLoaded = true
		ids, err := v.e.signals.PatrolledRevisions(v.ctx, v.page.State.Title, v.page.State.PendingSince)
		if err != nil {
			v.patrolledErr = fmt.Errorf("patrol log: %w", err)
		} else {
			v.patrolled = make(map[int64]bool, len(ids))
			for _, id := range ids {
				v.patrolled[id] = true
			}
		}
	}
	if v.patrolledErr != nil {
		return model.ReasonNone, v.patrolledErr
	}
	if v.patrolled[rev.ID] {
		return model.ReasonPatrolled, nil
	}
	return model.ReasonNone, nil
}

func matchRevertFlag(kind string, reason model.Reason) func(*visit, model.Revision) (model.Reason, error) {
	return func(v *visit, rev model.Revision) (model.Reason, error) {
		ok, err := v.e.signals.RevertFlag(v.ctx, rev.ID, kind)
		if err != nil {
			return model.ReasonNone, fmt.Errorf("%s flag: %w", kind, err)
		}
		if ok {
			return reason, nil
		}
		return model.ReasonNone, nil
	}
}

func matchScore(v *visit, rev model.Revision) (model.Reason, error) {
	th := v.e.opts.Goodfaith
	if th == nil {
		return model.ReasonNone, nil
	}
	batch, err := v.scoreBatch()
	if err != nil {
		return model.ReasonNone, err
	}
	p, ok := batch.Lookup(rev.ID, config.GoodfaithModel)
	if ok && th.Pass(p) {
		return model.ReasonORES, nil
	}
	return model.ReasonNone, nil
}

// scoreBatch fetches the visit's scores once, retrying a failed request a single time.
func (v *visit) scoreBatch() (model.ScoreBatch, error) {
	if v.scoreLoaded {
		return v.scores, v.scoresErr
	}
	v.scoreLoaded = true

	var ids []int64
	for _, r := range v.page.Revisions {
		if v.e.roster.Bots.Has(r.User) || v.e.roster.Privileged.Has(r.User) {
			continue
		}
		ids = append(ids, r.ID)
		if len(ids) == v.e.opts.BatchSize {
			break
		}
	}

	fetch := func() (model.ScoreBatch, error) {
		return v.e.signals.Scores(v.ctx, ids, config.GoodfaithModel)
	}
	batch, err := backoff.Retry(v.ctx, fetch,
		backoff.WithBackOff(backoff.NewConstantBackOff(v.e.opts.RetryDelay)),
		backoff.WithMaxTries(2),
		backoff.WithNotify(func(err error, d time.Duration) {
			v.e.log.Warn("score request failed, retrying", "page", v.page.State.Title, "delay", d, "error", err)
		}),
	)
	if err != nil {
		v.scoresErr = fmt.Errorf("ml scores: %w", err)
		return nil, v.scoresErr
	}
	v.scores = batch
	return batch, nil
}

func matchContent(v *visit, rev model.Revision) (model.Reason, error) {
	old, err := v.revisionText(rev.ID)
	if err != nil {
		return model.ReasonNone, err
	}
	parent := ""
	if rev.ParentID != 0 {
		if parent, err = v.revisionText(rev.ParentID); err != nil {
			return model.ReasonNone, err
		}
	}
	latest, err := v.latestText()
	if err != nil {
		return model.ReasonNone, err
	}

	return ContentReason(diff.Classify(parent, old, latest)), nil
}

// ContentReason maps a classifier result to the reason recorded for it. A first-pass word test
// hit is recorded as nochange.
func ContentReason(r diff.Result) model.Reason {
	switch r {
	case diff.NoChange, diff.WordTest1:
		return model.ReasonNoChange
	case diff.Interwiki:
		return model.ReasonInterwiki
	case diff.WordTest2:
		return model.ReasonWordTest2
	default:
		return model.ReasonNone
	}
}

func (v *visit) revisionText(id int64) (string, error) {
	if t, ok := v.texts[id]; ok {
		return t, nil
	}
	t, err := v.e.texts.RevisionText(v.ctx, id)
	if err != nil {
		return "", fmt.Errorf("%w: revision %d: %w", ErrUnreadable, id, err)
	}
	v.texts[id] = t
	return t, nil
}

func (v *visit) latestText() (string, error) {
	if v.latest != nil {
		return *v.latest, nil
	}
	t, err := v.e.texts.LatestText(v.ctx, v.page.State.Title)
	if err != nil {
		return "", fmt.Errorf("%w: current text of %q: %w", ErrUnreadable, v.page.State.Title, err)
	}
	v.latest = &t
	return t, nil
}
