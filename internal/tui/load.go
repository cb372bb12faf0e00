package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/sprite-ai/pendingbot/internal/bot"
	"github.com/sprite-ai/pendingbot/internal/diff"
	"github.com/sprite-ai/pendingbot/internal/engine"
	"github.com/sprite-ai/pendingbot/internal/model"
)

// Entry is one evaluated revision and its diff against its parent.
type Entry struct {
	Verdict model.Verdict
	Diff    *diff.DiffSet
	Err     error // set when the diff could not be built
}

// Inspection is everything the inspector shows for one page.
type Inspection struct {
	Title    string
	Result   *bot.PageResult
	Entries  []Entry
	Approved int64
	Withheld bool
	Comment  string
}

// Load builds the per-revision diffs for an evaluated page. A revision whose text cannot be
// read keeps its verdict and carries the error instead of a diff.
func Load(ctx context.Context, texts engine.Texts, res *bot.PageResult) (*Inspection, error) {
	if res == nil {
		return nil, errors.New("no evaluation result")
	}
	in := &Inspection{Title: res.Title, Result: res, Comment: res.Comment}
	if res.Outcome == nil {
		return in, nil
	}
	in.Approved = res.Outcome.LatestApproved
	in.Withheld = res.Outcome.Withheld

	for _, v := range res.Outcome.Verdicts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := Entry{Verdict: v}
		e.Diff, e.Err = revisionDiff(ctx, texts, res.Title, v.Revision)
		in.Entries = append(in.Entries, e)
	}
	return in, nil
}

func revisionDiff(ctx context.Context, texts engine.Texts, title string, rev model.Revision) (*diff.DiffSet, error) {
	text, err := texts.RevisionText(ctx, rev.ID)
	if err != nil {
		return nil, fmt.Errorf("revision %d: %w", rev.ID, err)
	}
	parent := ""
	if rev.ParentID != 0 {
		if parent, err = texts.RevisionText(ctx, rev.ParentID); err != nil {
			return nil, fmt.Errorf("parent %d: %w", rev.ParentID, err)
		}
	}
	return diff.Between(title, parent, text)
}
