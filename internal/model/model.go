// Package model defines the core data types shared across pendingbot.
package model

import (
	"fmt"
	"time"
)

// Reason names the rule that approved a revision.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonBot
	ReasonAutoreview
	ReasonFormerBot
	ReasonPatrolled
	ReasonReverted
	ReasonRevert
	ReasonORES
	ReasonNoChange
	ReasonInterwiki
	ReasonWordTest2
)

var reasonNames = map[Reason]string{
	ReasonNone:       "",
	ReasonBot:        "bot",
	ReasonAutoreview: "autoreview",
	ReasonFormerBot:  "formerbot",
	ReasonPatrolled:  "patrolled",
	ReasonReverted:   "reverted",
	ReasonRevert:     "revert",
	ReasonORES:       "ores",
	ReasonNoChange:   "nochange",
	ReasonInterwiki:  "interwiki",
	ReasonWordTest2:  "wordtest2",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "unknown"
}

// ParseReason is the inverse of Reason.String.
func ParseReason(s string) (Reason, error) {
	for r, name := range reasonNames {
		if name == s && r != ReasonNone {
			return r, nil
		}
	}
	return ReasonNone, fmt.Errorf("unknown approval reason %q", s)
}

// MarshalText encodes the reason by name.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a reason name; the empty string is ReasonNone.
func (r *Reason) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*r = ReasonNone
		return nil
	}
	v, err := ParseReason(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Revision is one entry of a page's history.
type Revision struct {
	ID        int64     `json:"revid"`
	ParentID  int64     `json:"parentid"` // 0 for the page's first revision
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingState is the review state of a page as reported by the wiki.
type PendingState struct {
	Title        string     `json:"title"`
	Namespace    int        `json:"ns"`
	Missing      bool       `json:"missing,omitempty"`
	LatestRevID  int64      `json:"lastrevid"`
	StableRevID  int64      `json:"stable_revid,omitempty"`
	PendingSince *time.Time `json:"pending_since,omitempty"`
}

// Unreviewed reports whether the page has never had a reviewed version.
func (s PendingState) Unreviewed() bool {
	return s.StableRevID == 0 && s.PendingSince == nil
}

// NeedsReview reports whether the page has anything waiting for review.
func (s PendingState) NeedsReview() bool {
	if s.Missing {
		return false
	}
	return s.PendingSince != nil || s.Unreviewed()
}

// ApprovalRecord pairs an approved revision with the rule that approved it.
type ApprovalRecord struct {
	Revision Revision `json:"revision"`
	Reason   Reason   `json:"reason"`
}

// Verdict is the result of running the rule cascade on one revision.
type Verdict struct {
	Revision Revision `json:"revision"`
	Reason   Reason   `json:"reason"`
	Note     string   `json:"note,omitempty"` // why a revision was not approved, if known
}

// OK reports whether the revision was approved.
func (v Verdict) OK() bool {
	return v.Reason != ReasonNone
}

// State is "OK" or "NOT OK".
func (v Verdict) State() string {
	if v.OK() {
		return "OK"
	}
	return "NOT OK"
}

// String renders the per-revision log line.
func (v Verdict) String() string {
	return fmt.Sprintf("%s\t%-15s Revision %d %s %s",
		v.State(), v.Reason, v.Revision.ID, v.Revision.Timestamp.UTC().Format(time.RFC3339), v.Revision.User)
}

// Probability is an ML model's probability pair.
type Probability struct {
	True  float64 `json:"true"`
	False float64 `json:"false"`
}

// ScoreBatch maps revision id -> model name -> probability pair.
type ScoreBatch map[int64]map[string]Probability

// Lookup returns the probability pair of one model for one revision.
func (b ScoreBatch) Lookup(revID int64, modelName string) (Probability, bool) {
	if b == nil {
		return Probability{}, false
	}
	models, ok := b[revID]
	if !ok {
		return Probability{}, false
	}
	p, ok := models[modelName]
	return p, ok
}
