// Package site binds the wiki, scoring and toolforge clients for one configured wiki.
package site

import (
	"context"
	"errors"
	"time"

	"github.com/sprite-ai/pendingbot/internal/config"
	"github.com/sprite-ai/pendingbot/internal/mediawiki"
	"github.com/sprite-ai/pendingbot/internal/model"
	"github.com/sprite-ai/pendingbot/internal/ores"
	"github.com/sprite-ai/pendingbot/internal/remote"
	"github.com/sprite-ai/pendingbot/internal/toolforge"
)

// ErrScoringDisabled is returned by score requests when no scoring client is configured.
var ErrScoringDisabled = errors.New("ml scoring disabled")

// Site is the remote view of one wiki.
type Site struct {
	wiki   *mediawiki.Client
	scorer *ores.Client
	tool   *toolforge.Client
	creds  config.Credentials
	secret string
}

// New builds the clients described by cfg.
func New(cfg *config.Config) *Site {
	pace := remote.WithRateLimit(cfg.Site.RequestsPerSecond, 1)
	ua := cfg.UserAgent()

	s := &Site{
		wiki:   mediawiki.New(cfg.APIEndpoint(), ua, pace),
		tool:   toolforge.New(cfg.ToolforgeURL, cfg.Site.Lang, cfg.Site.Family, remote.New(ua, pace)),
		creds:  cfg.Credentials,
		secret: cfg.Password(),
	}
	if cfg.Scoring.Enabled && cfg.Scoring.URL != "" {
		s.scorer = ores.New(cfg.Scoring.URL, cfg.WikiDB(), remote.New(ua, pace))
	}
	return s
}

// Wiki returns the Action API client.
func (s *Site) Wiki() *mediawiki.Client { return s.wiki }

// PageState reads a page's review state.
func (s *Site) PageState(ctx context.Context, title string) (model.PendingState, error) {
	return s.wiki.PageState(ctx, title)
}

// Revisions lists revisions oldest first from since.
func (s *Site) Revisions(ctx context.Context, title string, since *time.Time) ([]model.Revision, error) {
	return s.wiki.Revisions(ctx, title, since)
}

// Revision reads one revision's metadata.
func (s *Site) Revision(ctx context.Context, revID int64) (model.Revision, error) {
	return s.wiki.Revision(ctx, revID)
}

// RevisionText fetches one revision's wikitext.
func (s *Site) RevisionText(ctx context.Context, revID int64) (string, error) {
	return s.wiki.RevisionText(ctx, revID)
}

// LatestText fetches a page's current wikitext.
func (s *Site) LatestText(ctx context.Context, title string) (string, error) {
	return s.wiki.LatestText(ctx, title)
}

// PatrolledRevisions reads the page's patrol log.
func (s *Site) PatrolledRevisions(ctx context.Context, title string, end *time.Time) ([]int64, error) {
	return s.wiki.PatrolledRevisions(ctx, title, end)
}

// RevertFlag asks the toolforge service about a revision.
func (s *Site) RevertFlag(ctx context.Context, revID int64, kind string) (bool, error) {
	return s.tool.RevertFlag(ctx, revID, toolforge.RevertKind(kind))
}

// Scores fetches ML scores.
func (s *Site) Scores(ctx context.Context, revIDs []int64, models ...string) (model.ScoreBatch, error) {
	if s.scorer == nil {
		return nil, ErrScoringDisabled
	}
	return s.scorer.Scores(ctx, revIDs, models...)
}

// Models lists the scoring models available for the wiki.
func (s *Site) Models(ctx context.Context) ([]string, error) {
	if s.scorer == nil {
		return nil, ErrScoringDisabled
	}
	return s.scorer.Models(ctx)
}

// BotUsers lists members of the bot group.
func (s *Site) BotUsers(ctx context.Context) ([]string, error) {
	return s.wiki.UsersInGroup(ctx, "bot")
}

// PrivilegedUsers lists users whose edits are reviewed automatically.
func (s *Site) PrivilegedUsers(ctx context.Context) ([]string, error) {
	return s.wiki.UsersWithRights(ctx, "autoreview", "autopatrol")
}

// FormerBotUsers lists accounts that used to be bots.
func (s *Site) FormerBotUsers(ctx context.Context) ([]string, error) {
	return s.tool.FormerBots(ctx)
}

// Login signs in with the configured credentials.
func (s *Site) Login(ctx context.Context) error {
	return s.wiki.Login(ctx, s.creds.Username, s.secret)
}

// Review submits an approval.
func (s *Site) Review(ctx context.Context, revID int64, comment string) error {
	return s.wiki.Review(ctx, revID, comment)
}

// PendingChanges visits articles with pending changes.
func (s *Site) PendingChanges(ctx context.Context, fn func(title string) error) error {
	return s.wiki.OldReviewedPages(ctx, fn)
}

// UnreviewedPages visits articles that were never reviewed.
func (s *Site) UnreviewedPages(ctx context.Context, fn func(title string) error) error {
	return s.wiki.UnreviewedPages(ctx, fn)
}
