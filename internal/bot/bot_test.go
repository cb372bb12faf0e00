package bot

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/pendingbot/internal/config"
	"github.com/sprite-ai/pendingbot/internal/engine"
	"github.com/sprite-ai/pendingbot/internal/journal"
	"github.com/sprite-ai/pendingbot/internal/model"
)

var errDown = errors.New("service down")

type review struct {
	rev     int64
	comment string
}

type fakeWiki struct {
	states    map[string]model.PendingState
	revisions map[string][]model.Revision
	texts     map[int64]string
	latest    map[string]string
	scores    model.ScoreBatch

	bots, privileged, former []string
	usersErr, modelsErr      error
	reviewErr                map[int64]error

	logins      int
	reviews     []review
	scoreCalls  int
	sinceByPage map[string]*time.Time
}

func newFakeWiki() *fakeWiki {
	return &fakeWiki{
		states:      map[string]model.PendingState{},
		revisions:   map[string][]model.Revision{},
		texts:       map[int64]string{},
		latest:      map[string]string{},
		reviewErr:   map[int64]error{},
		sinceByPage: map[string]*time.Time{},
		bots:        []string{"KissaBot"},
		privileged:  []string{"Admin"},
	}
}

var since = time.Date(2016, 5, 1, 12, 0, 0, 0, time.UTC)

func (f *fakeWiki) addPage(title string, revs ...model.Revision) {
	s := since
	f.states[title] = model.PendingState{Title: title, LatestRevID: revs[len(revs)-1].ID, StableRevID: 1, PendingSince: &s}
	f.revisions[title] = revs
}

func (f *fakeWiki) PageState(_ context.Context, title string) (model.PendingState, error) {
	st, ok := f.states[title]
	if !ok {
		return model.PendingState{Title: title, Missing: true}, nil
	}
	return st, nil
}

func (f *fakeWiki) Revisions(_ context.Context, title string, since *time.Time) ([]model.Revision, error) {
	f.sinceByPage[title] = since
	return f.revisions[title], nil
}

func (f *fakeWiki) PatrolledRevisions(context.Context, string, *time.Time) ([]int64, error) {
	return nil, nil
}

func (f *fakeWiki) RevertFlag(context.Context, int64, string) (bool, error) { return false, nil }

func (f *fakeWiki) Scores(context.Context, []int64, ...string) (model.ScoreBatch, error) {
	f.scoreCalls++
	return f.scores, nil
}

func (f *fakeWiki) RevisionText(_ context.Context, id int64) (string, error) {
	t, ok := f.texts[id]
	if !ok {
		return "", errDown
	}
	return t, nil
}

func (f *fakeWiki) LatestText(_ context.Context, title string) (string, error) {
	return f.latest[title], nil
}

func (f *fakeWiki) BotUsers(context.Context) ([]string, error) {
	return f.bots, f.usersErr
}

func (f *fakeWiki) PrivilegedUsers(context.Context) ([]string, error) {
	return f.privileged, nil
}

func (f *fakeWiki) FormerBotUsers(context.Context) ([]string, error) {
	return f.former, nil
}

func (f *fakeWiki) Models(context.Context) ([]string, error) {
	if f.modelsErr != nil {
		return nil, f.modelsErr
	}
	return []string{"damaging", "goodfaith"}, nil
}

func (f *fakeWiki) Login(context.Context) error {
	f.logins++
	return nil
}

func (f *fakeWiki) Review(_ context.Context, revID int64, comment string) error {
	if err := f.reviewErr[revID]; err != nil {
		return err
	}
	f.reviews = append(f.reviews, review{revID, comment})
	return nil
}

func rev(id, parent int64, user string, ts time.Time) model.Revision {
	return model.Revision{ID: id, ParentID: parent, User: user, Timestamp: ts}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Scoring.RetryDelay = time.Millisecond
	return cfg
}

func TestRunReviewsApprovedPages(t *testing.T) {
	f := newFakeWiki()
	f.addPage("Kissa", rev(11, 10, "KissaBot", since), rev(12, 11, "Admin", since.Add(time.Hour)))
	f.states["Koira"] = model.PendingState{Title: "Koira", LatestRevID: 5, StableRevID: 5}
	f.states["Keskustelu:Kissa"] = model.PendingState{Title: "Keskustelu:Kissa", Namespace: 1}

	var out bytes.Buffer
	r := New(f, testConfig(), WithOutput(&out))
	stats, err := r.Run(context.Background(), Titles("Kissa", "Koira", "Gone", "Keskustelu:Kissa"))
	require.NoError(t, err)

	assert.Equal(t, Stats{Visited: 4, Skipped: 3, Reviewed: 1}, stats)
	assert.Equal(t, 1, f.logins)
	require.Len(t, f.reviews, 1)
	assert.Equal(t, int64(12), f.reviews[0].rev)
	assert.Equal(t, "Approved revisions 11 and 12 from users KissaBot and Admin using rules bot and autoreview", f.reviews[0].comment)
	assert.Contains(t, out.String(), ">>> Kissa <<<")
	assert.Contains(t, out.String(), `Reviewed revision: 12 with comment: "Approved revisions 11 and 12`)
}

func TestSimulateNeverSubmits(t *testing.T) {
	f := newFakeWiki()
	f.addPage("Kissa", rev(11, 10, "KissaBot", since))

	cfg := testConfig()
	cfg.Simulate = true
	var out bytes.Buffer
	stats, err := New(f, cfg, WithOutput(&out)).Run(context.Background(), Titles("Kissa"))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Reviewed)
	assert.Zero(t, f.logins)
	assert.Empty(t, f.reviews)
	assert.Contains(t, out.String(), `Reviewed (simulated) revision: 11 with comment: "Approved revision 11 from user KissaBot using rule bot"`)
}

func TestLoginHappensOnce(t *testing.T) {
	f := newFakeWiki()
	f.addPage("A", rev(11, 10, "KissaBot", since))
	f.addPage("B", rev(21, 20, "KissaBot", since))

	_, err := New(f, testConfig()).Run(context.Background(), Titles("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.logins)
	assert.Len(t, f.reviews, 2)
}

func TestReviewFailureContinuesRun(t *testing.T) {
	f := newFakeWiki()
	f.addPage("A", rev(11, 10, "KissaBot", since))
	f.addPage("B", rev(21, 20, "KissaBot", since))
	f.reviewErr[11] = errDown

	stats, err := New(f, testConfig()).Run(context.Background(), Titles("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Reviewed)
	assert.Equal(t, []review{{21, "Approved revision 21 from user KissaBot using rule bot"}}, f.reviews)
}

func TestDayLimitWithholds(t *testing.T) {
	f := newFakeWiki()
	old := time.Now().AddDate(0, 0, -45)
	f.addPage("Kissa", rev(11, 10, "KissaBot", old), rev(12, 11, "Mallory", old.Add(time.Hour)))
	f.texts = map[int64]string{11: "a b", 12: "a b spam"}
	f.latest["Kissa"] = "a b"

	cfg := testConfig()
	cfg.DayLimit = 30
	var out bytes.Buffer
	stats, err := New(f, cfg, WithOutput(&out)).Run(context.Background(), Titles("Kissa"))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Withheld)
	assert.Empty(t, f.reviews)
	assert.Contains(t, out.String(), "Skipped revision 11: older than 30 days")
}

func TestModelListFailureDisablesScoring(t *testing.T) {
	f := newFakeWiki()
	f.modelsErr = errDown
	f.addPage("Kissa", rev(12, 11, "Alice", since))
	f.texts = map[int64]string{11: "a", 12: "a"}

	r := New(f, testConfig())
	require.NoError(t, r.Prepare(context.Background()))
	assert.Nil(t, r.Engine().Options().Goodfaith)

	res, err := r.Evaluate(context.Background(), "Kissa")
	require.NoError(t, err)
	assert.Zero(t, f.scoreCalls)
	assert.Equal(t, int64(12), res.Outcome.LatestApproved, "content rule still applies")
}

func TestScoringEnabledWhenModelAvailable(t *testing.T) {
	f := newFakeWiki()
	f.addPage("Kissa", rev(12, 11, "Alice", since))
	f.scores = model.ScoreBatch{12: {"goodfaith": {True: 0.96, False: 0.04}}}

	r := New(f, testConfig())
	require.NoError(t, r.Prepare(context.Background()))
	require.NotNil(t, r.Engine().Options().Goodfaith)

	res, err := r.Evaluate(context.Background(), "Kissa")
	require.NoError(t, err)
	assert.Equal(t, "Approved revision 12 from user Alice using rule ores goodfaith (t/f: 0.96/0.04)", res.Comment)
}

func TestUserListFailureDisablesRule(t *testing.T) {
	f := newFakeWiki()
	f.usersErr = errDown
	f.addPage("Kissa", rev(12, 11, "KissaBot", since))
	f.texts = map[int64]string{11: "a b", 12: "a b bot text"}
	f.latest["Kissa"] = "a b"

	r := New(f, testConfig())
	require.NoError(t, r.Prepare(context.Background()))
	res, err := r.Evaluate(context.Background(), "Kissa")
	require.NoError(t, err)
	assert.Empty(t, res.Outcome.Records)
	assert.Empty(t, res.Comment)
}

func TestUnreviewedPageStartsAtFirstRevision(t *testing.T) {
	f := newFakeWiki()
	f.states["Uusi"] = model.PendingState{Title: "Uusi", LatestRevID: 1}
	f.revisions["Uusi"] = []model.Revision{rev(1, 0, "KissaBot", since)}

	r := New(f, testConfig())
	require.NoError(t, r.Prepare(context.Background()))
	res, err := r.Evaluate(context.Background(), "Uusi")
	require.NoError(t, err)
	require.NotNil(t, res.Outcome)
	assert.Nil(t, f.sinceByPage["Uusi"])
	assert.Equal(t, int64(1), res.Outcome.LatestApproved)
}

func TestEvaluateRequiresPrepare(t *testing.T) {
	_, err := New(newFakeWiki(), testConfig()).Evaluate(context.Background(), "Kissa")
	require.Error(t, err)
}

func TestJournalAndLimit(t *testing.T) {
	f := newFakeWiki()
	f.addPage("A", rev(11, 10, "KissaBot", since))
	f.addPage("B", rev(21, 20, "Mallory", since))
	f.addPage("C", rev(31, 30, "KissaBot", since))

	var buf bytes.Buffer
	r := New(f, testConfig(), WithJournal(journal.NewWriter(&buf)), WithLimit(2))
	stats, err := r.Run(context.Background(), Titles("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Visited)

	entries, err := journal.Read(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, journal.ResultApproved, entries[0].Result)
	assert.Equal(t, "Approved revision 11 from user KissaBot using rule bot", entries[0].Comment)
	assert.Equal(t, journal.ResultUnapproved, entries[1].Result)
	assert.Equal(t, r.RunID(), entries[1].RunID)
	require.Len(t, entries[1].Verdicts, 1)
	assert.False(t, entries[1].Verdicts[0].OK())
}

func TestObserverSeesVerdicts(t *testing.T) {
	f := newFakeWiki()
	f.addPage("A", rev(11, 10, "KissaBot", since))

	var lines []string
	obs := engine.ObserverFunc(func(_ string, v model.Verdict) { lines = append(lines, v.String()) })
	_, err := New(f, testConfig(), WithObserver(obs)).Run(context.Background(), Titles("A"))
	require.NoError(t, err)
	assert.Equal(t, []string{"OK\tbot             Revision 11 2016-05-01T12:00:00Z KissaBot"}, lines)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFakeWiki()
	f.addPage("A", rev(11, 10, "KissaBot", since))
	ctx, cancel := context.WithCancel(context.Background())

	r := New(f, testConfig())
	require.NoError(t, r.Prepare(ctx))
	cancel()
	stats, err := r.Run(ctx, Titles("A", "B"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, stats.Visited)
}
