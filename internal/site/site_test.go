package site

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/pendingbot/internal/config"
	"github.com/sprite-ai/pendingbot/internal/engine"
)

// The facade must satisfy the engine's ports.
var (
	_ engine.Signals = (*Site)(nil)
	_ engine.Texts   = (*Site)(nil)
)

func testConfig(t *testing.T) *config.Config {
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("augroup") == "bot":
			_, _ = w.Write([]byte(`{"query":{"allusers":[{"name":"KissaBot"}]}}`))
		case q.Get("aurights") == "autoreview|autopatrol":
			_, _ = w.Write([]byte(`{"query":{"allusers":[{"name":"Admin"}]}}`))
		default:
			http.Error(w, "unexpected", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/v3/scores/fiwiki/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"fiwiki":{"models":{"goodfaith":{}}}}`))
	})
	mux.HandleFunc("/tool/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "formerbots":
			_, _ = w.Write([]byte(`{"formerbots":["OldBot"]}`))
		case "reverted":
			_, _ = w.Write([]byte(`{"reverted":{"7":true}}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Site.APIURL = srv.URL + "/w/api.php"
	cfg.Site.RequestsPerSecond = 0
	cfg.Scoring.URL = srv.URL
	cfg.ToolforgeURL = srv.URL + "/tool/"
	return cfg
}

func TestUserLists(t *testing.T) {
	s := New(testConfig(t))
	ctx := context.Background()

	bots, err := s.BotUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"KissaBot"}, bots)

	users, err := s.PrivilegedUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin"}, users)

	former, err := s.FormerBotUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"OldBot"}, former)
}

func TestRevertFlagAndModels(t *testing.T) {
	s := New(testConfig(t))
	ctx := context.Background()

	ok, err := s.RevertFlag(ctx, 7, engine.FlagReverted)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RevertFlag(ctx, 7, engine.FlagRevert)
	require.NoError(t, err)
	assert.False(t, ok)

	models, err := s.Models(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"goodfaith"}, models)
}

func TestScoringDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scoring.Enabled = false
	s := New(cfg)

	_, err := s.Scores(context.Background(), []int64{1}, config.GoodfaithModel)
	assert.True(t, errors.Is(err, ErrScoringDisabled))
	_, err = s.Models(context.Background())
	assert.True(t, errors.Is(err, ErrScoringDisabled))
}
