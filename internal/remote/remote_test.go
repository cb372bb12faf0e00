package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pendingbot-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "query", r.URL.Query().Get("action"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "n": 3}`))
	}))
	defer srv.Close()

	c := New("pendingbot-test")
	var out struct {
		OK bool `json:"ok"`
		N  int  `json:"n"`
	}
	err := c.GetJSON(context.Background(), srv.URL+"?format=json", url.Values{"action": {"query"}}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 3, out.N)
}

func TestPostFormJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "review", r.PostForm.Get("action"))
		_, _ = w.Write([]byte(`{"review": {"result": "Success"}}`))
	}))
	defer srv.Close()

	c := New("ua")
	var out map[string]map[string]string
	require.NoError(t, c.PostFormJSON(context.Background(), srv.URL, url.Values{"action": {"review"}}, &out))
	assert.Equal(t, "Success", out["review"]["result"])
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New("ua")
	err := c.GetJSON(context.Background(), srv.URL, nil, &struct{}{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Contains(t, se.Body, "upstream unavailable")
}

func TestDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	err := New("ua").GetJSON(context.Background(), srv.URL, nil, &struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New("ua", WithRateLimit(0.001, 1))
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.GetJSON(ctx, srv.URL, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}
