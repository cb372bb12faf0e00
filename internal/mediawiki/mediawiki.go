// Package mediawiki is a small client for the MediaWiki Action API covering what the review bot
// needs: flagged-revision state, revision history and text, user lists, the patrol log and the
// review action itself.
package mediawiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sprite-ai/pendingbot/internal/model"
	"github.com/sprite-ai/pendingbot/internal/remote"
)

// APIError is an error object returned by the Action API.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mediawiki: %s: %s", e.Code, e.Info)
}

// ErrTextUnavailable is returned when a revision's content is missing, deleted or hidden.
var ErrTextUnavailable = errors.New("revision text unavailable")

// ErrNoSuchRevision is returned when a revision id does not exist.
var ErrNoSuchRevision = errors.New("no such revision")

// ErrNotLoggedIn is returned by write actions before a successful Login.
var ErrNotLoggedIn = errors.New("not logged in")

// Client talks to one wiki's api.php.
type Client struct {
	endpoint string
	http     *remote.Client
	log      *slog.Logger

	loggedIn  bool
	csrfToken string
}

// New creates a client for endpoint. A cookie jar is attached so that a login persists across
// requests; opts may override pacing or the User-Agent transport.
func New(endpoint, userAgent string, opts ...remote.Option) *Client {
	jar, _ := cookiejar.New(nil) // only fails with a non-nil options struct
	base := []remote.Option{remote.WithHTTPClient(&http.Client{Jar: jar, Timeout: 60 * time.Second})}
	return &Client{
		endpoint: endpoint,
		http:     remote.New(userAgent, append(base, opts...)...),
		log:      slog.Default().With("component", "mediawiki"),
	}
}

// Endpoint returns the api.php URL.
func (c *Client) Endpoint() string { return c.endpoint }

type response struct {
	Error    *APIError                  `json:"error"`
	Continue map[string]json.RawMessage `json:"continue"`
	Query    json.RawMessage            `json:"query"`
}

func baseParams(params url.Values) url.Values {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("format", "json")
	q.Set("formatversion", "2")
	return q
}

func (c *Client) get(ctx context.Context, params url.Values, v any) error {
	return c.http.GetJSON(ctx, c.endpoint, baseParams(params), v)
}

func (c *Client) post(ctx context.Context, params url.Values, v any) error {
	return c.http.PostFormJSON(ctx, c.endpoint, baseParams(params), v)
}

// query runs an action=query request and follows continuation, calling fn with each
// batch's "query" object. fn may return an error to stop early; it is returned as is.
func (c *Client) query(ctx context.Context, params url.Values, fn func(json.RawMessage) error) error {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("action", "query")

	for {
		var resp response
		if err := c.get(ctx, q, &resp); err != nil {
			return err
		}
		if resp.Error != nil {
			return resp.Error
		}
		if len(resp.Query) > 0 {
			if err := fn(resp.Query); err != nil {
				return err
			}
		}
		if len(resp.Continue) == 0 {
			return nil
		}
		for k, raw := range resp.Continue {
			q.Set(k, continueValue(raw))
		}
	}
}

func continueValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Login authenticates with a bot password. Subsequent write actions reuse the session cookie.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" {
		return errors.New("mediawiki: login: username is empty")
	}
	var tok struct {
		Query struct {
			Tokens struct {
				LoginToken string `json:"logintoken"`
			} `json:"tokens"`
		} `json:"query"`
		Error *APIError `json:"error"`
	}
	if err := c.get(ctx, url.Values{"action": {"query"}, "meta": {"tokens"}, "type": {"login"}}, &tok); err != nil {
		return fmt.Errorf("fetching login token: %w", err)
	}
	if tok.Error != nil {
		return tok.Error
	}

	var resp struct {
		Login struct {
			Result   string `json:"result"`
			Reason   string `json:"reason"`
			Username string `json:"lgusername"`
		} `json:"login"`
		Error *APIError `json:"error"`
	}
	form := url.Values{
		"action":     {"login"},
		"lgname":     {username},
		"lgpassword": {password},
		"lgtoken":    {tok.Query.Tokens.LoginToken},
	}
	if err := c.post(ctx, form, &resp); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if resp.Login.Result != "Success" {
		return &APIError{Code: "login-" + resp.Login.Result, Info: resp.Login.Reason}
	}
	c.loggedIn = true
	c.csrfToken = ""
	c.log.Info("logged in", "user", resp.Login.Username)
	return nil
}

// LoggedIn reports whether Login succeeded.
func (c *Client) LoggedIn() bool { return c.loggedIn }

// CSRFToken returns the session's edit token, fetching it on first use.
func (c *Client) CSRFToken(ctx context.Context) (string, error) {
	if c.csrfToken != "" {
		return c.csrfToken, nil
	}
	var resp struct {
		Query struct {
			Tokens struct {
				CSRFToken string `json:"csrftoken"`
			} `json:"tokens"`
		} `json:"query"`
		Error *APIError `json:"error"`
	}
	if err := c.get(ctx, url.Values{"action": {"query"}, "meta": {"tokens"}}, &resp); err != nil {
		return "", fmt.Errorf("fetching csrf token: %w", err)
	}
	if resp.Error != nil {
		return "", resp.Error
	}
	if resp.Query.Tokens.CSRFToken == "" || resp.Query.Tokens.CSRFToken == "+\\" {
		return "", ErrNotLoggedIn
	}
	c.csrfToken = resp.Query.Tokens.CSRFToken
	return c.csrfToken, nil
}

type pageInfo struct {
	PageID    int64  `json:"pageid"`
	NS        int    `json:"ns"`
	Title     string `json:"title"`
	Missing   bool   `json:"missing"`
	Invalid   bool   `json:"invalid"`
	LastRev   int64  `json:"lastrevid"`
	Revisions []struct {
		RevID      int64     `json:"revid"`
		ParentID   int64     `json:"parentid"`
		User       string    `json:"user"`
		Timestamp  time.Time `json:"timestamp"`
		TextHidden bool      `json:"texthidden"`
		Slots      map[string]struct {
			Content string `json:"content"`
			Missing bool   `json:"missing"`
		} `json:"slots"`
	} `json:"revisions"`
	Flagged *struct {
		StableRevID  int64  `json:"stable_revid"`
		PendingSince string `json:"pending_since"`
	} `json:"flagged"`
}

type pagesQuery struct {
	Pages []pageInfo `json:"pages"`
}

// PageState reads a page's flagged-revision state.
func (c *Client) PageState(ctx context.Context, title string) (model.PendingState, error) {
	st := model.PendingState{Title: title}
	err := c.query(ctx, url.Values{"prop": {"info|flagged"}, "titles": {title}}, func(raw json.RawMessage) error {
		var q pagesQuery
		if err := json.Unmarshal(raw, &q); err != nil {
			return fmt.Errorf("decoding page info: %w", err)
		}
		if len(q.Pages) == 0 {
			st.Missing = true
			return nil
		}
		p := q.Pages[0]
		st.Title = p.Title
		st.Namespace = p.NS
		st.Missing = p.Missing || p.Invalid
		st.LatestRevID = p.LastRev
		if p.Flagged != nil {
			st.StableRevID = p.Flagged.StableRevID
			if p.Flagged.PendingSince != "" {
				ts, err := time.Parse(time.RFC3339, p.Flagged.PendingSince)
				if err != nil {
					return fmt.Errorf("parsing pending_since %q: %w", p.Flagged.PendingSince, err)
				}
				st.PendingSince = &ts
			}
		}
		return nil
	})
	if err != nil {
		return model.PendingState{}, fmt.Errorf("page state of %q: %w", title, err)
	}
	return st, nil
}

// Revisions lists a page's revisions oldest first, starting at since when it is non-nil.
func (c *Client) Revisions(ctx context.Context, title string, since *time.Time) ([]model.Revision, error) {
	params := url.Values{
		"prop":    {"revisions"},
		"titles":  {title},
		"rvprop":  {"ids|user|timestamp"},
		"rvdir":   {"newer"},
		"rvlimit": {"max"},
	}
	if since != nil {
		params.Set("rvstart", since.UTC().Format(time.RFC3339))
	}

	var revs []model.Revision
	err := c.query(ctx, params, func(raw json.RawMessage) error {
		var q pagesQuery
		if err := json.Unmarshal(raw, &q); err != nil {
			return fmt.Errorf("decoding revisions: %w", err)
		}
		for _, p := range q.Pages {
			for _, r := range p.Revisions {
				revs = append(revs, model.Revision{ID: r.RevID, ParentID: r.ParentID, User: r.User, Timestamp: r.Timestamp})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("revisions of %q: %w", title, err)
	}
	return revs, nil
}

// Revision fetches the metadata of a single revision.
func (c *Client) Revision(ctx context.Context, revID int64) (model.Revision, error) {
	params := url.Values{
		"prop":   {"revisions"},
		"revids": {strconv.FormatInt(revID, 10)},
		"rvprop": {"ids|user|timestamp"},
	}

	var (
		rev   model.Revision
		found bool
	)
	err := c.query(ctx, params, func(raw json.RawMessage) error {
		var q pagesQuery
		if err := json.Unmarshal(raw, &q); err != nil {
			return fmt.Errorf("decoding revision: %w", err)
		}
		for _, p := range q.Pages {
			for _, r := range p.Revisions {
				if r.RevID == revID {
					rev = model.Revision{ID: r.RevID, ParentID: r.ParentID, User: r.User, Timestamp: r.Timestamp}
					found = true
				}
			}
		}
		return nil
	})
	if err != nil {
		return model.Revision{}, fmt.Errorf("revision %d: %w", revID, err)
	}
	if !found {
		return model.Revision{}, fmt.Errorf("revision %d: %w", revID, ErrNoSuchRevision)
	}
	return rev, nil
}

func (c *Client) content(ctx context.Context, params url.Values) (string, error) {
	params.Set("prop", "revisions")
	params.Set("rvprop", "content")
	params.Set("rvslots", "main")

	var (
		text  string
		found bool
	)
	err := c.query(ctx, params, func(raw json.RawMessage) error {
		var q pagesQuery
		if err := json.Unmarshal(raw, &q); err != nil {
			return fmt.Errorf("decoding content: %w", err)
		}
		for _, p := range q.Pages {
			for _, r := range p.Revisions {
				if r.TextHidden {
					continue
				}
				if main, ok := r.Slots["main"]; ok && !main.Missing {
					text, found = main.Content, true
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrTextUnavailable
	}
	return text, nil
}

// RevisionText fetches the wikitext of one revision.
func (c *Client) RevisionText(ctx context.Context, revID int64) (string, error) {
	text, err := c.content(ctx, url.Values{"revids": {strconv.FormatInt(revID, 10)}})
	if err != nil {
		return "", fmt.Errorf("text of revision %d: %w", revID, err)
	}
	return text, nil
}

// LatestText fetches the current wikitext of a page.
func (c *Client) LatestText(ctx context.Context, title string) (string, error) {
	text, err := c.content(ctx, url.Values{"titles": {title}})
	if err != nil {
		return "", fmt.Errorf("latest text of %q: %w", title, err)
	}
	return text, nil
}

func (c *Client) allUsers(ctx context.Context, params url.Values) ([]string, error) {
	params.Set("list", "allusers")
	params.Set("aulimit", "max")
	var names []string
	err := c.query(ctx, params, func(raw json.RawMessage) error {
		var q struct {
			AllUsers []struct {
				Name string `json:"name"`
			} `json:"allusers"`
		}
		if err := json.Unmarshal(raw, &q); err != nil {
			return fmt.Errorf("decoding users: %w", err)
		}
		for _, u := range q.AllUsers {
			names = append(names, u.Name)
		}
		return nil
	})
	return names, err
}

// UsersWithRights lists users holding any of the given rights.
func (c *Client) UsersWithRights(ctx context.Context, rights ...string) ([]string, error) {
	names, err := c.allUsers(ctx, url.Values{"aurights": {strings.Join(rights, "|")}})
	if err != nil {
		return nil, fmt.Errorf("users with rights %v: %w", rights, err)
	}
	return names, nil
}

// UsersInGroup lists the members of a user group.
func (c *Client) UsersInGroup(ctx context.Context, group string) ([]string, error) {
	names, err := c.allUsers(ctx, url.Values{"augroup": {group}})
	if err != nil {
		return nil, fmt.Errorf("users in group %s: %w", group, err)
	}
	return names, nil
}

// PatrolledRevisions returns the revision ids in the page's patrol log, newest first, back
// to end when it is non-nil.
func (c *Client) PatrolledRevisions(ctx context.Context, title string, end *time.Time) ([]int64, error) {
	params := url.Values{
		"list":    {"logevents"},
		"letype":  {"patrol"},
		"letitle": {title},
		"leprop":  {"ids|details"},
		"lelimit": {"max"},
	}
	if end != nil {
		params.Set("leend", end.UTC().Format(time.RFC3339))
	}

	var ids []int64
	err := c.query(ctx, params, func(raw json.RawMessage) error {
		var q struct {
			LogEvents []struct {
				Params struct {
					CurID json.Number `json:"curid"`
				} `json:"params"`
			} `json:"logevents"`
		}
		if err := json.Unmarshal(raw, &q); err != nil {
			return fmt.Errorf("decoding patrol log: %w", err)
		}
		for _, e := range q.LogEvents {
			id, err := e.Params.CurID.Int64()
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("patrol log of %q: %w", title, err)
	}
	return ids, nil
}

// Review marks a revision as reviewed with the given summary.
func (c *Client) Review(ctx context.Context, revID int64, comment string) error {
	if !c.loggedIn {
		return ErrNotLoggedIn
	}
	token, err := c.CSRFToken(ctx)
	if err != nil {
		return err
	}
	form := url.Values{
		"action":        {"review"},
		"revid":         {strconv.FormatInt(revID, 10)},
		"flag_accuracy": {"1"},
		"comment":       {comment},
		"token":         {token},
	}
	var resp struct {
		Error  *APIError `json:"error"`
		Review struct {
			Result string `json:"result"`
		} `json:"review"`
	}
	if err := c.post(ctx, form, &resp); err != nil {
		return fmt.Errorf("reviewing revision %d: %w", revID, err)
	}
	if resp.Error != nil {
		if resp.Error.Code == "badtoken" {
			c.csrfToken = ""
		}
		return fmt.Errorf("reviewing revision %d: %w", revID, resp.Error)
	}
	return nil
}

// OldReviewedPages calls fn for each article with pending changes.
func (c *Client) OldReviewedPages(ctx context.Context, fn func(title string) error) error {
	return c.listPages(ctx, "oldreviewedpages", url.Values{
		"list":        {"oldreviewedpages"},
		"ornamespace": {"0"},
		"orlimit":     {"max"},
	}, fn)
}

// UnreviewedPages calls fn for each article that has never been reviewed.
func (c *Client) UnreviewedPages(ctx context.Context, fn func(title string) error) error {
	return c.listPages(ctx, "unreviewedpages", url.Values{
		"list":          {"unreviewedpages"},
		"urnamespace":   {"0"},
		"urfilterredir": {"nonredirects"},
		"urlimit":       {"max"},
	}, fn)
}

func (c *Client) listPages(ctx context.Context, key string, params url.Values, fn func(string) error) error {
	return c.query(ctx, params, func(raw json.RawMessage) error {
		var q map[string]json.RawMessage
		if err := json.Unmarshal(raw, &q); err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
		var pages []struct {
			Title string `json:"title"`
		}
		if list, ok := q[key]; ok {
			if err := json.Unmarshal(list, &pages); err != nil {
				return fmt.Errorf("decoding %s: %w", key, err)
			}
		}
		for _, p := range pages {
			if err := fn(p.Title); err != nil {
				return err
			}
		}
		return nil
	})
}
