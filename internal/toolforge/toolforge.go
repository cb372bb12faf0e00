// Package toolforge queries the pendingchanges helper tool for former bot accounts and
// revert flags.
package toolforge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/sprite-ai/pendingbot/internal/remote"
)

// RevertKind selects which revert flag to ask about.
type RevertKind string

const (
	// Reverted asks whether the revision was later undone.
	Reverted RevertKind = "reverted"
	// Revert asks whether the revision itself undid an earlier edit.
	Revert RevertKind = "revert"
)

// Client talks to the tool for one wiki.
type Client struct {
	baseURL string
	lang    string
	family  string
	http    *remote.Client
}

// New creates a client for lang.family at baseURL.
func New(baseURL, lang, family string, http *remote.Client) *Client {
	return &Client{baseURL: baseURL, lang: lang, family: family, http: http}
}

// FormerBots lists accounts that used to carry the bot flag.
func (c *Client) FormerBots(ctx context.Context) ([]string, error) {
	q := url.Values{
		"action": {"formerbots"},
		"family": {c.family},
		"lang":   {c.lang},
	}
	var resp struct {
		FormerBots []string `json:"formerbots"`
	}
	if err := c.http.GetJSON(ctx, c.baseURL, q, &resp); err != nil {
		return nil, fmt.Errorf("toolforge: former bots: %w", err)
	}
	return resp.FormerBots, nil
}

// RevertFlag reports whether the tool flags revID with kind. Only a literal true counts.
func (c *Client) RevertFlag(ctx context.Context, revID int64, kind RevertKind) (bool, error) {
	id := strconv.FormatInt(revID, 10)
	q := url.Values{
		"lang":   {c.lang},
		"action": {string(kind)},
		"family": {c.family},
		"rev_id": {id},
	}
	var resp map[string]map[string]json.RawMessage
	if err := c.http.GetJSON(ctx, c.baseURL, q, &resp); err != nil {
		return false, fmt.Errorf("toolforge: %s flag of %d: %w", kind, revID, err)
	}
	raw, ok := resp[string(kind)][id]
	if !ok {
		return false, nil
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err != nil {
		return false, nil
	}
	return flag, nil
}
