// Package ores reads revision scores from an ORES-compatible scoring service.
package ores

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/sprite-ai/pendingbot/internal/model"
	"github.com/sprite-ai/pendingbot/internal/remote"
)

// MaxBatch is the number of revision ids sent in one scores request.
const MaxBatch = 40

// Client queries one wiki's scores.
type Client struct {
	baseURL string
	wiki    string
	http    *remote.Client
	log     *slog.Logger
}

// New creates a client for wiki (a database name such as "fiwiki") at baseURL.
func New(baseURL, wiki string, http *remote.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		wiki:    wiki,
		http:    http,
		log:     slog.Default().With("component", "ores", "wiki", wiki),
	}
}

func (c *Client) endpoint() string {
	return c.baseURL + "/v3/scores/" + url.PathEscape(c.wiki) + "/"
}

type wikiScores struct {
	Models map[string]json.RawMessage             `json:"models"`
	Scores map[string]map[string]revisionScoreRaw `json:"scores"`
}

type revisionScoreRaw struct {
	Score *struct {
		Probability map[string]float64 `json:"probability"`
	} `json:"score"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Models returns the names of the models the service exposes for the wiki, sorted.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var resp map[string]wikiScores
	if err := c.http.GetJSON(ctx, c.endpoint(), nil, &resp); err != nil {
		return nil, fmt.Errorf("ores: models for %s: %w", c.wiki, err)
	}
	site, ok := resp[c.wiki]
	if !ok {
		return nil, fmt.Errorf("ores: wiki %s not served", c.wiki)
	}
	names := make([]string, 0, len(site.Models))
	for name := range site.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Scores fetches the probability pairs of models for up to MaxBatch revisions; extra ids
// are ignored. Revisions the service could not score are absent from the batch.
func (c *Client) Scores(ctx context.Context, revIDs []int64, models ...string) (model.ScoreBatch, error) {
	if len(revIDs) > MaxBatch {
		revIDs = revIDs[:MaxBatch]
	}
	batch := model.ScoreBatch{}
	if len(revIDs) == 0 {
		return batch, nil
	}

	ids := make([]string, len(revIDs))
	for i, id := range revIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	q := url.Values{
		"models": {strings.Join(models, "|")},
		"revids": {strings.Join(ids, "|")},
	}

	var resp map[string]wikiScores
	if err := c.http.GetJSON(ctx, c.endpoint(), q, &resp); err != nil {
		return nil, fmt.Errorf("ores: scores for %d revisions: %w", len(revIDs), err)
	}
	site, ok := resp[c.wiki]
	if !ok {
		return nil, fmt.Errorf("ores: wiki %s missing from response", c.wiki)
	}

	for rawID, byModel := range site.Scores {
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			continue
		}
		for name, s := range byModel {
			if s.Error != nil {
				c.log.Debug("revision not scored", "revision", id, "model", name, "error", s.Error.Message)
				continue
			}
			if s.Score == nil {
				continue
			}
			if batch[id] == nil {
				batch[id] = map[string]model.Probability{}
			}
			batch[id][name] = model.Probability{
				True:  s.Score.Probability["true"],
				False: s.Score.Probability["false"],
			}
		}
	}
	return batch, nil
}
