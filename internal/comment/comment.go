// Package comment builds the review summary attached to an automatic approval.
package comment

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sprite-ai/pendingbot/internal/config"
	"github.com/sprite-ai/pendingbot/internal/model"
)

// MaxLength is the longest summary Compose returns, in characters.
const MaxLength = 150

// Compose summarises the approved revisions: which revisions, by whom and under which rules.
// Longer forms are dropped in favour of shorter ones until the summary fits MaxLength. When a
// single revision was approved on its ML score, the goodfaith probabilities are appended.
func Compose(records []model.ApprovalRecord, scores model.ScoreBatch) string {
	if len(records) == 0 {
		return ""
	}

	var revs, users, rules []string
	seenRev := map[int64]bool{}
	seenUser := map[string]bool{}
	seenRule := map[model.Reason]bool{}
	usedScore := false
	for _, r := range records {
		if !seenRev[r.Revision.ID] {
			seenRev[r.Revision.ID] = true
			revs = append(revs, strconv.FormatInt(r.Revision.ID, 10))
		}
		if u := strings.TrimSpace(r.Revision.User); !seenUser[u] {
			seenUser[u] = true
			users = append(users, u)
		}
		if !seenRule[r.Reason] {
			seenRule[r.Reason] = true
			rules = append(rules, r.Reason.String())
		}
		if r.Reason == model.ReasonORES {
			usedScore = true
		}
	}

	suffix := ""
	if len(revs) == 1 && usedScore {
		if p, ok := scores.Lookup(records[0].Revision.ID, config.GoodfaithModel); ok {
			suffix = fmt.Sprintf(" goodfaith (t/f: %.2f/%.2f)", p.True, p.False)
		}
	}
	budget := MaxLength - utf8.RuneCountInString(suffix)

	revNoun := plural(len(revs), "revision")
	ruleList := plural(len(rules), "rule") + " " + join(rules)
	candidates := []string{
		fmt.Sprintf("Approved %s %s from %s %s using %s", revNoun, join(revs), plural(len(users), "user"), join(users), ruleList),
		fmt.Sprintf("Approved %s %s using %s", revNoun, join(revs), ruleList),
		fmt.Sprintf("Approved %d %s using %s", len(revs), revNoun, ruleList),
	}

	summary := candidates[len(candidates)-1]
	for _, c := range candidates {
		if utf8.RuneCountInString(c) <= budget {
			summary = c
			break
		}
	}
	return truncate(summary, budget) + suffix
}

func plural(n int, noun string) string {
	if n > 1 {
		return noun + "s"
	}
	return noun
}

// join uses " and " between exactly two items and ", " otherwise.
func join(items []string) string {
	if len(items) == 2 {
		return items[0] + " and " + items[1]
	}
	return strings.Join(items, ", ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:n]), " ,")
}
