package comment

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/sprite-ai/pendingbot/internal/model"
)

func rec(id int64, user string, reason model.Reason) model.ApprovalRecord {
	return model.ApprovalRecord{Revision: model.Revision{ID: id, User: user}, Reason: reason}
}

func TestCompose(t *testing.T) {
	longUser := strings.Repeat("x", 60)
	var many []model.ApprovalRecord
	for i := int64(0); i < 30; i++ {
		many = append(many, rec(1000000+i, "KissaBot", model.ReasonBot))
	}
	scores := model.ScoreBatch{101: {"goodfaith": {True: 0.973, False: 0.027}}}

	tests := []struct {
		name    string
		records []model.ApprovalRecord
		want    string
	}{
		{
			name:    "nothing approved",
			records: nil,
			want:    "",
		},
		{
			name: "three revisions two users two rules",
			records: []model.ApprovalRecord{
				rec(1, "Alice", model.ReasonBot),
				rec(2, "Bob", model.ReasonORES),
				rec(3, "Alice", model.ReasonBot),
			},
			want: "Approved revisions 1, 2, 3 from users Alice and Bob using rules bot and ores",
		},
		{
			name:    "two revisions one user",
			records: []model.ApprovalRecord{rec(5, "A", model.ReasonBot), rec(6, "A", model.ReasonBot)},
			want:    "Approved revisions 5 and 6 from user A using rule bot",
		},
		{
			name: "three rules keep first appearance order",
			records: []model.ApprovalRecord{
				rec(7, "A", model.ReasonWordTest2),
				rec(8, "B", model.ReasonPatrolled),
				rec(9, "C", model.ReasonNoChange),
			},
			want: "Approved revisions 7, 8, 9 from users A, B, C using rules wordtest2, patrolled, nochange",
		},
		{
			name: "users dropped when too long",
			records: []model.ApprovalRecord{
				rec(1, longUser+"1", model.ReasonAutoreview),
				rec(2, longUser+"2", model.ReasonAutoreview),
				rec(3, longUser+"3", model.ReasonAutoreview),
			},
			want: "Approved revisions 1, 2, 3 using rule autoreview",
		},
		{
			name:    "count only when ids are too long",
			records: many,
			want:    "Approved 30 revisions using rule bot",
		},
		{
			name:    "single score approval carries probabilities",
			records: []model.ApprovalRecord{rec(101, "Alice", model.ReasonORES)},
			want:    "Approved revision 101 from user Alice using rule ores goodfaith (t/f: 0.97/0.03)",
		},
		{
			name:    "score suffix survives a shortened summary",
			records: []model.ApprovalRecord{rec(101, strings.Repeat("y", 110), model.ReasonORES)},
			want:    "Approved revision 101 using rule ores goodfaith (t/f: 0.97/0.03)",
		},
		{
			name:    "missing score leaves no suffix",
			records: []model.ApprovalRecord{rec(102, "Alice", model.ReasonORES)},
			want:    "Approved revision 102 from user Alice using rule ores",
		},
		{
			name:    "usernames are trimmed",
			records: []model.ApprovalRecord{rec(4, " Alice ", model.ReasonFormerBot)},
			want:    "Approved revision 4 from user Alice using rule formerbot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compose(tt.records, scores)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, utf8.RuneCountInString(got), MaxLength)
		})
	}
}

func TestComposeBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	allReasons := []model.Reason{
		model.ReasonBot, model.ReasonAutoreview, model.ReasonFormerBot, model.ReasonPatrolled,
		model.ReasonReverted, model.ReasonRevert, model.ReasonORES, model.ReasonNoChange,
		model.ReasonInterwiki, model.ReasonWordTest2,
	}

	properties.Property("summary never exceeds the limit", prop.ForAll(
		func(users []string, n int, firstID int64) bool {
			if len(users) == 0 {
				return Compose(nil, nil) == ""
			}
			var records []model.ApprovalRecord
			for i := 0; i < n; i++ {
				records = append(records, rec(firstID+int64(i), users[i%len(users)], allReasons[i%len(allReasons)]))
			}
			scores := model.ScoreBatch{firstID: {"goodfaith": {True: 0.5, False: 0.5}}}
			return utf8.RuneCountInString(Compose(records, scores)) <= MaxLength
		},
		gen.SliceOf(gen.UnicodeString(unicode.L)),
		gen.IntRange(1, 80),
		gen.Int64Range(1, 1<<40),
	))

	properties.Property("single revision approvals name the user when it fits", prop.ForAll(
		func(user string, id int64) bool {
			got := Compose([]model.ApprovalRecord{rec(id, user, model.ReasonBot)}, nil)
			return strings.Contains(got, "from user "+user)
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 && len(s) < 60 }),
		gen.Int64Range(1, 1<<40),
	))

	properties.TestingRun(t)
}
