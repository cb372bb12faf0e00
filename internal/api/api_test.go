package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sprite-ai/pendingbot/internal/bot"
	"github.com/sprite-ai/pendingbot/internal/engine"
	"github.com/sprite-ai/pendingbot/internal/model"
)

var ts0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeEvaluator approves every revision of "Kissa" and fails for anything else.
type fakeEvaluator struct{}

func (fakeEvaluator) Evaluate(ctx context.Context, title string, observers ...engine.Observer) (*bot.PageResult, error) {
	if title != "Kissa" {
		return nil, errors.New("page not found upstream")
	}
	revs := []model.Revision{
		{ID: 11, ParentID: 10, User: "KissaBot", Timestamp: ts0},
		{ID: 12, ParentID: 11, User: "Alice", Timestamp: ts0.Add(time.Hour)},
	}
	out := &engine.Outcome{Title: title}
	for _, rev := range revs {
		reason := model.ReasonBot
		if rev.User == "Alice" {
			reason = model.ReasonNoChange
		}
		v := model.Verdict{Revision: rev, Reason: reason}
		for _, o := range observers {
			o.Verdict(title, v)
		}
		out.Verdicts = append(out.Verdicts, v)
		out.Records = append(out.Records, model.ApprovalRecord{Revision: rev, Reason: reason})
		out.LatestApproved = rev.ID
	}
	return &bot.PageResult{Title: title, Outcome: out, Comment: "Approved revisions 11, 12"}, nil
}

func newTestServer() *Server {
	return New(":0", fakeEvaluator{})
}

func post(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func strp(s string) *string { return &s }

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
	if resp["evaluation"] != true {
		t.Errorf("expected evaluation enabled, got %v", resp["evaluation"])
	}
}

func TestClassifyEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		req      classifyRequest
		result   string
		reason   string
		approved bool
	}{
		{
			name:     "whitespace only",
			req:      classifyRequest{Parent: strp("Kissa on eläin."), Old: strp("  kissa on eläin.\n"), Latest: strp("Kissa on eläin.")},
			result:   "nochange",
			reason:   "nochange",
			approved: true,
		},
		{
			name:     "interwiki link added",
			req:      classifyRequest{Parent: strp("Kissa."), Old: strp("Kissa.\n[[en:Cat]]"), Latest: strp("Kissa.")},
			result:   "interwiki",
			reason:   "interwiki",
			approved: true,
		},
		{
			name:   "replaced text",
			req:    classifyRequest{Parent: strp("alpha beta"), Old: strp("gamma delta"), Latest: strp("epsilon")},
			result: "unresolved",
			reason: "",
		},
	}

	srv := newTestServer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, srv, "/api/classify", tt.req)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			var resp classifyResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("json decode: %v", err)
			}
			if resp.Result != tt.result {
				t.Errorf("result = %q, want %q", resp.Result, tt.result)
			}
			if resp.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", resp.Reason, tt.reason)
			}
			if resp.Approved != tt.approved {
				t.Errorf("approved = %v, want %v", resp.Approved, tt.approved)
			}
		})
	}
}

func TestClassifyReturnsDiff(t *testing.T) {
	srv := newTestServer()
	w := post(t, srv, "/api/classify", classifyRequest{
		Title:  "Kissa",
		Parent: strp("one\ntwo\n"),
		Old:    strp("one\nthree\n"),
		Latest: strp("one\nthree\n"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp classifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if !strings.Contains(resp.Diff, "+three") {
		t.Errorf("expected diff to add three, got %q", resp.Diff)
	}
	if resp.Stats.Added != 1 || resp.Stats.Deleted != 1 {
		t.Errorf("expected 1/1 lines, got %d/%d", resp.Stats.Added, resp.Stats.Deleted)
	}
	if len(resp.Words.Survived) != 1 || resp.Words.Survived[0] != "three" {
		t.Errorf("expected three to survive, got %v", resp.Words.Survived)
	}
}

func TestClassifyWordsFollowVerdict(t *testing.T) {
	srv := newTestServer()
	w := post(t, srv, "/api/classify", classifyRequest{
		Parent: strp("a b"),
		Old:    strp("a b [[x]]"),
		Latest: strp("x"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp classifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.Result != "wordtest2" {
		t.Fatalf("expected wordtest2, got %s", resp.Result)
	}
	if len(resp.Words.Survived) != 1 || resp.Words.Survived[0] != "x" {
		t.Errorf("expected x to survive, got %v", resp.Words.Survived)
	}
}

func TestClassifyMissingText(t *testing.T) {
	srv := newTestServer()
	w := post(t, srv, "/api/classify", classifyRequest{Parent: strp(""), Old: strp("x")})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestClassifyInvalidJSON(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/classify", strings.NewReader("{bad json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCommentEndpoint(t *testing.T) {
	srv := newTestServer()
	records := []model.ApprovalRecord{
		{Revision: model.Revision{ID: 1, User: "Alice"}, Reason: model.ReasonBot},
		{Revision: model.Revision{ID: 2, User: "Bob"}, Reason: model.ReasonBot},
		{Revision: model.Revision{ID: 3, User: "Alice"}, Reason: model.ReasonORES},
	}
	w := post(t, srv, "/api/comment", commentRequest{Records: records})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp commentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	want := "Approved revisions 1, 2, 3 from users Alice and Bob using rules bot and ores"
	if resp.Comment != want {
		t.Errorf("comment = %q, want %q", resp.Comment, want)
	}
	if resp.Length != len(want) {
		t.Errorf("length = %d, want %d", resp.Length, len(want))
	}
}

func TestCommentNoRecords(t *testing.T) {
	srv := newTestServer()
	w := post(t, srv, "/api/comment", commentRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	srv := newTestServer()
	w := post(t, srv, "/api/evaluate", evaluateRequest{Title: "Kissa"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res bot.PageResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if res.Outcome == nil || res.Outcome.LatestApproved != 12 {
		t.Errorf("expected revision 12 approved, got %+v", res.Outcome)
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		name string
		srv  *Server
		body evaluateRequest
		code int
	}{
		{"missing title", newTestServer(), evaluateRequest{}, http.StatusBadRequest},
		{"upstream failure", newTestServer(), evaluateRequest{Title: "Koira"}, http.StatusBadGateway},
		{"not configured", New(":0", nil), evaluateRequest{Title: "Kissa"}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, tt.srv, "/api/evaluate", tt.body)
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, w.Code)
			}
		})
	}
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("ws read session: %v", err)
	}
	if hello.Type != wsMsgSession {
		t.Fatalf("expected 'session' message, got %q", hello.Type)
	}
	var sess wsSessionResponse
	if err := json.Unmarshal(hello.Data, &sess); err != nil || sess.ID == "" {
		t.Fatalf("expected session id, got %s", hello.Data)
	}
	return conn
}

func TestWebSocketEvaluateStreamsVerdicts(t *testing.T) {
	conn := dialWS(t, newTestServer())

	data, _ := json.Marshal(wsEvaluate{Title: "Kissa"})
	if err := conn.WriteJSON(wsMessage{Type: wsMsgEvaluate, Data: data}); err != nil {
		t.Fatalf("ws write: %v", err)
	}

	var ids []int64
	for i := 0; i < 2; i++ {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ws read verdict: %v", err)
		}
		if msg.Type != wsMsgVerdict {
			t.Fatalf("expected 'verdict' message, got %q", msg.Type)
		}
		var v wsVerdictResponse
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			t.Fatalf("unmarshal verdict: %v", err)
		}
		if !strings.HasPrefix(v.Line, "OK\t") {
			t.Errorf("expected OK line, got %q", v.Line)
		}
		ids = append(ids, v.Verdict.Revision.ID)
	}
	if ids[0] != 11 || ids[1] != 12 {
		t.Errorf("expected verdicts for 11 then 12, got %v", ids)
	}

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ws read outcome: %v", err)
	}
	if msg.Type != wsMsgOutcome {
		t.Fatalf("expected 'outcome' message, got %q", msg.Type)
	}
	var res bot.PageResult
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if res.Comment == "" {
		t.Error("expected a comment in the outcome")
	}
}

func TestWebSocketErrors(t *testing.T) {
	conn := dialWS(t, newTestServer())

	data, _ := json.Marshal(wsEvaluate{Title: "Koira"})
	sends := []wsMessage{
		{Type: wsMsgEvaluate, Data: data},
		{Type: "approve"},
		{Type: wsMsgEvaluate, Data: json.RawMessage(`{}`)},
	}
	for _, m := range sends {
		if err := conn.WriteJSON(m); err != nil {
			t.Fatalf("ws write: %v", err)
		}
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ws read: %v", err)
		}
		if msg.Type != wsMsgError {
			t.Errorf("%s: expected 'error' message, got %q", m.Type, msg.Type)
		}
	}
}
