package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sprite-ai/pendingbot/internal/engine"
	"github.com/sprite-ai/pendingbot/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 16,
	WriteBufferSize: 1024 * 64,
	CheckOrigin: func(r *http.Request) bool {
		return true // local tooling only; put a proxy in front for anything else
	},
}

// WebSocket message types from client.
const (
	wsMsgEvaluate = "evaluate"
)

// WebSocket message types to client.
const (
	wsMsgSession = "session"
	wsMsgVerdict = "verdict"
	wsMsgOutcome = "outcome"
	wsMsgError   = "error"
)

// wsMessage is the envelope for WebSocket messages in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsEvaluate is the payload for "evaluate" messages.
type wsEvaluate struct {
	Title string `json:"title"`
}

// wsSessionResponse is sent once after the upgrade.
type wsSessionResponse struct {
	ID string `json:"id"`
}

// wsVerdictResponse is streamed for each revision as the cascade runs.
type wsVerdictResponse struct {
	Title   string        `json:"title"`
	Verdict model.Verdict `json:"verdict"`
	Line    string        `json:"line"`
}

// evalSession holds the state for a WebSocket evaluation session.
type evalSession struct {
	id    string
	conn  *websocket.Conn
	log   *slog.Logger
	pages int
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	session := &evalSession{id: uuid.NewString(), conn: conn}
	session.log = s.log.With("session", session.id)
	session.log.Debug("websocket session opened")
	session.send(wsMsgSession, wsSessionResponse{ID: session.id})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				session.log.Warn("websocket read failed", "error", err)
			}
			session.log.Debug("websocket session closed", "pages", session.pages)
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			session.sendError("invalid message format")
			continue
		}

		switch msg.Type {
		case wsMsgEvaluate:
			s.handleWSEvaluate(r, session, msg.Data)
		default:
			session.sendError("unknown message type: " + msg.Type)
		}
	}
}

func (s *Server) handleWSEvaluate(r *http.Request, session *evalSession, data json.RawMessage) {
	if s.eval == nil {
		session.sendError("evaluation is not configured")
		return
	}

	var req wsEvaluate
	if err := json.Unmarshal(data, &req); err != nil {
		session.sendError("invalid evaluate data")
		return
	}
	if req.Title == "" {
		session.sendError("title is required")
		return
	}

	session.pages++
	stream := engine.ObserverFunc(func(title string, v model.Verdict) {
		session.send(wsMsgVerdict, wsVerdictResponse{Title: title, Verdict: v, Line: v.String()})
	})

	res, err := s.eval.Evaluate(r.Context(), req.Title, stream)
	if err != nil {
		session.log.Error("evaluation failed", "page", req.Title, "error", err)
		session.sendError("evaluating page: " + err.Error())
		return
	}
	session.send(wsMsgOutcome, res)
}

func (es *evalSession) send(msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		es.log.Error("ws marshal failed", "error", err)
		return
	}
	msg := wsMessage{Type: msgType, Data: raw}
	if err := es.conn.WriteJSON(msg); err != nil {
		es.log.Warn("ws write failed", "error", err)
	}
}

func (es *evalSession) sendError(errMsg string) {
	es.send(wsMsgError, map[string]string{"message": errMsg})
}
