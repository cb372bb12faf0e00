package api

import (
	"net/http"

	"github.com/sprite-ai/pendingbot/internal/comment"
	"github.com/sprite-ai/pendingbot/internal/diff"
	"github.com/sprite-ai/pendingbot/internal/engine"
	"github.com/sprite-ai/pendingbot/internal/model"
)

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"evaluation": s.eval != nil,
	})
}

// --- Classify ---

type classifyRequest struct {
	Title  string  `json:"title,omitempty"`
	Parent *string `json:"parent"`
	Old    *string `json:"old"`
	Latest *string `json:"latest"`
}

type classifyResponse struct {
	Result   string        `json:"result"`
	Reason   string        `json:"reason"`
	Approved bool          `json:"approved"`
	Words    diff.WordSets `json:"words"`
	Stats    diffStatsJSON `json:"stats"`
	Diff     string        `json:"diff"`
}

type diffStatsJSON struct {
	Added   int `json:"added"`
	Deleted int `json:"deleted"`
	Hunks   int `json:"hunks"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if req.Parent == nil || req.Old == nil || req.Latest == nil {
		writeError(w, http.StatusBadRequest, "parent, old and latest are required")
		return
	}
	name := req.Title
	if name == "" {
		name = "page"
	}

	ds, err := diff.Between(name, *req.Parent, *req.Old)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "building diff: "+err.Error())
		return
	}

	result := diff.Classify(*req.Parent, *req.Old, *req.Latest)
	reason := engine.ContentReason(result)
	resp := classifyResponse{
		Result:   result.String(),
		Reason:   reason.String(),
		Approved: reason != model.ReasonNone,
		Words:    diff.ContentWords(*req.Parent, *req.Old, *req.Latest),
		Diff:     ds.Raw,
	}
	for _, f := range ds.Files {
		resp.Stats.Added += f.AddedLines
		resp.Stats.Deleted += f.DeletedLines
		resp.Stats.Hunks += len(f.Fragments)
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Comment ---

type commentRequest struct {
	Records []model.ApprovalRecord `json:"records"`
	Scores  model.ScoreBatch       `json:"scores,omitempty"`
}

type commentResponse struct {
	Comment string `json:"comment"`
	Length  int    `json:"length"`
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records are required")
		return
	}

	c := comment.Compose(req.Records, req.Scores)
	writeJSON(w, http.StatusOK, commentResponse{Comment: c, Length: len([]rune(c))})
}

// --- Evaluate ---

type evaluateRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.eval == nil {
		writeError(w, http.StatusServiceUnavailable, "evaluation is not configured")
		return
	}

	var req evaluateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	res, err := s.eval.Evaluate(r.Context(), req.Title)
	if err != nil {
		s.log.Error("evaluation failed", "page", req.Title, "error", err)
		writeError(w, http.StatusBadGateway, "evaluating page: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}
