package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/abenov/faq/internal/lang"
	"github.com/abenov/faq/internal/service"
)

type handlers struct {
	svc         *service.AskService
	logger      *slog.Logger
	reloadModel func() error
}

type askRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type askResponse struct {
	Answer            string  `json:"answer"`
	AnswerID          string  `json:"answer_id,omitempty"`
	Language          string  `json:"language"`
	Score             float64 `json:"score"`
	FollowUp          bool    `json:"followup"`
	RewrittenQuestion string  `json:"rewritten_question,omitempty"`
	ConversationID    string  `json:"conversation_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ask runs one question through the pipeline. Upstream failures answer
// with a per-language apology at 200: the chat client renders whatever it
// gets, so this is the failure mode users actually see.
func (h *handlers) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required"})
		return
	}

	resp, err := h.svc.Ask(r.Context(), service.Request{
		ConversationID: req.ConversationID,
		Text:           req.Question,
	})
	if err != nil {
		h.logger.Error("ask failed",
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
		l := lang.Detect(req.Question)
		writeJSON(w, http.StatusOK, askResponse{
			Answer:         lang.Apology(l),
			Language:       string(l),
			ConversationID: req.ConversationID,
		})
		return
	}

	out := askResponse{
		Answer:         resp.Answer,
		AnswerID:       resp.AnswerID,
		Language:       string(resp.Lang),
		Score:          resp.Score,
		FollowUp:       resp.Rewritten,
		ConversationID: req.ConversationID,
	}
	if resp.Rewritten {
		out.RewrittenQuestion = resp.ResolvedQuery
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) clearConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "conversation id is required"})
		return
	}
	if err := h.svc.ClearConversation(r.Context(), id); err != nil {
		h.logger.Error("clearing conversation", "error", err, "conversation_id", id)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to clear conversation"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	if h.reloadModel == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "service is not running with the learned ranking model"})
		return
	}
	if err := h.reloadModel(); err != nil {
		h.logger.Error("model reload failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "model reload failed"})
		return
	}
	h.logger.Info("ranking model reloaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
