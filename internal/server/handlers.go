package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mentora-ai/mentora/internal/session"
	"github.com/mentora-ai/mentora/internal/supervisor"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getSyllabus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"topics": s.syllabus.Topics()})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"learners": s.sup.ActiveIDs()})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")

	sess, err := s.sup.Lookup(learnerID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no live session for learner")
		return
	}

	view, err := sess.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type messageRequest struct {
	Content string `json:"content"`
}

// postMessage is the message ingress: it resolves the learner's session,
// creating one if needed, enqueues the message and returns immediately.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content required")
		return
	}

	sess, err := s.sup.StartSession(learnerID, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	if err := sess.HandleUserMessage(req.Content); err != nil {
		if errors.Is(err, session.ErrTerminated) {
			writeError(w, http.StatusConflict, ErrCodeRejected, "session terminated")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":  true,
		"sessionID": sess.SessionID(),
	})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")

	if err := s.sup.StopSession(learnerID); err != nil {
		if errors.Is(err, supervisor.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "no live session for learner")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}
