// Session inspection endpoints. These operate on the live store; the sqlite
// snapshots exist for post-hoc inspection, not for serving.
package gateway

import (
	"net/http"
	"sort"

	"github.com/rs/zerolog/log"
)

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.store.List()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastAccessedAt.After(sessions[j].LastAccessedAt)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   sessions,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	fingerprint := r.PathValue("fingerprint")
	sess, ok := s.store.Get(fingerprint)
	if !ok {
		writeError(w, http.StatusNotFound, ErrTypeInvalidRequest,
			"session_not_found", "no session for that fingerprint")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	fingerprint := r.PathValue("fingerprint")
	if err := s.store.Delete(fingerprint); err != nil {
		writeError(w, http.StatusNotFound, ErrTypeInvalidRequest,
			"session_not_found", "no session for that fingerprint")
		return
	}
	if err := s.audit.DeleteSession(r.Context(), fingerprint); err != nil {
		log.Warn().Err(err).Msg("audit session delete")
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "fingerprint": fingerprint})
}
