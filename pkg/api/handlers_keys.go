package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// defaultKeyTTL applies when the creation request names no expiry.
const defaultKeyTTL = 24 * time.Hour

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label     string `json:"label"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	body.Label = strings.TrimSpace(body.Label)
	if body.Label == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}

	ttl := defaultKeyTTL
	if body.ExpiresIn != 0 {
		if body.ExpiresIn < 0 {
			writeError(w, http.StatusBadRequest, "expires_in must be a positive number of seconds")
			return
		}
		ttl = time.Duration(body.ExpiresIn) * time.Second
	}

	id, plaintext, err := s.keys.Create(body.Label, ttl)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "key store unavailable")
		return
	}

	// The plaintext appears here and nowhere else.
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"key":        plaintext,
		"id":         id,
		"prefix":     plaintext[:8],
		"label":      body.Label,
		"expires_at": time.Now().UTC().Add(ttl).Format(time.RFC3339),
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.List()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "key store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return
	}

	if !s.keys.Revoke(id) {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
