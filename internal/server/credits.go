package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"promptpix/pkg/domain"
	"promptpix/pkg/store"
)

type initCreditsRequest struct {
	Key     string `json:"key"`
	Credits int    `json:"credits"`
}

type updateCreditsRequest struct {
	Credits int `json:"credits"`
}

func (s *Server) handleInitCredits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req initCreditsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.app.InitCredits(req.Key, req.Credits)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleCreditsByKey serves GET and PUT on /api/credits/{key}.
func (s *Server) handleCreditsByKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/credits/")
	if key == "" || strings.Contains(key, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		rec, ok, err := s.app.GetCredits(key)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "no credit record for key")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		var req updateCreditsRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		rec, err := s.app.UpdateCredits(key, req.Credits)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	default:
		methodNotAllowed(w)
	}
}

type creditPageResponse struct {
	Records    []domain.CreditRecord `json:"records"`
	NextCursor string                `json:"nextCursor,omitempty"`
}

func (s *Server) handleAdminCredits(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	pageSize := 0
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "pageSize must be a positive integer")
			return
		}
		pageSize = n
	}
	records, next, err := s.app.ListCreditRecords(pageSize, r.URL.Query().Get("cursor"))
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, store.ErrInvalidCursor.Error())
			return
		}
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creditPageResponse{Records: records, NextCursor: next})
}
