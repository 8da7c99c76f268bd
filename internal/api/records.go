package api

import (
	"encoding/json"
	"net/http"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/model"
)

const maxJSONBody = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation.Wrap(apperr.ErrMalformedRequest)
	}
	return nil
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, q database.Querier) {
	var u model.UserRecord
	if err := decodeJSON(w, r, &u); err != nil {
		s.respondError(w, err)
		return
	}
	if u.FirebaseID == "" || u.Email == "" || u.Username == "" {
		s.respondError(w, apperr.Validation.Wrap(apperr.ErrMalformedRequest))
		return
	}
	u.ID = 0
	id, err := s.users.InsertUser(r.Context(), q, &u)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, q database.Querier) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	u, err := s.users.FindUserByID(r.Context(), q, id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) handleCreateComposition(w http.ResponseWriter, r *http.Request, q database.Querier) {
	var c model.CompositionRecord
	if err := decodeJSON(w, r, &c); err != nil {
		s.respondError(w, err)
		return
	}
	if c.CreatingUserID == "" {
		s.respondError(w, apperr.Validation.Wrap(apperr.ErrMalformedRequest))
		return
	}
	c.ID = 0
	id, err := s.compositions.InsertComposition(r.Context(), q, &c)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleGetComposition(w http.ResponseWriter, r *http.Request, q database.Querier) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	c, err := s.compositions.FindCompositionByID(r.Context(), q, id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}
