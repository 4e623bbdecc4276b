// Package api exposes the relay's local surface: the tab-client websocket
// channel, a status endpoint, and management of named room saves.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quizparty/relay/lib/logger"
	"github.com/quizparty/relay/lib/saves"
	"github.com/quizparty/relay/lib/session"
)

type ApiService struct {
	relay *session.Relay
	saves *saves.Store
}

func New(relay *session.Relay, store *saves.Store) *ApiService {
	return &ApiService{relay: relay, saves: store}
}

// Routes mounts the service on a chi router.
func (s *ApiService) Routes(r chi.Router) {
	r.Get("/v1/tab", s.HandleTabSocket)
	r.Get("/v1/status", s.HandleStatus)
	r.Get("/v1/saves", s.HandleListSaves)
	r.Get("/v1/saves/{name}", s.HandleGetSave)
	r.Delete("/v1/saves/{name}", s.HandleDeleteSave)
}

func (s *ApiService) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.relay.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *ApiService) HandleListSaves(w http.ResponseWriter, r *http.Request) {
	metas, err := s.saves.List()
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list saves", "err", err)
		http.Error(w, "failed to list saves", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func (s *ApiService) HandleGetSave(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, err := s.saves.Get(name)
	if err != nil {
		if errors.Is(err, saves.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		logger.FromContext(r.Context()).Error("failed to read save", "name", name, "err", err)
		http.Error(w, "failed to read save", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *ApiService) HandleDeleteSave(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.saves.Delete(name); err != nil {
		if errors.Is(err, saves.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		logger.FromContext(r.Context()).Error("failed to delete save", "name", name, "err", err)
		http.Error(w, "failed to delete save", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
