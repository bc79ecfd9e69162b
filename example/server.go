package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func newRouter(h *host) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/status", h.handleStatus)
	r.Get("/logs", h.handleLogs)
	r.Route("/entities", func(r chi.Router) {
		r.Get("/", h.handleListEntities)
		r.Post("/", h.handleSpawn)
		r.Delete("/{id}", h.handleDestroy)
	})
	r.Put("/simulating/{mode}", h.handleSimulating)
	return r
}

func (h *host) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := h.session.Status()
	etag := report.ETag()
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *host) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Logs().GetData())
}

func (h *host) handleListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *host) handleSpawn(w http.ResponseWriter, r *http.Request) {
	id := h.spawn()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *host) handleDestroy(w http.ResponseWriter, r *http.Request) {
	if !h.destroy(chi.URLParam(r, "id")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown entity"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *host) handleSimulating(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "mode") {
	case "on":
		h.flags.SetSimulating(true)
	case "off":
		h.flags.SetSimulating(false)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be on or off"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"simulating": h.flags.Simulating()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
