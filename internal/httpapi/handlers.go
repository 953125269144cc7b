// Package httpapi exposes the Coordinator's put/get/sync/gc/stats
// operations over a small chi-routed admin HTTP surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dsjohal14/jdb/internal/jdb"
	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
)

// Router builds the admin HTTP handler around coord.
func Router(coord *jdb.Coordinator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := &handler{coord: coord}
	r.Get("/healthz", h.health)
	r.Get("/stats", h.stats)
	r.Post("/sync", h.sync)
	r.Post("/gc/step", h.gcStep)
	r.Put("/keys/{key}", h.put)
	r.Get("/keys/{key}", h.get)
	r.Delete("/keys/{key}", h.delete)
	return r
}

type handler struct {
	coord *jdb.Coordinator
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	s := h.coord.Stats()
	writeJSON(w, http.StatusOK, StatsResponse{
		WalID:       s.WalID,
		Offset:      s.Offset,
		LiveKeys:    s.LiveKeys,
		ExternalIDs: s.ExternalIDs,
	})
}

func (h *handler) sync(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Sync(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *handler) gcStep(w http.ResponseWriter, r *http.Request) {
	result, err := h.coord.GCStep()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GCStepResponse{
		WalID:     result.WalID,
		State:     int(result.State),
		Scanned:   result.Scanned,
		Rewritten: result.Rewritten,
		Dead:      result.Dead,
		Done:      result.Done,
	})
}

func (h *handler) put(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req PutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	pos, err := h.coord.Put([]byte(key), req.Value)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PutResponse{WalID: pos.WalID, Offset: pos.Offset, TotalLen: pos.TotalLen})
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := h.coord.ReadValue([]byte(key))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GetResponse{Value: value})
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, err := h.coord.PutTombstone([]byte(key)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var je *jdberr.Error
	if errors.As(err, &je) {
		switch je.Code {
		case jdberr.Missing:
			status = http.StatusNotFound
		case jdberr.InvalidArgument, jdberr.Alignment:
			status = http.StatusBadRequest
		case jdberr.Locked:
			status = http.StatusConflict
		case jdberr.OutOfSpace, jdberr.Corrupt, jdberr.Io:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}
