// Package rest exposes the operational HTTP API: search intake, queue
// inspection and the per-item and bulk queue actions.
package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/history"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/logctx"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/pipeline"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/service"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/throttle"
)

type SearchRequest struct {
	Query string `json:"query"`
}

type SearchResponse struct {
	Keys []string `json:"keys"`
}

type ActionResponse struct {
	Affected int `json:"affected"`
}

type Handler struct {
	username string
	password string
	pipeline *pipeline.Pipeline
	history  *history.Repository
	throttle *throttle.Throttle
}

// NewHandler creates the API handler. history may be nil when persistence is
// disabled.
func NewHandler(username, password string, p *pipeline.Pipeline, repo *history.Repository, thr *throttle.Throttle) *Handler {
	return &Handler{
		username: username,
		password: password,
		pipeline: p,
		history:  repo,
		throttle: thr,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	if h.username != "" || h.password != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/api/search", h.HandleSearch)
	r.Get("/api/queue/sizes", h.HandleQueueSizes)
	r.Get("/api/download_queue", h.HandleDownloadQueue)
	r.Post("/api/download_queue/retry_all", h.HandleRetryAll)
	r.Post("/api/download_queue/cancel_all", h.HandleCancelAll)
	r.Post("/api/download_queue/clear_completed", h.HandleClearCompleted)
	r.Post("/api/download_queue/{id}/cancel", h.HandleCancel)
	r.Post("/api/download_queue/{id}/retry", h.HandleRetry)
	r.Delete("/api/download_queue/{id}", h.HandleDelete)
	r.Get("/api/throttle", h.HandleThrottle)
	r.Get("/api/history", h.HandleHistory)

	return r
}

// HandleSearch splits the submitted query into individual inputs and pushes
// each one into the intake stage.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	inputs := service.SplitInput(req.Query)
	if len(inputs) == 0 {
		http.Error(w, "empty query", http.StatusBadRequest)

		return
	}

	keys := make([]string, 0, len(inputs))
	for _, input := range inputs {
		keys = append(keys, h.pipeline.EnqueueIntake(input))
	}

	logger.Info("accepted search request", "inputs", len(inputs))

	writeJSON(w, http.StatusAccepted, SearchResponse{Keys: keys})
}

func (h *Handler) HandleQueueSizes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Stages().Sizes())
}

func (h *Handler) HandleDownloadQueue(w http.ResponseWriter, r *http.Request) {
	items := h.pipeline.Stages().Download.List()
	if items == nil {
		items = []*media.Item{}
	}

	writeJSON(w, http.StatusOK, items)
}

// HandleCancel marks a queued or in-flight item cancelled. The download
// worker observes the flip at the next progress callback.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")
	dq := h.pipeline.Stages().Download

	status, ok := dq.Status(key)
	if !ok {
		http.Error(w, "item not found", http.StatusNotFound)

		return
	}

	if status.Terminal() || status == media.StatusCancelled {
		http.Error(w, fmt.Sprintf("item is %s", status), http.StatusConflict)

		return
	}

	dq.SetStatus(key, media.StatusCancelled)
	logctx.LoggerFromContext(r.Context()).Info("cancelled item", "key", key)

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")
	dq := h.pipeline.Stages().Download

	status, ok := dq.Status(key)
	if !ok {
		http.Error(w, "item not found", http.StatusNotFound)

		return
	}

	if !status.Retryable() {
		http.Error(w, fmt.Sprintf("item is %s", status), http.StatusConflict)

		return
	}

	dq.SetStatus(key, media.StatusWaiting)
	logctx.LoggerFromContext(r.Context()).Info("retrying item", "key", key)

	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes the downloaded file from disk, forgets the history
// record and marks the queue entry deleted.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	key := chi.URLParam(r, "id")
	dq := h.pipeline.Stages().Download

	item, ok := dq.Get(key)
	if !ok {
		http.Error(w, "item not found", http.StatusNotFound)

		return
	}

	if item.Status == media.StatusDownloading {
		http.Error(w, "item is downloading", http.StatusConflict)

		return
	}

	if item.FilePath != "" {
		if err := os.Remove(item.FilePath); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete file", "file", item.FilePath, "err", err)
			http.Error(w, "failed to delete file", http.StatusInternalServerError)

			return
		}
	}

	if h.history != nil {
		if err := h.history.Forget(r.Context(), key); err != nil {
			logger.Error("failed to forget history record", "key", key, "err", err)
		}
	}

	dq.SetStatus(key, media.StatusDeleted)
	dq.SetFilePath(key, "")
	logger.Info("deleted item", "key", key, "file", item.FilePath)

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRetryAll(w http.ResponseWriter, r *http.Request) {
	n := h.pipeline.Stages().Download.ResetRetryable()
	writeJSON(w, http.StatusOK, ActionResponse{Affected: n})
}

// HandleCancelAll aborts the whole pipeline: pending intake and enrichment
// work is discarded, waiting downloads are cancelled.
func (h *Handler) HandleCancelAll(w http.ResponseWriter, r *http.Request) {
	n := h.pipeline.CancelAll()
	writeJSON(w, http.StatusOK, ActionResponse{Affected: n})
}

func (h *Handler) HandleClearCompleted(w http.ResponseWriter, r *http.Request) {
	n := h.pipeline.Stages().Download.PruneFinished()
	writeJSON(w, http.StatusOK, ActionResponse{Affected: n})
}

func (h *Handler) HandleThrottle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.throttle.Stats())
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	if h.history == nil {
		writeJSON(w, http.StatusOK, []history.Record{})

		return
	}

	records, err := h.history.Downloads(r.Context())
	if err != nil {
		logger.Error("failed to list history", "err", err)
		http.Error(w, "failed to list history", http.StatusInternalServerError)

		return
	}

	if records == nil {
		records = []history.Record{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
