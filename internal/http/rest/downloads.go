package rest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/game_downloader/internal/downloader"
	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/storage"
)

const maxRequestBody = 64 * 1024

var errOutsideDownloadDir = errors.New("destination must stay inside the download directory")

// Engine is the command surface of the download manager.
type Engine interface {
	Start(req downloader.Request) (string, error)
	Pause(id string)
	Resume(id string)
	Cancel(id string)
	Get(id string) (downloader.Snapshot, bool)
	List() []downloader.Snapshot
	Drop(id string) bool
}

// DownloadsHandler exposes the download manager over HTTP.
type DownloadsHandler struct {
	engine      Engine
	history     storage.HistoryRepository
	hub         *Hub
	downloadDir string
	username    string
	password    string
}

// NewDownloadsHandler creates the handler. history and hub are optional;
// basic auth is enforced when username is set.
func NewDownloadsHandler(engine Engine, history storage.HistoryRepository, hub *Hub, downloadDir, username, password string) *DownloadsHandler {
	return &DownloadsHandler{
		engine:      engine,
		history:     history,
		hub:         hub,
		downloadDir: filepath.Clean(downloadDir),
		username:    username,
		password:    password,
	}
}

// Routes returns the router serving the download and history endpoints.
func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Route("/downloads", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleStart)
		r.Get("/feed", h.HandleFeed)
		r.Get("/{id}", h.HandleGet)
		r.Post("/{id}/pause", h.HandlePause)
		r.Post("/{id}/resume", h.HandleResume)
		r.Delete("/{id}", h.HandleCancel)
	})

	r.Get("/history", h.HandleHistory)

	return r
}

type startResponse struct {
	ID string `json:"id"`
}

// HandleStart starts a download from a JSON request body.
func (h *DownloadsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req downloader.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	dest, err := h.resolveDest(req.DestPath, req.URL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	req.DestPath = dest

	id, err := h.engine.Start(req)
	switch {
	case errors.Is(err, downloader.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	case errors.Is(err, downloader.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)

		return
	case err != nil:
		logger.Error("failed to start download", "err", err)
		http.Error(w, "failed to start download", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusCreated, startResponse{ID: id})
}

func (h *DownloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.List())
}

func (h *DownloadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.engine.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "download not found", http.StatusNotFound)

		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *DownloadsHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.engine.Pause)
}

func (h *DownloadsHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.engine.Resume)
}

// HandleCancel cancels a download; with ?drop=true the record is also
// forgotten.
func (h *DownloadsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	drop, _ := strconv.ParseBool(r.URL.Query().Get("drop"))
	if !drop {
		h.command(w, r, h.engine.Cancel)

		return
	}

	if _, ok := h.engine.Get(id); !ok {
		http.Error(w, "download not found", http.StatusNotFound)

		return
	}

	h.engine.Cancel(id)

	if !h.engine.Drop(id) {
		http.Error(w, "download is still active", http.StatusConflict)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// command runs an idempotent command and answers with the resulting state.
func (h *DownloadsHandler) command(w http.ResponseWriter, r *http.Request, fn func(id string)) {
	id := chi.URLParam(r, "id")

	if _, ok := h.engine.Get(id); !ok {
		http.Error(w, "download not found", http.StatusNotFound)

		return
	}

	fn(id)

	snap, _ := h.engine.Get(id)
	writeJSON(w, http.StatusAccepted, snap)
}

func (h *DownloadsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		limit = n
	}

	if h.history == nil {
		writeJSON(w, http.StatusOK, []storage.HistoryEntry{})

		return
	}

	entries, err := h.history.ListHistory(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list history", "err", err)
		http.Error(w, "failed to list history", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *DownloadsHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "feed is not available", http.StatusNotFound)

		return
	}

	h.hub.serve(w, r, h.engine.List())
}

// resolveDest maps a requested destination onto the download directory.
// Relative paths are joined under it, an empty path takes the URL's file
// name, and anything resolving outside it is rejected.
func (h *DownloadsHandler) resolveDest(dest, rawURL string) (string, error) {
	if dest == "" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", errors.New("invalid url")
		}

		dest = path.Base(u.Path)
		if dest == "/" || dest == "." {
			return "", errors.New("destPath is required when the url has no file name")
		}
	}

	if !filepath.IsAbs(dest) {
		dest = filepath.Join(h.downloadDir, dest)
	}

	dest = filepath.Clean(dest)

	rel, err := filepath.Rel(h.downloadDir, dest)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideDownloadDir
	}

	return dest, nil
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="game_downloader"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1

		if !userOK || !passOK {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
