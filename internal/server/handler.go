package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"camstream/internal/backend"
	"camstream/internal/camera"
	"camstream/internal/platform/logger"
	"camstream/internal/platform/metrics"
)

const (
	msgNotConfigured = "No camera settings found. Please configure your camera first."
	msgStopped       = "Stream stopped"
	msgSaved         = "Settings saved successfully"

	maxFormBytes = 1 << 20
)

// Handler exposes the stream backend HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
	hlsDir  string
}

// NewHandler returns a Handler serving segments from hlsDir.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, hlsDir string, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m, hlsDir: hlsDir}
}

// Routes builds the backend router with request IDs, access logging and
// request metrics.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestID)
	r.Use(logger.RequestLogger(h.log))
	if h.metrics != nil {
		r.Use(metrics.RequestMiddleware(h.metrics, "/metrics"))
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler(func() {
			h.metrics.SetActiveStreams(h.svc.ActiveStreams())
		}))
	}

	r.Post(backend.PathStartStream, h.StartStream)
	r.Post(backend.PathStopStream, h.StopStream)
	r.Post(backend.PathSaveSettings, h.SaveSettings)
	r.Get(backend.PathSettings, h.GetSettings)
	r.Handle("/hls/*", h.HLS())
	return r
}

// StartStream handles POST /start_stream. Form: stream_type=main|sub.
func (h *Handler) StartStream(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, backend.StartResponse{Message: "Error: " + err.Error()})
		return
	}
	raw := r.PostForm.Get(backend.FieldStreamType)
	if raw == "" {
		raw = camera.VariantMain.String()
	}
	variant, err := camera.ParseVariant(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, backend.StartResponse{Message: "Error: " + err.Error()})
		return
	}

	info, err := h.svc.StartStream(r.Context(), variant)
	switch {
	case errors.Is(err, ErrNotConfigured):
		writeJSON(w, http.StatusBadRequest, backend.StartResponse{Message: msgNotConfigured})
		return
	case err != nil:
		h.log.Error("start stream failed",
			slog.String("variant", variant.String()),
			slog.String("error", err.Error()),
			slog.String("request_id", logger.GetRequestID(r.Context())))
		writeJSON(w, http.StatusInternalServerError, backend.StartResponse{Message: "Error: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, backend.StartResponse{
		Success:   true,
		StreamURL: info.PlaylistURL,
		SessionID: info.SessionID,
	})
}

// StopStream handles POST /stop_stream.
func (h *Handler) StopStream(w http.ResponseWriter, r *http.Request) {
	h.svc.StopStream()
	writeJSON(w, http.StatusOK, backend.StatusResponse{Success: true, Message: msgStopped})
}

// SaveSettings handles POST /save_settings with a multipart or urlencoded
// settings form.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeJSON(w, http.StatusBadRequest, backend.StatusResponse{Message: "Error: " + err.Error()})
		return
	}

	settings := camera.SettingsFromForm(r.PostForm)
	if err := h.svc.SaveSettings(r.Context(), settings); err != nil {
		if isValidation(err) {
			writeJSON(w, http.StatusBadRequest, backend.StatusResponse{Message: strings.ReplaceAll(err.Error(), "\n", "; ")})
			return
		}
		h.log.Error("save settings failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, backend.StatusResponse{Message: "Error: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, backend.StatusResponse{Success: true, Message: msgSaved})
}

// GetSettings handles GET /settings. The password is never returned.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, ok, err := h.svc.Settings(r.Context())
	if err != nil {
		h.log.Error("load settings failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		settings = camera.DefaultSettings()
	}
	writeJSON(w, http.StatusOK, backend.SettingsResponse{Configured: ok, Settings: settings})
}

// HLS serves playlists and segments from the output directory. Responses
// are never cached; the playlist changes every segment. Directories are
// not listed.
func (h *Handler) HLS() http.Handler {
	files := http.StripPrefix("/hls/", http.FileServer(filesOnly{http.Dir(h.hlsDir)}))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		switch {
		case strings.HasSuffix(r.URL.Path, ".m3u8"):
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		case strings.HasSuffix(r.URL.Path, ".ts"):
			w.Header().Set("Content-Type", "video/mp2t")
		}
		files.ServeHTTP(w, r)
	})
}

// filesOnly hides directories from http.FileServer.
type filesOnly struct {
	http.FileSystem
}

func (fs filesOnly) Open(name string) (http.File, error) {
	f, err := fs.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

func parseForm(w http.ResponseWriter, r *http.Request) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		return r.ParseMultipartForm(maxFormBytes)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	return r.ParseForm()
}

func isValidation(err error) bool {
	for _, target := range []error{
		camera.ErrMissingIP, camera.ErrInvalidIP, camera.ErrInvalidPort,
		camera.ErrInvalidChannel, camera.ErrMissingPath, camera.ErrOrphanPassword,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
