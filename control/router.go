// Package control serves key management and inspection over a Unix socket.
// Keys reach the filesystem through this channel only, never through file
// content.
package control

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/absfs/keyfs"
)

// Engine is the part of the filesystem the control API drives.
type Engine interface {
	Getattr(path string) (keyfs.Attr, error)
	Readdir(path string) ([]string, error)
	SetKey(path string, key []byte) error
	RotateKey(path string, newKey []byte) error
	HasKey(path string) bool
}

var _ Engine = (*keyfs.FS)(nil)

var errBadRequest = errors.New("bad request")

// maxBodySize bounds key request bodies.
const maxBodySize = 4096

type handler struct {
	engine Engine
	logger zerolog.Logger
}

// NewRouter builds the control API. gatherer, when non-nil, is exposed at
// /metrics.
//
// Routes:
//   - PUT  /v1/keys         register a key
//   - POST /v1/keys/rotate  re-encrypt under a new key
//   - GET  /v1/stat?path=   path metadata
//   - GET  /v1/list?path=   directory listing
//   - GET  /healthz         liveness
//   - GET  /metrics         Prometheus exposition
func NewRouter(engine Engine, gatherer prometheus.Gatherer, logger zerolog.Logger) http.Handler {
	h := &handler{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, nil)
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Put("/keys", h.setKey)
		r.Post("/keys/rotate", h.rotateKey)
		r.Get("/stat", h.stat)
		r.Get("/list", h.list)
	})

	return r
}

func (h *handler) setKey(w http.ResponseWriter, r *http.Request) {
	path, key, err := decodeKeyRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer wipe(key)

	if err := h.engine.SetKey(path, key); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info().Str("path", path).Msg("key registered")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) rotateKey(w http.ResponseWriter, r *http.Request) {
	path, key, err := decodeKeyRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer wipe(key)

	if err := h.engine.RotateKey(path, key); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info().Str("path", path).Msg("key rotated")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) stat(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	attr, err := h.engine.Getattr(path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatResult{
		Path:  path,
		Mode:  attr.Mode,
		Nlink: attr.Nlink,
		Size:  attr.Size,
		Mtime: attr.Mtime.UTC(),
		Ctime: attr.Ctime.UTC(),
		IsDir: attr.IsDir(),
		Keyed: h.engine.HasKey(path),
	})
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	attr, err := h.engine.Getattr(path)
	if err != nil {
		writeError(w, err)
		return
	}
	if !attr.IsDir() {
		writeError(w, &keyfs.PathError{Op: "list", Path: path, Err: keyfs.ErrNotDirectory})
		return
	}
	names, err := h.engine.Readdir(path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResult{Path: path, Entries: names})
}

func decodeKeyRequest(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	var req KeyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return "", nil, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	if req.Path == "" {
		return "", nil, fmt.Errorf("%w: path is required", errBadRequest)
	}
	key, err := base64.StdEncoding.DecodeString(req.Key)
	if err != nil {
		return "", nil, fmt.Errorf("%w: key is not valid base64", errBadRequest)
	}
	if err := keyfs.ValidateKey(key); err != nil {
		wipe(key)
		return "", nil, err
	}
	return req.Path, key, nil
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("control request")
		})
	}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
