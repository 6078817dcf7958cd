package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/absfs/keyfs"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// KeyRequest is the body of PUT /v1/keys and POST /v1/keys/rotate.
type KeyRequest struct {
	Path string `json:"path"`
	// Key is the standard base64 encoding of a 32-byte key.
	Key string `json:"key"`
}

// StatResult is the payload of GET /v1/stat.
type StatResult struct {
	Path  string    `json:"path"`
	Mode  uint32    `json:"mode"`
	Nlink uint32    `json:"nlink"`
	Size  uint64    `json:"size"`
	Mtime time.Time `json:"mtime"`
	Ctime time.Time `json:"ctime"`
	IsDir bool      `json:"is_dir"`
	Keyed bool      `json:"keyed"`
}

// ListResult is the payload of GET /v1/list.
type ListResult struct {
	Path    string   `json:"path"`
	Entries []string `json:"entries"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	resp := Response{Status: "ok", Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
			return
		}
		resp.Data = raw
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, keyfs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, keyfs.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, keyfs.ErrClosed):
		return http.StatusServiceUnavailable
	case keyfs.IsValidationError(err), errors.Is(err, errBadRequest), errors.Is(err, keyfs.ErrNotDirectory):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
