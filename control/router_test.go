package control

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absfs/keyfs"
)

type fixture struct {
	engine  *keyfs.FS
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	engine, err := keyfs.New(&keyfs.Config{Metrics: keyfs.NewMetrics(reg)})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	return &fixture{
		engine:  engine,
		handler: NewRouter(engine, reg, zerolog.Nop()),
	}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, keyfs.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func encodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

func TestRouter_SetKey(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/v1/keys", KeyRequest{Path: "/f", Key: encodeKey(randomKey(t))})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, f.engine.HasKey("/f"))

	tests := []struct {
		name string
		body any
	}{
		{"short key", KeyRequest{Path: "/g", Key: encodeKey(make([]byte, 16))}},
		{"bad base64", KeyRequest{Path: "/g", Key: "not base64!"}},
		{"missing path", KeyRequest{Key: encodeKey(randomKey(t))}},
		{"relative path", KeyRequest{Path: "g", Key: encodeKey(randomKey(t))}},
		{"malformed json", "{"},
		{"unknown field", `{"path":"/g","key":"","extra":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPut, "/v1/keys", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, "error", resp.Status)
			assert.NotEmpty(t, resp.Error)
		})
	}
	assert.False(t, f.engine.HasKey("/g"))
}

func TestRouter_RotateKey(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetKey("/f", randomKey(t)))
	_, err := f.engine.Create("/f", 0o644)
	require.NoError(t, err)
	_, err = f.engine.Write("/f", []byte("payload"), 0)
	require.NoError(t, err)
	_, err = f.engine.Create("/nokey", 0o644)
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/v1/keys/rotate", KeyRequest{Path: "/f", Key: encodeKey(randomKey(t))})
	assert.Equal(t, http.StatusNoContent, w.Code)
	data, err := f.engine.Read("/f", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	w = f.do(t, http.MethodPost, "/v1/keys/rotate", KeyRequest{Path: "/missing", Key: encodeKey(randomKey(t))})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/v1/keys/rotate", KeyRequest{Path: "/nokey", Key: encodeKey(randomKey(t))})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouter_Stat(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetKey("/f", randomKey(t)))
	_, err := f.engine.Create("/f", 0o640)
	require.NoError(t, err)
	_, err = f.engine.Write("/f", []byte("Hello, world!"), 0)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/v1/stat?path=/f", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	var st StatResult
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.Equal(t, "/f", st.Path)
	assert.Equal(t, keyfs.ModeRegular|0o640, st.Mode)
	assert.Equal(t, uint64(13), st.Size)
	assert.Equal(t, uint32(1), st.Nlink)
	assert.False(t, st.IsDir)
	assert.True(t, st.Keyed)

	w = f.do(t, http.MethodGet, "/v1/stat?path=/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/v1/stat", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_List(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Mkdir("/folder", 0o755))
	_, err := f.engine.Create("/folder/file1", 0o644)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/v1/list?path=/folder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	var list ListResult
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, []string{".", "..", "file1"}, list.Entries)

	w = f.do(t, http.MethodGet, "/v1/list", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/v1/list?path=/folder/file1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	_, err := f.engine.Getattr("/")
	require.NoError(t, err)

	w = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "keyfs_operations_total"), "metrics output lacks operation counter")
	assert.Contains(t, body, "keyfs_paths 1")
}

func TestRouter_ClosedEngine(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Close())

	w := f.do(t, http.MethodGet, "/v1/stat?path=/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
