package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"filecollection/internal/auth"
	"filecollection/internal/config"
	"filecollection/internal/publication"
	"filecollection/internal/repository/memory"
	"filecollection/internal/service"
	"filecollection/internal/storage/local"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *httptest.Server
	repo   *memory.FileRepository
	hub    *publication.Hub
	files  *service.FileService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := memory.NewFileRepository()
	hub := publication.NewHub("myData", repo, logger)
	files := service.NewFileService(repo, local.New(t.TempDir(), ""), service.Options{
		Publisher:      hub,
		Logger:         logger,
		MaxUploadBytes: 1 << 20,
	})

	cfg := &config.Config{
		CollectionName:     "myData",
		AuthCookieName:     "X-Auth-Token",
		CORSAllowedOrigins: []string{"*"},
	}
	authn := auth.Insecure{}
	router := NewRouter(cfg, authn, NewFileHandler(files, logger), NewLiveHandler(hub, authn, cfg.CORSAllowedOrigins, logger), logger)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, repo: repo, hub: hub, files: files}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) insert(t *testing.T, user, id, filename string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"id": id, "filename": filename, "contentType": "text/plain"})
	require.NoError(t, err)
	return e.do(t, http.MethodPost, "/gridfs/myData/", user, bytes.NewReader(payload), "application/json")
}

func decodeData(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}
