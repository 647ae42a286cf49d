package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/evalbox/executor"
	"github.com/caffeineduck/evalbox/internal/wasmtest"
	"github.com/caffeineduck/evalbox/language/wasm"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	exec, err := executor.New()
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })

	srv := newServer(exec, []executor.Language{
		wasm.New("echo", wasmtest.Echo(), executor.ABIReactor),
		wasm.New("spin", wasmtest.Spin(), executor.ABIReactor),
		wasm.New("hog", wasmtest.Hog(), executor.ABIReactor),
		wasm.New("broken", []byte("not wasm"), executor.ABIReactor),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.maxBody = 1 << 10

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts
}

func postRun(t *testing.T, ts *httptest.Server, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/run", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestRunEndpointValue(t *testing.T) {
	ts := setupTestServer(t)

	status, out := postRun(t, ts, `{"language": "echo", "code": "v{\"b\": [1, 2], \"a\": null}"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "value", out["outcome"])
	assert.Equal(t, map[string]any{"b": []any{1.0, 2.0}, "a": nil}, out["value"])
	assert.Equal(t, "completed", out["state"])
	assert.NotEmpty(t, out["id"])
}

func TestRunEndpointGuestError(t *testing.T) {
	ts := setupTestServer(t)

	status, out := postRun(t, ts, `{"language": "echo", "code": "eZeroDivisionError: division by zero"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "guest_error", out["outcome"])

	errBody, ok := out["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "runtime", errBody["category"])
	assert.Equal(t, "ZeroDivisionError", errBody["type"])
	assert.NotContains(t, out, "value")
}

func TestRunEndpointTimeBudget(t *testing.T) {
	ts := setupTestServer(t)

	status, out := postRun(t, ts, `{"language": "spin", "code": "", "time_budget": "50ms"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "resource_exceeded", out["outcome"])
	assert.Equal(t, "timed_out", out["state"])

	errBody := out["error"].(map[string]any)
	assert.Equal(t, "time", errBody["resource"])
	assert.Equal(t, "50ms", errBody["limit"])
}

func TestRunEndpointMemoryBudget(t *testing.T) {
	ts := setupTestServer(t)

	status, out := postRun(t, ts, `{"language": "hog", "code": "", "memory_budget": "2MiB"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "resource_exceeded", out["outcome"])
	assert.Equal(t, "memory", out["error"].(map[string]any)["resource"])
}

func TestRunEndpointLoadError(t *testing.T) {
	ts := setupTestServer(t)

	status, out := postRun(t, ts, `{"language": "broken", "code": "v1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "load_error", out["outcome"])
}

func TestRunEndpointBadRequests(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"unknown language", `{"language": "cobol", "code": "1"}`, http.StatusBadRequest},
		{"bad time budget", `{"language": "echo", "code": "v1", "time_budget": "soon"}`, http.StatusBadRequest},
		{"negative time budget", `{"language": "echo", "code": "v1", "time_budget": "-1s"}`, http.StatusBadRequest},
		{"bad memory budget", `{"language": "echo", "code": "v1", "memory_budget": "lots"}`, http.StatusBadRequest},
		{"body too large", `{"language": "echo", "code": "v\"` + strings.Repeat("x", 2048) + `\""}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := postRun(t, ts, tt.body)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestRunEndpointMethodNotAllowed(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/run")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestLanguagesEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/languages")
	require.NoError(t, err)
	defer resp.Body.Close()

	var infos []languageInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, 4)

	assert.Equal(t, "broken", infos[0].Name)
	assert.False(t, infos[0].Ready)
	assert.NotEmpty(t, infos[0].Error)

	assert.Equal(t, "echo", infos[1].Name)
	assert.True(t, infos[1].Ready)
	assert.Equal(t, "reactor", infos[1].ABI)
}

func TestRunRequestAliases(t *testing.T) {
	s := newServer(nil, []executor.Language{
		wasm.New("python", nil, executor.ABICommand),
		wasm.New("javascript", nil, executor.ABIReactor),
	}, slog.Default())

	for alias, want := range map[string]string{"py": "python", "js": "javascript", "python": "python"} {
		l, ok := s.lookup(alias)
		require.True(t, ok, alias)
		assert.Equal(t, want, l.Name())
	}
	_, ok := s.lookup("ruby")
	assert.False(t, ok)
}
