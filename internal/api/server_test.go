package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"swarmq/internal/api"
	"swarmq/internal/bus"
	"swarmq/internal/domain"
	"swarmq/internal/queue"
	"swarmq/internal/registry"
	"swarmq/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "swarmq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	log := zerolog.Nop()
	srv := httptest.NewServer(api.NewServer(
		queue.New(st, log), bus.New(st, log), registry.New(st, log), st))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("content-type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	// Register a worker agent.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/agents", map[string]any{
		"id": "agent-1", "type": "worker",
	}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Submit a task.
	var submitted struct {
		ID int64 `json:"id"`
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"type": "shell", "payload": map[string]string{"command": "true"}, "priority": 7,
	}, &submitted)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotZero(t, submitted.ID)

	// Claim it.
	var claimed domain.Task
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/claim", map[string]string{"agent_id": "agent-1"}, &claimed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, submitted.ID, claimed.ID)
	require.Equal(t, domain.TaskInProgress, claimed.Status)

	// An empty queue claim returns 204.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/claim", map[string]string{"agent_id": "agent-1"}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Complete it.
	url := fmt.Sprintf("%s/api/tasks/%d/complete", srv.URL, submitted.ID)
	resp = doJSON(t, http.MethodPost, url, map[string]any{"result": map[string]int{"exit_code": 0}}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var got domain.Task
	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/tasks/%d", srv.URL, submitted.ID), nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, domain.TaskComplete, got.Status)
	require.JSONEq(t, `{"exit_code":0}`, string(got.Result))

	var history []domain.HistoryEntry
	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/tasks/%d/history", srv.URL, submitted.ID), nil, &history)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, history, 2)

	var stats domain.Stats
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/stats", nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, stats.TasksByStatus[domain.TaskComplete])
	require.Equal(t, 1, stats.Agents["agent-1"].TotalCompleted)
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	// Unknown task: 404.
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/tasks/999", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Missing payload: 400 from the payload check.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"type": "shell",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Completing a pending task: 409.
	var submitted struct {
		ID int64 `json:"id"`
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"type": "shell", "payload": map[string]string{},
	}, &submitted)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	url := fmt.Sprintf("%s/api/tasks/%d/complete", srv.URL, submitted.ID)
	resp = doJSON(t, http.MethodPost, url, map[string]any{"result": map[string]int{}}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown agent: 404.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/agents/ghost", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessagesOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	var sent struct {
		ID int64 `json:"id"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/messages", map[string]any{
		"from": "alice", "to": "bob", "topic": "status", "payload": map[string]string{"k": "v"},
	}, &sent)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var msgs []domain.Message
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/messages?agent_id=bob", nil, &msgs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, msgs, 1)
	require.Equal(t, sent.ID, msgs[0].ID)

	// Destructive read: drained.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/messages?agent_id=bob", nil, &msgs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, msgs)

	// Missing agent_id is a client error.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/messages", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSchedulesOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	var created struct {
		ID string `json:"id"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/schedules", map[string]any{
		"name": "nightly", "cron_expr": "0 2 * * *", "task_type": "shell",
		"payload": map[string]string{"command": "true"}, "enabled": true,
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created.ID)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/schedules", map[string]any{
		"name": "bad", "cron_expr": "nope", "task_type": "shell",
		"payload": map[string]string{},
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var schedules []domain.Schedule
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/schedules", nil, &schedules)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, schedules, 1)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/schedules/"+created.ID, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	require.Equal(t, http.StatusNoContent, del.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/schedules/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCleanupValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/cleanup", map[string]int{"retention_days": 0}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var res domain.CleanupResult
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/cleanup", map[string]int{"retention_days": 7}, &res)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Zero(t, res.Tasks)
}
