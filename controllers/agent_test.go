package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"climbwall/browseragent"
	"climbwall/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type answerAgent struct {
	answer string
}

func (a *answerAgent) Run(_ context.Context) (*browseragent.History, error) {
	return &browseragent.History{Steps: []browseragent.ActionResult{{Step: 1, IsDone: true, Success: true, Extracted: a.answer}}}, nil
}

func (a *answerAgent) Stop() {}

func (a *answerAgent) Screenshot(_ context.Context) ([]byte, error) { return nil, nil }

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newAgentRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	config := utils.DefaultConfig()
	config.Agent.LogFile = filepath.Join(dir, "output.log")
	config.Agent.GifDir = dir

	runner, err := browseragent.NewRunner(AgentRunnerConfig(config), func(req browseragent.TaskRequest, _ *log.Logger, frames *browseragent.GifRecorder) (browseragent.Agent, error) {
		return &answerAgent{answer: "top of " + req.Task}, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = runner.Close() })
	return NewAgentRouter(runner, config)
}

func TestRunTaskRequiresAPIKey(t *testing.T) {
	r := newAgentRouter(t)
	w := postJSON(t, r, "/api/tasks", gin.H{"task": "hot list", "api_key": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Please provide an API key")

	w = postJSON(t, r, "/api/tasks", gin.H{"api_key": "sk"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunTaskReturnsFinalResult(t *testing.T) {
	r := newAgentRouter(t)
	w := postJSON(t, r, "/api/tasks", gin.H{"task": "hot list", "api_key": "sk", "model": "deepseek-r1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response struct {
		Data browseragent.TaskResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "top of hot list", response.Data.Final)
	assert.False(t, response.Data.Cancelled)

	// no frames were recorded
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/gif?task=hot+list", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStopUnknownTask(t *testing.T) {
	r := newAgentRouter(t)
	w := postJSON(t, r, "/api/tasks/stop", gin.H{"task": "nothing"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No active task to cancel")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/preview?task=nothing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.JSONEq(t, `{"data": []}`, w.Body.String())
}

func TestAgentHome(t *testing.T) {
	r := newAgentRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deepseek-r1")
}
