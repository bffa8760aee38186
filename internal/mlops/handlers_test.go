package mlops

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRouter(fx *fixture, r *Retrainer) *gin.Engine {
	router := gin.New()
	NewHandler(fx.svc, r).RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path, session string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func TestHandler_TriggerMLOps(t *testing.T) {
	fx := newFixture(t, Config{})
	router := setupRouter(fx, nil)

	w, body := doJSON(t, router, http.MethodPost, "/trigger-mlops", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Global Model Updated!", body["message"])
	assert.Equal(t, DefaultSession, body["session"])
	assert.Equal(t, float64(2), body["version"])
	assert.Equal(t, float64(11), body["maturity"])
	assert.Equal(t, float64(1), body["threats_caught"])

	w, body = doJSON(t, router, http.MethodPost, "/trigger-mlops", "tab-9")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["version"], "sessions keep separate counters")
}

func TestHandler_TriggerMLOps_VCSFailureReported(t *testing.T) {
	fx := newFixture(t, Config{VCSPolicy: VCSReport})
	fx.pub.err = errors.New("fatal: could not read from remote repository")
	router := setupRouter(fx, nil)

	w, body := doJSON(t, router, http.MethodPost, "/trigger-mlops", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "vcs_failed", body["error"])
	assert.Contains(t, body["message"], "could not read from remote repository")
}

func TestHandler_TriggerMLOps_VCSFailureSwallowed(t *testing.T) {
	fx := newFixture(t, Config{VCSPolicy: VCSSwallow})
	fx.pub.err = errors.New("fatal: could not read from remote repository")
	router := setupRouter(fx, nil)

	w, body := doJSON(t, router, http.MethodPost, "/trigger-mlops", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body["status"])
	assert.Contains(t, body["vcs_error"], "could not read")
}

func TestHandler_InvalidSessionHeader(t *testing.T) {
	fx := newFixture(t, Config{})
	router := setupRouter(fx, NewRetrainer(fx.svc, nil))

	for _, path := range []string{"/trigger-mlops", "/retrain"} {
		w, body := doJSON(t, router, http.MethodPost, path, "bad header!")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "invalid_session", body["error"])
	}
	w, _ := doJSON(t, router, http.MethodGet, "/mlops/status", "bad header!")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_RetrainAccepted(t *testing.T) {
	fx := newFixture(t, Config{})
	r := NewRetrainer(fx.svc, nil)
	startRetrainer(t, r)
	router := setupRouter(fx, r)

	w, body := doJSON(t, router, http.MethodPost, "/retrain", "tab-3")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "Retraining Started", body["status"])
	assert.Equal(t, false, body["coalesced"])

	require.Eventually(t, func() bool { return r.State().Completed == 1 }, 10*time.Second, 10*time.Millisecond)

	w, body = doJSON(t, router, http.MethodGet, "/mlops/status", "tab-3")
	require.Equal(t, http.StatusOK, w.Code)
	progress := body["progress"].(map[string]interface{})
	assert.Equal(t, float64(2), progress["version"])
	assert.Equal(t, false, body["retrain_active"])
	assert.NotNil(t, body["model"])
	retrainer := body["retrainer"].(map[string]interface{})
	assert.Equal(t, float64(1), retrainer["completed"])
}

func TestHandler_RetrainQueueFull(t *testing.T) {
	fx := newFixture(t, Config{})
	r := NewRetrainer(fx.svc, nil)
	r.maxPending = 1
	router := setupRouter(fx, r)

	w, _ := doJSON(t, router, http.MethodPost, "/retrain", "tab-1")
	assert.Equal(t, http.StatusAccepted, w.Code)
	w, body := doJSON(t, router, http.MethodPost, "/retrain", "tab-2")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "retrain_queue_full", body["error"])
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

func TestHandler_RetrainRouteOnlyWithRetrainer(t *testing.T) {
	fx := newFixture(t, Config{})
	router := setupRouter(fx, nil)

	req := httptest.NewRequest(http.MethodPost, "/retrain", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_StatusFreshSession(t *testing.T) {
	fx := newFixture(t, Config{})
	router := setupRouter(fx, nil)

	w, body := doJSON(t, router, http.MethodGet, "/mlops/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, DefaultSession, body["session"])
	assert.Equal(t, false, body["has_pattern"])
	assert.Nil(t, body["updated_at"])
	_, hasModel := body["model"]
	assert.False(t, hasModel)
}
