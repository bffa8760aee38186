package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudwatchdog/internal/events"
	"github.com/mbd888/fraudwatchdog/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(svc *Service) *gin.Engine {
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r)
	return r
}

func do(router http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_Root(t *testing.T) {
	svc, _, _, _ := newTestService(0.1)
	w := do(setupRouter(svc), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Fraud Watchdog API is Awake", body["message"])
	assert.NotNil(t, body["model"])
	assert.Contains(t, body["profiles"], "v1")
}

func TestHandler_RootWithoutModel(t *testing.T) {
	svc, _, _, m := newTestService(0.1)
	m.err = model.ErrUnavailable
	w := do(setupRouter(svc), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Nil(t, body["model"])
	assert.NotEmpty(t, body["model_error"])
}

func TestHandler_PredictNamedStrings(t *testing.T) {
	svc, _, _, _ := newTestService(0.42)
	w := do(setupRouter(svc), http.MethodPost, "/predict",
		`{"Time":"1700000000000","V1":"-2.31","V2":"1.95","Amount":"999.99"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "FRAUD", body["status"])
	assert.Equal(t, "0.42", body["probability"])
	assert.Equal(t, "999.99", body["amount"])
	assert.Equal(t, "LEGIT", body["prediction"])
	assert.Equal(t, 0.58, body["confidence_score"])
	assert.Equal(t, "UNCERTAIN_GREY_ZONE", body["mlops_status"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Regexp(t, `^TXN-`, body["id"])
}

func TestHandler_PredictFeatureList(t *testing.T) {
	svc, _, _, _ := newTestService(0.05)
	list := make([]string, 30)
	for i := range list {
		list[i] = "0.1"
	}
	w := do(setupRouter(svc), http.MethodPost, "/predict", `{"features":[`+strings.Join(list, ",")+`]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"amount":"0.1"`)
}

func TestHandler_PredictErrors(t *testing.T) {
	svc, _, _, m := newTestService(0.05)
	router := setupRouter(svc)

	cases := []struct {
		body string
		code int
		err  string
	}{
		{`not json`, http.StatusBadRequest, "invalid_transaction"},
		{`{"Time":1,"V1":2}`, http.StatusBadRequest, "invalid_transaction"},
		{`{"Time":"abc","V1":1,"V2":1,"Amount":1}`, http.StatusBadRequest, "invalid_transaction"},
		{`{"features":[1,2,3]}`, http.StatusBadRequest, "invalid_transaction"},
	}
	for _, tc := range cases {
		w := do(router, http.MethodPost, "/predict", tc.body)
		assert.Equal(t, tc.code, w.Code, tc.body)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tc.err, body["error"], tc.body)
	}

	w := do(router, http.MethodPost, "/predict", `{"Time":1,"V1":1,"V2":1,"Amount":1}`, "X-Session-ID", "bad id!")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	m.err = model.ErrUnavailable
	w = do(router, http.MethodPost, "/predict", `{"Time":1,"V1":1,"V2":1,"Amount":1}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "model_unavailable")
	assert.Contains(t, w.Body.String(), model.ErrUnavailable.Error())
}

func TestHandler_LiveFeedAndFeedback(t *testing.T) {
	svc, _, _, _ := newTestService(0.2)
	router := setupRouter(svc)

	w := do(router, http.MethodGet, "/live-feed", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	var ids []string
	for i := 0; i < 3; i++ {
		w := do(router, http.MethodPost, "/predict", `{"Time":1,"V1":1,"V2":1,"Amount":10}`, "X-Session-ID", "tab-1")
		require.Equal(t, http.StatusOK, w.Code)
		var res Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		ids = append(ids, res.ID)
	}

	w = do(router, http.MethodGet, "/live-feed", "")
	require.Equal(t, http.StatusOK, w.Code)
	var feed []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &feed))
	require.Len(t, feed, 3)
	assert.Equal(t, ids[2], feed[0]["id"])
	assert.Equal(t, "tab-1", feed[0]["session"])

	w = do(router, http.MethodPost, "/feedback/"+ids[0], `{"label":"fraud"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"label":"fraud"`)

	w = do(router, http.MethodPost, "/feedback/"+ids[0], `{"label":"unsure"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(router, http.MethodPost, "/feedback/"+ids[0], `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(router, http.MethodPost, "/feedback/TXN-1-ffff", `{"label":"legit"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_HistoryPages(t *testing.T) {
	svc, store, _, _ := newTestService(0.2)
	router := setupRouter(svc)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		status := "Safe"
		if i%2 == 0 {
			status = "FRAUD"
		}
		require.NoError(t, store.Record(ctx, &events.Event{
			ID:        fmt.Sprintf("TXN-%d-%04x", 1772366400+i, i),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	w := do(router, http.MethodGet, "/events?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page HistoryPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Events, 2)
	assert.Equal(t, "TXN-1772366405-0005", page.Events[0].ID)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)

	seen := len(page.Events)
	for page.HasMore {
		w = do(router, http.MethodGet, "/events?limit=2&cursor="+page.NextCursor, "")
		require.Equal(t, http.StatusOK, w.Code)
		page = HistoryPage{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		seen += len(page.Events)
	}
	assert.Equal(t, 5, seen)
	assert.Equal(t, "TXN-1772366401-0001", page.Events[len(page.Events)-1].ID)

	w = do(router, http.MethodGet, "/events?status=FRAUD", "")
	require.Equal(t, http.StatusOK, w.Code)
	page = HistoryPage{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Events, 2)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)

	for _, bad := range []string{"/events?cursor=%21%21", "/events?limit=0", "/events?label=maybe"} {
		w = do(router, http.MethodGet, bad, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}
