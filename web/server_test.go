package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podmesh/schema"
)

type fakeStatus struct {
	hb *schema.HeartbeatEvent
}

func (f fakeStatus) Latest() (schema.HeartbeatEvent, bool) {
	if f.hb == nil {
		return schema.HeartbeatEvent{}, false
	}
	return *f.hb, true
}

func newRouter(h Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, h)
	return r
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestStatusReturnsLatestHeartbeat(t *testing.T) {
	r := newRouter(Handlers{Status: fakeStatus{}})
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, "/status").Code)

	hb := schema.HeartbeatEvent{
		GlobalMode: schema.ModeSafe,
		Cycle:      12,
		Pods:       []schema.PodStatus{{ID: "core", Mode: schema.ModeNormal, APIErrors: 1}},
		Timestamp:  time.Now(),
	}
	r = newRouter(Handlers{Status: fakeStatus{hb: &hb}})
	w := serve(r, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var got schema.HeartbeatEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, schema.ModeSafe, got.GlobalMode)
	assert.Equal(t, int64(12), got.Cycle)
	require.Len(t, got.Pods, 1)
	assert.Equal(t, 1, got.Pods[0].APIErrors)
}

func TestHealthzReportsFailingCheck(t *testing.T) {
	r := newRouter(Handlers{Checks: map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	}})
	assert.Equal(t, http.StatusOK, serve(r, "/healthz").Code)

	r = newRouter(Handlers{Checks: map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}})
	w := serve(r, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	w := serve(newRouter(Handlers{}), "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
