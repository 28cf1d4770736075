package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joshp123/gohome-medtrum/internal/core"
)

type fakePlugin struct {
	id      string
	health  core.HealthStatus
	message string
}

func (f fakePlugin) ID() string { return f.id }
func (f fakePlugin) Manifest() core.Manifest { return core.Manifest{PluginID: f.id} }
func (f fakePlugin) AgentsMD() string { return "" }
func (f fakePlugin) Dashboards() []core.Dashboard { return nil }
func (f fakePlugin) RegisterGRPC(*grpc.Server) {}
func (f fakePlugin) Collectors() []prometheus.Collector { return nil }
func (f fakePlugin) Health() core.HealthStatus { return f.health }
func (f fakePlugin) HealthMessage() string { return f.message }

func TestHealthHandlerReportsPlugins(t *testing.T) {
	handler := HealthHandler([]core.Plugin{fakePlugin{id: "medtrum", health: core.HealthDegraded, message: "stale"}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, pluginHealth{Status: "DEGRADED", Message: "stale"}, resp.Plugins["medtrum"])
}

func TestHealthHandlerFailsOnPluginError(t *testing.T) {
	handler := HealthHandler([]core.Plugin{
		fakePlugin{id: "medtrum", health: core.HealthError, message: "re-authentication required"},
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"error"`)
}

func TestDashboardsHandler(t *testing.T) {
	handler := DashboardsHandler(map[string][]byte{"/dashboards/medtrum/overview.json": []byte(`{"title":"x"}`)})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/medtrum/overview.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"title":"x"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/other.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"dashboards":["/dashboards/medtrum/overview.json"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dashboards/medtrum/overview.json", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "gohome_medtrum_scrape_success", Help: "test"})
	gauge.Set(1)
	registry.MustRegister(gauge)

	rec := httptest.NewRecorder()
	MetricsHandler(registry, zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gohome_medtrum_scrape_success 1")
	assert.Contains(t, rec.Body.String(), "promhttp_metric_handler_errors_total")
}

func TestLoggingInterceptor(t *testing.T) {
	observed, logs := observer.New(zapcore.DebugLevel)
	intercept := loggingInterceptor(zap.New(observed))
	info := &grpc.UnaryServerInfo{FullMethod: "/gohome.plugins.medtrum.v1.MedtrumService/GetStatus"}

	_, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) { return "ok", nil })
	require.NoError(t, err)

	_, err = intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.Unavailable, "no snapshot yet")
	})
	require.Error(t, err)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "Unavailable", entries[1].ContextMap()["code"])
}
