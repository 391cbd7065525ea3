package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/stream-recorder/internal/metrics"
	"github.com/cuongbtq/stream-recorder/shared/logger"
)

type fakeBroker struct {
	connected atomic.Bool
}

func (f *fakeBroker) IsConnected() bool {
	return f.connected.Load()
}

func setupTestRouter(broker BrokerStatus, m *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.TestMode)

	deps := &Dependencies{
		Logger:  logger.Discard(),
		Service: "stream-recorder",
		Broker:  broker,
	}
	if m != nil {
		deps.Metrics = m.Handler()
	}
	return SetupRouter(deps)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		wantStatus int
		wantHealth string
		wantBroker string
	}{
		{
			name:       "broker connected",
			connected:  true,
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
			wantBroker: "connected",
		},
		{
			name:       "broker disconnected",
			connected:  false,
			wantStatus: http.StatusServiceUnavailable,
			wantHealth: "unhealthy",
			wantBroker: "disconnected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &fakeBroker{}
			broker.connected.Store(tt.connected)
			r := setupTestRouter(broker, nil)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, HealthPath, nil)
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantHealth, body["status"])
			assert.Equal(t, tt.wantBroker, body["broker"])
			assert.Equal(t, "stream-recorder", body["service"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ObserveOutcome("ack")

	broker := &fakeBroker{}
	broker.connected.Store(true)
	r := setupTestRouter(broker, m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, MetricsPath, nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `recorder_messages_total{outcome="ack"} 1`)
}

func TestMetricsEndpoint_NotMountedWithoutHandler(t *testing.T) {
	r := setupTestRouter(&fakeBroker{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, MetricsPath, nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
