package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Status(t *testing.T) {
	tests := []struct {
		name   string
		checks []*HealthCheck
		want   HealthStatus
		code   int
	}{
		{
			name: "no checks",
			want: HealthStatusHealthy,
			code: http.StatusOK,
		},
		{
			name: "non-critical failure degrades",
			checks: []*HealthCheck{
				{Name: "session", CheckFunc: func(context.Context) error { return errors.New("not initialized") }},
			},
			want: HealthStatusDegraded,
			code: http.StatusOK,
		},
		{
			name: "critical failure is unhealthy",
			checks: []*HealthCheck{
				{Name: "session", CheckFunc: func(context.Context) error { return nil }},
				{Name: "log", Critical: true, CheckFunc: func(context.Context) error { return errors.New("closed") }},
			},
			want: HealthStatusUnhealthy,
			code: http.StatusServiceUnavailable,
		},
		{
			name: "timeout counts as failure",
			checks: []*HealthCheck{
				{Name: "slow", Timeout: 10 * time.Millisecond, CheckFunc: func(ctx context.Context) error {
					<-ctx.Done()
					time.Sleep(5 * time.Millisecond)
					return nil
				}},
			},
			want: HealthStatusDegraded,
			code: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("test")
			for _, c := range tt.checks {
				hc.RegisterCheck(c)
			}

			rec := httptest.NewRecorder()
			hc.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.code, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, "test", resp.Version)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestServer_Endpoints(t *testing.T) {
	InitMetrics()
	RecordOperation("store", "get", OutcomeSuccess, 5*time.Millisecond)
	RecordRejected("store", "query")
	RecordLogEntry("success")
	RecordUploadBytes(10)
	OperationStarted()
	OperationSettled()

	hc := NewHealthChecker("dev")
	srv := NewServer("127.0.0.1:0", hc)
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Shutdown(context.Background()) }()

	base := "http://" + srv.Addr()

	resp, err := http.Get(base + "/health/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `firepwn_operations_total{action="get",outcome="success",subsystem="store"}`))
	assert.True(t, strings.Contains(text, `firepwn_operations_total{action="query",outcome="rejected",subsystem="store"}`))
	assert.True(t, strings.Contains(text, "firepwn_upload_bytes_total"))
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewHealthChecker("dev"))
	assert.NoError(t, srv.Shutdown(context.Background()))
}
