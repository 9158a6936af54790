package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRequestDurationRecordsRoute(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	tel := &Telemetry{
		mp:          mp,
		meter:       mp.Meter("test"),
		serviceName: "orchestrator",
	}

	r := chi.NewRouter()
	r.Use(tel.RequestInFlight())
	r.Use(tel.RequestDuration())
	r.Get("/jobs/{job}/next", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/42/next", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	var found bool
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if m.Name != "request_duration_millis" {
			continue
		}
		found = true

		hist, ok := m.Data.(metricdata.Histogram[int64])
		require.True(t, ok)
		require.Len(t, hist.DataPoints, 1)

		route, ok := hist.DataPoints[0].Attributes.Value("http.route")
		require.True(t, ok)
		assert.Equal(t, "/jobs/{job}/next", route.AsString())

		status, ok := hist.DataPoints[0].Attributes.Value("http.status_code")
		require.True(t, ok)
		assert.Equal(t, int64(http.StatusNoContent), status.AsInt64())
	}
	assert.True(t, found)
}
