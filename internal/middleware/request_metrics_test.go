package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/2beens/gymlog/internal/telemetry/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMetrics(t *testing.T) {
	metricsManager, reg := metrics.NewTestManagerAndRegistry()

	r := mux.NewRouter()
	r.HandleFunc("/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods("DELETE").Name("delete-record")
	r.Use(RequestMetrics(metricsManager))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest("DELETE", "/records/abc", nil))
		require.Equal(t, http.StatusNoContent, rr.Code)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(metricsManager.CounterRequests.With(prometheus.Labels{
		"method": "DELETE",
		"status": "204",
	})))

	count, err := testutil.GatherAndCount(reg, "gymlog_test_server_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
