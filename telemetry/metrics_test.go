package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	before := testutil.ToFloat64(JobsFinished.WithLabelValues("SUCCESS"))
	JobsFinished.WithLabelValues("SUCCESS").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(JobsFinished.WithLabelValues("SUCCESS")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "etlpulse_jobs_finished_total")
}
