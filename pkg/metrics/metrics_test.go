package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJobRun(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordJobRun(JobRun{Job: "protection_expiry_check", Candidates: 5, Transitions: 3, LostRaces: 1, Failures: 1, Duration: 20 * time.Millisecond})
	m.RecordJobRun(JobRun{Job: "protection_expiry_check", Err: errors.New("db down")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("protection_expiry_check", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("protection_expiry_check", "error")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.JobCandidates.WithLabelValues("protection_expiry_check")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.JobTransitions.WithLabelValues("protection_expiry_check")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobLostRaces.WithLabelValues("protection_expiry_check")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobFailures.WithLabelValues("protection_expiry_check")))
}

func TestRecordSinkFailure(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	m.RecordSinkFailure("webhook")
	m.RecordSinkFailure("webhook")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkFailures.WithLabelValues("webhook")))
}

func TestUpdateDBConnections(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	m.UpdateDBConnections(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.DBConnections))
}

func TestMiddleware(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "204")))
}
