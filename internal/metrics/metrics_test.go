package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObservePull(nil)
	m.ObservePull(errors.New("x"))
	m.ObservePull(nil)
	m.RegistryConflict()
	m.ObserveChange("added", nil)
	m.CacheFallback("tasks")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pulls.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pulls.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registryConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changeRecords.WithLabelValues("added", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheFallbacks.WithLabelValues("tasks")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePull(nil)
	m.ObserveReconcile(time.Now(), nil)
	m.SetBoardTasks(3)
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetBoardTasks(4)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "tasksync_board_tasks 4")
}
