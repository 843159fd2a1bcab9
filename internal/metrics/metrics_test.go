package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railsight/internal/report"
	"railsight/internal/timetable"
)

var _ report.Metrics = (*Collector)(nil)

func TestCollector_EngineHooks(t *testing.T) {
	c := NewCollector()

	c.StoreCall("find", 3*time.Millisecond, nil)
	c.StoreCall("find", time.Second, report.ErrStoreUnavailable)
	c.ReportSubmitted(timetable.Outbound)
	c.VoteCast(report.VoteUp, "ok")
	c.VoteCast(report.VoteUp, "ok")
	c.ReportDeleted("unauthorized")
	c.SetDegraded(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.StoreCalls.WithLabelValues("find", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StoreCalls.WithLabelValues("find", "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ReportsSubmitted.WithLabelValues("outbound")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Votes.WithLabelValues("up", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Deletes.WithLabelValues("unauthorized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StoreDegraded))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ReportSubmitted(timetable.Inbound)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `railsight_reports_submitted_total{direction="inbound"} 1`)
}
