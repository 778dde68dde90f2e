package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.SubmissionStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSubmissions))

	m.SubmissionFinished("SAD_PORTAL", "success", "", 12*time.Second)
	m.StepFinished("SAD_PORTAL", "fill", 800*time.Millisecond)
	m.Recovery("SAD_PORTAL", "selector_not_found", "retry_selector", "ai", true, time.Second)
	m.SelectorFallback("SAD_PORTAL", "entry")
	m.UnmappedValue("SAD_PORTAL")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeSubmissions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissionsTotal.WithLabelValues("SAD_PORTAL", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recoveriesTotal.WithLabelValues("SAD_PORTAL", "selector_not_found", "retry_selector", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.selectorFallbacks.WithLabelValues("SAD_PORTAL", "entry")))

	_, err = New(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SubmissionStarted()
		m.SubmissionFinished("T", "failed", "cancelled", time.Second)
		m.StepFinished("T", "save", time.Second)
		m.Recovery("T", "k", "abort", "ai", false, 0)
		m.SelectorFallback("T", "p")
		m.UnmappedValue("T")
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.UnmappedValue("SAD_PORTAL")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `portalpilot_unmapped_dropdown_values_total{target="SAD_PORTAL"} 1`)
}
