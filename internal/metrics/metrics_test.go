package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Login(ResultSuccess)
	m.Login(ResultFailure)
	m.Login(ResultFailure)
	m.AuthRejected("TOKEN_EXPIRED")
	m.TokensPurged(3)
	m.TokensPurged(0)

	body := scrape(t, reg)
	require.Contains(t, body, `school_admin_logins_total{result="success"} 1`)
	require.Contains(t, body, `school_admin_logins_total{result="failure"} 2`)
	require.Contains(t, body, `school_admin_auth_rejections_total{code="TOKEN_EXPIRED"} 1`)
	require.Contains(t, body, "school_admin_refresh_tokens_purged_total 3")
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.Login(ResultSuccess)
		m.Refresh(ResultError)
		m.Logout()
		m.AuthRejected("FORBIDDEN")
		m.TokensPurged(1)
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Logout()
	m.WatchDroppedEvents(reg, func() uint64 { return 7 })

	body := scrape(t, reg)
	require.Contains(t, body, "school_admin_logouts_total 1")
	require.Contains(t, body, "school_admin_events_dropped_total 7")
}

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
