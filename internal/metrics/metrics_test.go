package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetPhase("connected")
		m.ConnectAttempt()
		m.Opened()
		m.Closed(true)
		m.ReconnectScheduled(1.5, 2)
		m.AttemptReset()
		m.MessageReceived("news")
		m.Malformed()
		m.MessageSent("ping", nil)
		m.HealthCheck(errors.New("down"))
		m.ShutdownStep("stop_all", nil)
		m.JournalFlushed(3, nil)
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.Register(prometheus.NewCounter(prometheus.CounterOpts{Name: "x"})))
}

func TestSetPhaseIsExclusive(t *testing.T) {
	m := New()

	m.SetPhase("connecting")
	m.SetPhase("connected")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Phase.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Phase.WithLabelValues("connecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Phase.WithLabelValues("failed")))
}

func TestCounters(t *testing.T) {
	m := New()

	m.ConnectAttempt()
	m.ConnectAttempt()
	m.Closed(false)
	m.Closed(true)
	m.Closed(false)
	m.ReconnectScheduled(2.2, 3)
	m.MessageSent("subscribe", nil)
	m.MessageSent("subscribe", errors.New("closed"))
	m.HealthCheck(nil)
	m.ShutdownStep("cleanup_message", nil)
	m.JournalFlushed(10, nil)
	m.JournalFlushed(5, errors.New("db down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectAttempts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Closes.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Closes.WithLabelValues("true")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReconnectAttempt))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("subscribe", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthChecks.WithLabelValues("ok")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.JournalRowsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JournalFlushErrors))

	m.Opened()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ReconnectAttempt))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.MessageReceived("news")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `dashlink_messages_received_total{type="news"} 1`))
}
