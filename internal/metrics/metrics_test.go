package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestCountersIncrement(t *testing.T) {
	Register()
	Register()

	before := counterValue(t, publishes.WithLabelValues("Queue", "ok"))
	IncPublish("Queue", true)
	IncPublish("Queue", false)
	assert.Equal(t, before+1, counterValue(t, publishes.WithLabelValues("Queue", "ok")))

	IncCacheFetch("issues", false)
	assert.GreaterOrEqual(t, counterValue(t, cacheFetches.WithLabelValues("issues", "error")), 1.0)
}

func TestHandlerPprofToggle(t *testing.T) {
	Register()
	get := func(h http.Handler, path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	plain := Handler(Options{})
	assert.Equal(t, http.StatusOK, get(plain, "/metrics"))
	assert.Equal(t, http.StatusNotFound, get(plain, "/debug/pprof/"))

	debug := Handler(Options{Pprof: true})
	assert.Equal(t, http.StatusOK, get(debug, "/debug/pprof/"))
	assert.Equal(t, http.StatusOK, get(debug, "/debug/pprof/goroutine?debug=1"))
}
