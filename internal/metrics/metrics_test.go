package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsIsolated(t *testing.T) {
	a := New()
	b := New()

	a.BetsRecorded.WithLabelValues("small_discrete").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.BetsRecorded.WithLabelValues("small_discrete")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.BetsRecorded.WithLabelValues("small_discrete")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Settlements.WithLabelValues("triple_dice", "protected").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `drawcore_period_settled_total{branch="protected",game_kind="triple_dice"} 1`))
}
