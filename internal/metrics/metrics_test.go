package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(guessesTotal.WithLabelValues("HUMAN", "CORRECT"))
	Guess("HUMAN", "CORRECT")
	assert.Equal(t, before+1, testutil.ToFloat64(guessesTotal.WithLabelValues("HUMAN", "CORRECT")))

	failed := testutil.ToFloat64(oracleRequestsTotal.WithLabelValues("judge", "error"))
	ObserveOracle("judge", time.Now(), errors.New("boom"))
	assert.Equal(t, failed+1, testutil.ToFloat64(oracleRequestsTotal.WithLabelValues("judge", "error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	SessionEvent("created")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "doublecross_sessions_total")
}
