package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doublecross_sessions_total",
			Help: "Sessions by lifecycle event (created, started, finished, cancelled).",
		},
		[]string{"event"},
	)

	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doublecross_turns_total",
			Help: "Turns by author and outcome (submitted, skipped).",
		},
		[]string{"role", "outcome"},
	)

	guessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doublecross_guesses_total",
			Help: "Resolved guesses by guesser role and verdict.",
		},
		[]string{"role", "verdict"},
	)

	oracleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doublecross_oracle_requests_total",
			Help: "Narrative oracle calls by operation and status.",
		},
		[]string{"operation", "status"},
	)

	oracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doublecross_oracle_request_duration_seconds",
			Help:    "Narrative oracle call latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"operation"},
	)
)

func SessionEvent(event string) { sessionsTotal.WithLabelValues(event).Inc() }

func Turn(role, outcome string) { turnsTotal.WithLabelValues(role, outcome).Inc() }

func Guess(role, verdict string) { guessesTotal.WithLabelValues(role, verdict).Inc() }

// ObserveOracle records one oracle call.
func ObserveOracle(operation string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	oracleRequestsTotal.WithLabelValues(operation, status).Inc()
	oracleDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
