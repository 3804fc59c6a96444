package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "metrobot_"

// Result labels shared by counters.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	cycleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "fetch_cycles_total",
		Help: "Completed fetch cycles by result",
	}, []string{"result"})

	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricPrefix + "fetch_cycle_duration_seconds",
		Help:    "Fetch cycle processing time",
		Buckets: prometheus.DefBuckets,
	})

	upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "upstream_requests_total",
		Help: "Upstream status API requests by result",
	}, []string{"result"})

	changesDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "changes_detected_total",
		Help: "Status transitions detected",
	})

	dbReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "db_reconnects_total",
		Help: "Database reconnect attempts",
	})

	ipcRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "ipc_requests_total",
		Help: "IPC requests served by the master, by message type and result",
	}, []string{"type", "result"})

	ipcDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricPrefix + "ipc_request_duration_seconds",
		Help:    "IPC round-trip time observed by the proxy",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})

	safeMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: metricPrefix + "safe_mode",
		Help: "1 while the fetcher is in safe mode",
	})

	lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: metricPrefix + "last_success_timestamp_seconds",
		Help: "Unix time of the last successful cycle",
	})
)

func init() {
	prometheus.MustRegister(
		cycleTotal,
		cycleDuration,
		upstreamRequests,
		changesDetected,
		dbReconnects,
		ipcRequests,
		ipcDuration,
		safeMode,
		lastSuccess,
	)
}

// ObserveCycle records one fetch cycle.
func ObserveCycle(result string, d time.Duration) {
	cycleTotal.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		cycleDuration.Observe(d.Seconds())
		lastSuccess.SetToCurrentTime()
	}
}

// ObserveUpstream records one upstream request.
func ObserveUpstream(result string) {
	upstreamRequests.WithLabelValues(result).Inc()
}

// AddChanges records detected transitions.
func AddChanges(n int) {
	if n > 0 {
		changesDetected.Add(float64(n))
	}
}

// IncDBReconnect records one reconnect attempt.
func IncDBReconnect() {
	dbReconnects.Inc()
}

// ObserveIPCServed records one request handled by the master side.
func ObserveIPCServed(msgType, result string) {
	ipcRequests.WithLabelValues(msgType, result).Inc()
}

// ObserveIPCRoundTrip records one proxy round trip.
func ObserveIPCRoundTrip(d time.Duration) {
	ipcDuration.Observe(d.Seconds())
}

// SetSafeMode flips the safe-mode gauge.
func SetSafeMode(on bool) {
	if on {
		safeMode.Set(1)
	} else {
		safeMode.Set(0)
	}
}
