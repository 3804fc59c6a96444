package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

// RegisterDBMetrics exposes row-count gauges over the status tables. Call
// once after the pool is connected.
func RegisterDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "active_overrides",
			Help: "Status overrides currently flagged active",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM status_overrides WHERE active")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "change_log_rows",
			Help: "Rows in the status change log",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM status_changes")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
