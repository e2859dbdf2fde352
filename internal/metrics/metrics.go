package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Scans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance", Name: "scans_total", Help: "Scan decisions by service and outcome",
	}, []string{"service", "outcome"})
	ScanDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance", Name: "scan_denials_total", Help: "Denied scans by reason",
	}, []string{"reason"})
	ScanWarnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance", Name: "scan_warnings_total", Help: "Warnings attached to granted scans",
	}, []string{"warning"})
	LedgerWrite = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance", Name: "ledger_write_seconds", Help: "Ledger append latency",
		Buckets: prometheus.DefBuckets,
	})
	ImportJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance", Name: "import_jobs_total", Help: "Finished import jobs by type and status",
	}, []string{"type", "status"})
	ImportRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance", Name: "import_rows_total", Help: "Processed import rows by result",
	}, []string{"result"})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(Scans, ScanDenials, ScanWarnings, LedgerWrite, ImportJobs, ImportRows, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ScanObserved(service, outcome string) { Scans.WithLabelValues(service, outcome).Inc() }
func ScanDenied(reason string)             { ScanDenials.WithLabelValues(reason).Inc() }
func ScanWarning(warning string)           { ScanWarnings.WithLabelValues(warning).Inc() }

func ObserveLedgerWrite(d time.Duration) { LedgerWrite.Observe(d.Seconds()) }
func ObserveDBPing(d time.Duration)      { DBPing.Observe(d.Seconds()) }

func ImportJobFinished(typ, status string) { ImportJobs.WithLabelValues(typ, status).Inc() }
func ImportRow(result string)              { ImportRows.WithLabelValues(result).Inc() }
