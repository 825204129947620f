// Package metrics holds the prometheus collectors for relay traffic and
// worker activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	relayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbox_relay_calls_total",
			Help: "Number of relay calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)
	retriesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailbox_retries_scheduled_total",
			Help: "Number of relay calls rescheduled after a retryable failure",
		},
	)
	filesDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailbox_files_downloaded_total",
			Help: "Number of files downloaded from mailboxes",
		},
	)
	filesUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailbox_files_uploaded_total",
			Help: "Number of files uploaded to mailboxes",
		},
	)
	activeWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailbox_active_workers",
			Help: "Number of started and not yet destroyed workers by kind",
		},
		[]string{"kind"},
	)
)

// Collectors returns every collector in this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{relayCalls, retriesScheduled, filesDownloaded, filesUploaded, activeWorkers}
}

// Init registers the collectors with reg.
func Init(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}

// RelayCall counts one relay call attempt.
func RelayCall(op, outcome string) {
	relayCalls.WithLabelValues(op, outcome).Inc()
}

// RetryScheduled counts one backoff reschedule.
func RetryScheduled() {
	retriesScheduled.Inc()
}

// FileDownloaded counts one file fetched and handed off.
func FileDownloaded() {
	filesDownloaded.Inc()
}

// FileUploaded counts one batch file uploaded.
func FileUploaded() {
	filesUploaded.Inc()
}

// WorkerStarted and WorkerDestroyed track the active worker gauge.
func WorkerStarted(kind string) {
	activeWorkers.WithLabelValues(kind).Inc()
}

func WorkerDestroyed(kind string) {
	activeWorkers.WithLabelValues(kind).Dec()
}
