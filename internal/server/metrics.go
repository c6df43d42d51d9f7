package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbfetch/mbfetch/internal/progress"
	"github.com/mbfetch/mbfetch/internal/transfer"
)

var (
	transfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mbfetch_transfers_total",
			Help: "Finished transfers by terminal status",
		},
		[]string{"status"},
	)

	downloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mbfetch_download_bytes_total",
			Help: "Bytes written to disk by downloads",
		},
	)

	extractedEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mbfetch_extracted_entries_total",
			Help: "Archive entries written by extractions",
		},
	)

	transferInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mbfetch_transfer_in_flight",
			Help: "Whether a transfer is currently running",
		},
	)
)

func init() {
	prometheus.MustRegister(transfersTotal)
	prometheus.MustRegister(downloadBytesTotal)
	prometheus.MustRegister(extractedEntriesTotal)
	prometheus.MustRegister(transferInFlight)
}

// observeTransfer records a server-initiated transfer's terminal outcome
// into the Prometheus metrics. It blocks until the worker exits, so it runs
// on its own goroutine.
func (s *Server) observeTransfer(h *transfer.Handle) {
	transferInFlight.Set(1)
	defer transferInFlight.Set(0)

	<-h.Done()

	snap := h.Snapshot()
	status := "failed"
	if snap.Phase == progress.PhaseDone {
		status = "done"
	}
	transfersTotal.WithLabelValues(status).Inc()
	downloadBytesTotal.Add(float64(snap.BytesDone))
	extractedEntriesTotal.Add(float64(snap.EntriesDone))
}
