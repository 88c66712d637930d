// Package metrics defines the Prometheus collectors shared by the playback,
// mixer and download subsystems.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TracksStartedTotal counts track starts per narrator.
	TracksStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_tracks_started_total",
			Help: "Total number of tracks started",
		},
		[]string{"narrator"},
	)

	// PlaybackRetriesTotal counts the one-shot transient-error retries.
	PlaybackRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_retries_total",
			Help: "Total number of transient-error playback retries",
		},
	)

	// PlaybackErrorsTotal counts playback failures surfaced to the caller.
	PlaybackErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_errors_total",
			Help: "Total number of surfaced playback failures",
		},
	)

	// PlaybackSecondsTotal counts seconds of audio played.
	PlaybackSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_seconds_total",
			Help: "Total seconds of audio played",
		},
	)

	// AmbientRestartsTotal counts effects restarted by the reconciliation pass.
	AmbientRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ambient_reconcile_restarts_total",
			Help: "Total number of ambient effects restarted by reconciliation",
		},
		[]string{"effect"},
	)

	// DownloadBytesTotal counts bytes transferred by the download manager.
	DownloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "download_bytes_total",
			Help: "Total number of bytes downloaded",
		},
	)

	// DownloadsCompletedTotal counts downloads by outcome.
	DownloadsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downloads_finished_total",
			Help: "Total number of finished downloads by outcome",
		},
		[]string{"outcome"},
	)

	// PlaybackState exports the orchestrator state as a numeric gauge
	// (0 idle, 1 loading, 2 playing, 3 paused, 4 completed).
	PlaybackState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playback_state",
			Help: "Current playback orchestrator state",
		},
	)

	// InterstitialsTriggeredTotal counts ad-mediation trigger signals.
	InterstitialsTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "interstitials_triggered_total",
			Help: "Total number of interstitial trigger signals sent",
		},
	)
)

func init() {
	prometheus.MustRegister(TracksStartedTotal)
	prometheus.MustRegister(PlaybackRetriesTotal)
	prometheus.MustRegister(PlaybackErrorsTotal)
	prometheus.MustRegister(PlaybackSecondsTotal)
	prometheus.MustRegister(AmbientRestartsTotal)
	prometheus.MustRegister(DownloadBytesTotal)
	prometheus.MustRegister(DownloadsCompletedTotal)
	prometheus.MustRegister(PlaybackState)
	prometheus.MustRegister(InterstitialsTriggeredTotal)
}
