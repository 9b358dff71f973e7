// Package metrics exposes Prometheus instruments for recordings, uploads
// and playlist refreshes.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmylchreest/tvrec/internal/recorder"
)

const namespace = "tvrec"

// Metrics holds every instrument. It implements recorder.Observer and
// uploader.Observer.
type Metrics struct {
	transitions     *prometheus.CounterVec
	finished        *prometheus.CounterVec
	inState         *prometheus.GaugeVec
	recordedSeconds prometheus.Counter
	uploadAttempts  *prometheus.CounterVec
	rateLimited     prometheus.Counter
	rateLimitWait   prometheus.Counter
	refreshes       *prometheus.CounterVec
	channels        *prometheus.GaugeVec
	jobRuns         *prometheus.CounterVec

	mu     sync.Mutex
	states map[string]recorder.Status
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_transitions_total",
			Help:      "Recording status transitions by target status.",
		}, []string{"status"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_finished_total",
			Help:      "Recordings that reached a terminal status.",
		}, []string{"status"}),
		inState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recordings_active",
			Help:      "Recordings currently in each non-terminal status.",
		}, []string{"status"}),
		recordedSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_seconds_total",
			Help:      "Requested length of completed recordings.",
		}),
		uploadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_attempts_total",
			Help:      "Upload attempts by result.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_rate_limited_total",
			Help:      "Uploads deferred by a Bot API rate limit.",
		}),
		rateLimitWait: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_rate_limit_wait_seconds_total",
			Help:      "Time spent waiting out Bot API rate limits.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playlist_refreshes_total",
			Help:      "Playlist refresh attempts by playlist and result.",
		}, []string{"playlist", "result"}),
		channels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playlist_channels",
			Help:      "Channels in the last successfully loaded playlist.",
		}, []string{"playlist"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_job_runs_total",
			Help:      "Maintenance job runs by job and result.",
		}, []string{"job", "result"}),
		states: make(map[string]recorder.Status),
	}
	if reg != nil {
		reg.MustRegister(
			m.transitions, m.finished, m.inState, m.recordedSeconds,
			m.uploadAttempts, m.rateLimited, m.rateLimitWait,
			m.refreshes, m.channels, m.jobRuns,
		)
	}
	return m
}

// OnTransition records a recording status change.
func (m *Metrics) OnTransition(_ context.Context, snap recorder.Snapshot) {
	m.transitions.WithLabelValues(string(snap.Status)).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.states[snap.Key]; ok {
		m.inState.WithLabelValues(string(prev)).Dec()
	}
	if snap.Status.IsTerminal() {
		delete(m.states, snap.Key)
		m.finished.WithLabelValues(string(snap.Status)).Inc()
		if snap.Status == recorder.StatusCompleted {
			m.recordedSeconds.Add(snap.Duration.Seconds())
		}
		return
	}
	m.states[snap.Key] = snap.Status
	m.inState.WithLabelValues(string(snap.Status)).Inc()
}

// UploadAttempt records one upload attempt.
func (m *Metrics) UploadAttempt(_ int, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.uploadAttempts.WithLabelValues(result).Inc()
}

// UploadRateLimited records a rate limit wait.
func (m *Metrics) UploadRateLimited(wait time.Duration) {
	m.rateLimited.Inc()
	m.rateLimitWait.Add(wait.Seconds())
}

// PlaylistRefreshed records a refresh attempt. It matches the channel
// index's refresh hook.
func (m *Metrics) PlaylistRefreshed(playlistID string, channels int, err error) {
	if err != nil {
		m.refreshes.WithLabelValues(playlistID, "failure").Inc()
		return
	}
	m.refreshes.WithLabelValues(playlistID, "success").Inc()
	m.channels.WithLabelValues(playlistID).Set(float64(channels))
}

// JobRan records a maintenance job run.
func (m *Metrics) JobRan(job string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}
