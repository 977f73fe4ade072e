// Package monitor reports server health: connection and tracking counts plus
// resource usage of the server process.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Status string

const (
	StatusHealthy      Status = "healthy"
	StatusDegraded     Status = "degraded"
	StatusShuttingDown Status = "shutting_down"
)

// Counts is the subset of the connection registry the health report needs.
type Counts interface {
	Count() int
	TrackingCount() int
}

// Sampler is implemented by ProcessSampler.
type Sampler interface {
	Sample() (ProcessInfo, error)
}

type Snapshot struct {
	Status           Status       `json:"status"`
	Version          string       `json:"version"`
	Uptime           string       `json:"uptime"`
	UptimeSeconds    float64      `json:"uptimeSeconds"`
	Connections      int          `json:"connections"`
	TrackingSessions int          `json:"trackingSessions"`
	Process          *ProcessInfo `json:"process,omitempty"`
	Error            string       `json:"error,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

// Health builds Snapshots. A failing process sampler degrades the status
// but never fails the report.
type Health struct {
	counts   Counts
	sampler  Sampler
	draining func() bool
	version  string
	started  time.Time
	log      logrus.FieldLogger

	mu          sync.Mutex
	lastErr     string
	sampleFails int
}

// NewHealth creates a reporter. sampler and draining may be nil.
func NewHealth(counts Counts, sampler Sampler, draining func() bool, version string, log logrus.FieldLogger) *Health {
	return &Health{
		counts:   counts,
		sampler:  sampler,
		draining: draining,
		version:  version,
		started:  time.Now(),
		log:      log,
	}
}

func (h *Health) Snapshot() Snapshot {
	now := time.Now()
	uptime := now.Sub(h.started)
	snap := Snapshot{
		Status:           StatusHealthy,
		Version:          h.version,
		Uptime:           uptime.Round(time.Second).String(),
		UptimeSeconds:    uptime.Seconds(),
		Connections:      h.counts.Count(),
		TrackingSessions: h.counts.TrackingCount(),
		Timestamp:        now,
	}

	if h.sampler != nil {
		info, err := h.sampler.Sample()
		h.recordSample(err)
		if err != nil {
			snap.Status = StatusDegraded
			snap.Error = err.Error()
		} else {
			snap.Process = &info
		}
	}

	if h.draining != nil && h.draining() {
		snap.Status = StatusShuttingDown
	}
	return snap
}

// recordSample logs the first failure of a run and the recovery after it.
func (h *Health) recordSample(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		if h.sampleFails > 0 {
			h.log.WithField("failures", h.sampleFails).Info("process sampling recovered")
		}
		h.sampleFails = 0
		h.lastErr = ""
		return
	}
	h.sampleFails++
	if h.sampleFails == 1 || err.Error() != h.lastErr {
		h.log.Warnf("process sampling failed: %v", err)
	}
	h.lastErr = err.Error()
}

// ServeHTTP answers with the snapshot as JSON; 503 while shutting down.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := h.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if snap.Status == StatusShuttingDown {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(snap)
}
