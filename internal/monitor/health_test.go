package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

type fixedCounts struct{ conns, tracking int }

func (c fixedCounts) Count() int         { return c.conns }
func (c fixedCounts) TrackingCount() int { return c.tracking }

type stubSampler struct {
	info ProcessInfo
	err  error
}

func (s *stubSampler) Sample() (ProcessInfo, error) { return s.info, s.err }

func TestSnapshotHealthy(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sampler := &stubSampler{info: ProcessInfo{PID: 42, RSSBytes: 1024}}
	h := NewHealth(fixedCounts{conns: 3, tracking: 2}, sampler, nil, "1.0.0", logger)

	snap := h.Snapshot()
	if snap.Status != StatusHealthy {
		t.Errorf("Status = %s, want healthy", snap.Status)
	}
	if snap.Connections != 3 || snap.TrackingSessions != 2 {
		t.Errorf("counts = %d/%d, want 3/2", snap.Connections, snap.TrackingSessions)
	}
	if snap.Process == nil || snap.Process.PID != 42 {
		t.Errorf("Process = %+v", snap.Process)
	}
	if snap.Version != "1.0.0" {
		t.Errorf("Version = %q", snap.Version)
	}
}

func TestSnapshotDegradedOnSampleError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sampler := &stubSampler{err: errors.New("permission denied")}
	h := NewHealth(fixedCounts{}, sampler, nil, "1.0.0", logger)

	h.Snapshot()
	snap := h.Snapshot()
	if snap.Status != StatusDegraded {
		t.Errorf("Status = %s, want degraded", snap.Status)
	}
	if snap.Error != "permission denied" || snap.Process != nil {
		t.Errorf("snapshot = %+v", snap)
	}
	if got := len(hook.AllEntries()); got != 1 {
		t.Errorf("logged %d entries for a repeated failure, want 1", got)
	}

	sampler.err = nil
	if snap := h.Snapshot(); snap.Status != StatusHealthy {
		t.Errorf("Status after recovery = %s, want healthy", snap.Status)
	}
	if last := hook.LastEntry(); last == nil || last.Message != "process sampling recovered" {
		t.Errorf("recovery not logged: %+v", last)
	}
}

func TestHealthHandler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	draining := false
	h := NewHealth(fixedCounts{conns: 1}, nil, func() bool { return draining }, "1.0.0", logger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Connections != 1 || snap.Status != StatusHealthy {
		t.Errorf("snapshot = %+v", snap)
	}

	draining = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code while draining = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status code = %d, want 405", rec.Code)
	}
}
