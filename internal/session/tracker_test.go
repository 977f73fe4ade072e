package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/gazewatch/backend/internal/camera"
	"github.com/gazewatch/backend/internal/detect"
)

type stubDevice struct {
	mu       sync.Mutex
	seq      uint64
	failAll  bool
	failNext int
	closed   atomic.Int32
}

func (d *stubDevice) Read() (camera.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return camera.Frame{}, errors.New("sensor gone")
	}
	if d.failNext > 0 {
		d.failNext--
		return camera.Frame{}, errors.New("dropped frame")
	}
	d.seq++
	return camera.Frame{Seq: d.seq, Width: 1, Height: 1, Data: []byte{0, 0, 0}}, nil
}

func (d *stubDevice) Close() error {
	d.closed.Add(1)
	return nil
}

type stubDetector struct {
	result detect.Result
	err    error
}

func (d *stubDetector) Detect(camera.Frame) (detect.Result, error) { return d.result, d.err }
func (d *stubDetector) Close() error                                 { return nil }

type recordingSink struct {
	mu      sync.Mutex
	events  []DetectionEvent
	errs    []string
	failAt  int // fail the Nth SendEvent (1-based); 0 never fails
	eventCh chan DetectionEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{eventCh: make(chan DetectionEvent, 1024)}
}

func (s *recordingSink) SendEvent(ev DetectionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.events)+1 >= s.failAt {
		return errors.New("connection closed")
	}
	s.events = append(s.events, ev)
	s.eventCh <- ev
	return nil
}

func (s *recordingSink) SendError(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, msg)
	return nil
}

func (s *recordingSink) snapshot() ([]DetectionEvent, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DetectionEvent(nil), s.events...), append([]string(nil), s.errs...)
}

type countingObserver struct {
	transitions []string
	mu          sync.Mutex
	captureFail atomic.Int32
	sent        atomic.Int32
}

func (o *countingObserver) StateChanged(from, to State) {
	o.mu.Lock()
	o.transitions = append(o.transitions, from.String()+"->"+to.String())
	o.mu.Unlock()
}
func (o *countingObserver) EventSent()     { o.sent.Add(1) }
func (o *countingObserver) CaptureFailed() { o.captureFail.Add(1) }

func nullLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func sourceWith(dev *stubDevice) *camera.Source {
	return camera.NewSource(camera.OpenerFunc(func(index int) (camera.Device, error) {
		return dev, nil
	}), []int{0}, nullLogger())
}

func unavailableSource() *camera.Source {
	return camera.NewSource(camera.OpenerFunc(func(index int) (camera.Device, error) {
		return nil, errors.New("no device")
	}), []int{0, 1, 2}, nullLogger())
}

func twoEyes() detect.Result {
	return detect.Result{Faces: []detect.Face{faceWithEyes(2)}}
}

func runAsync(tr *Tracker, ctx context.Context) <-chan StopReason {
	done := make(chan StopReason, 1)
	go func() { done <- tr.Run(ctx) }()
	return done
}

func waitReason(t *testing.T, done <-chan StopReason, within time.Duration) StopReason {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(within):
		t.Fatalf("tracker did not stop within %v", within)
		return ReasonNone
	}
}

func waitEvents(t *testing.T, sink *recordingSink, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-sink.eventCh:
		case <-deadline:
			t.Fatalf("received %d of %d events before timeout", i, n)
		}
	}
}

func TestTrackerStopRequested(t *testing.T) {
	dev := &stubDevice{}
	sink := newRecordingSink()
	obs := &countingObserver{}
	tr := NewTracker(sourceWith(dev), &stubDetector{result: twoEyes()}, sink,
		TrackerConfig{Interval: 100 * time.Millisecond}, nullLogger(), obs)

	ctx, cancel := context.WithCancelCause(context.Background())
	done := runAsync(tr, ctx)
	waitEvents(t, sink, 1)

	if tr.State() != Running {
		t.Fatalf("State() = %v, want running", tr.State())
	}

	start := time.Now()
	cancel(ErrStopRequested)
	reason := waitReason(t, done, time.Second)

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("stop took %v, want <= 100ms", elapsed)
	}
	if reason != ReasonStopRequested {
		t.Errorf("reason = %v, want stop_requested", reason)
	}
	if tr.State() != Stopped || tr.Reason() != ReasonStopRequested {
		t.Errorf("State()/Reason() = %v/%v", tr.State(), tr.Reason())
	}
	if got := dev.closed.Load(); got != 1 {
		t.Errorf("device closed %d times, want 1", got)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	want := []string{"idle->running", "running->stopped"}
	if strings.Join(obs.transitions, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", obs.transitions, want)
	}
}

func TestTrackerExternalCancel(t *testing.T) {
	dev := &stubDevice{}
	sink := newRecordingSink()
	tr := NewTracker(sourceWith(dev), &stubDetector{result: twoEyes()}, sink,
		TrackerConfig{Interval: 10 * time.Millisecond}, nullLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(tr, ctx)
	waitEvents(t, sink, 2)
	cancel()

	if reason := waitReason(t, done, time.Second); reason != ReasonCancelled {
		t.Errorf("reason = %v, want cancelled", reason)
	}
	if got := dev.closed.Load(); got != 1 {
		t.Errorf("device closed %d times, want 1", got)
	}
}

func TestTrackerSendFailureStops(t *testing.T) {
	dev := &stubDevice{}
	sink := newRecordingSink()
	sink.failAt = 3
	tr := NewTracker(sourceWith(dev), &stubDetector{result: twoEyes()}, sink,
		TrackerConfig{Interval: 5 * time.Millisecond}, nullLogger(), nil)

	done := runAsync(tr, context.Background())
	if reason := waitReason(t, done, 2*time.Second); reason != ReasonSendFailed {
		t.Errorf("reason = %v, want send_failed", reason)
	}
	if got := dev.closed.Load(); got != 1 {
		t.Errorf("device closed %d times, want 1", got)
	}
	if got := tr.EventsSent(); got != 2 {
		t.Errorf("EventsSent() = %d, want 2", got)
	}
}

func TestTrackerCameraUnavailable(t *testing.T) {
	sink := newRecordingSink()
	obs := &countingObserver{}
	tr := NewTracker(unavailableSource(), &stubDetector{}, sink,
		TrackerConfig{Interval: 5 * time.Millisecond}, nullLogger(), obs)

	reason := tr.Run(context.Background())
	if reason != ReasonCameraUnavailable {
		t.Errorf("reason = %v, want camera_unavailable", reason)
	}

	events, errs := sink.snapshot()
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
	if len(errs) != 1 || errs[0] != CameraUnavailableMessage {
		t.Errorf("errors = %v, want [%q]", errs, CameraUnavailableMessage)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	for _, tn := range obs.transitions {
		if strings.Contains(tn, "running") {
			t.Errorf("tracker entered running: %v", obs.transitions)
		}
	}
}

func TestTrackerSkipsTransientReadFailures(t *testing.T) {
	dev := &stubDevice{failNext: 3}
	sink := newRecordingSink()
	obs := &countingObserver{}
	tr := NewTracker(sourceWith(dev), &stubDetector{result: twoEyes()}, sink,
		TrackerConfig{Interval: 2 * time.Millisecond, MaxReadFailures: 10}, nullLogger(), obs)

	ctx, cancel := context.WithCancelCause(context.Background())
	done := runAsync(tr, ctx)
	waitEvents(t, sink, 2)
	cancel(ErrStopRequested)
	waitReason(t, done, time.Second)

	if got := obs.captureFail.Load(); got != 3 {
		t.Errorf("capture failures = %d, want 3", got)
	}
	_, errs := sink.snapshot()
	if len(errs) != 0 {
		t.Errorf("transient failures produced error messages: %v", errs)
	}
}

func TestTrackerDetectorErrorIsTransient(t *testing.T) {
	dev := &stubDevice{}
	sink := newRecordingSink()
	tr := NewTracker(sourceWith(dev), &stubDetector{err: errors.New("bad frame")}, sink,
		TrackerConfig{Interval: time.Millisecond, MaxReadFailures: 1000}, nullLogger(), nil)

	ctx, cancel := context.WithCancelCause(context.Background())
	done := runAsync(tr, ctx)
	time.Sleep(30 * time.Millisecond)
	cancel(ErrStopRequested)

	if reason := waitReason(t, done, time.Second); reason != ReasonStopRequested {
		t.Errorf("reason = %v, want stop_requested", reason)
	}
	events, errs := sink.snapshot()
	if len(events) != 0 || len(errs) != 0 {
		t.Errorf("events=%d errs=%v, want none", len(events), errs)
	}
}

func TestTrackerCaptureFailure(t *testing.T) {
	dev := &stubDevice{failAll: true}
	sink := newRecordingSink()
	tr := NewTracker(sourceWith(dev), &stubDetector{result: twoEyes()}, sink,
		TrackerConfig{Interval: time.Millisecond, MaxReadFailures: 5}, nullLogger(), nil)

	reason := waitReason(t, runAsync(tr, context.Background()), 2*time.Second)
	if reason != ReasonCaptureFailed {
		t.Errorf("reason = %v, want capture_failed", reason)
	}
	_, errs := sink.snapshot()
	if len(errs) != 1 || !strings.HasPrefix(errs[0], "Camera capture failed: ") {
		t.Errorf("errors = %v, want one capture failure message", errs)
	}
	if got := dev.closed.Load(); got != 1 {
		t.Errorf("device closed %d times, want 1", got)
	}
}

func TestTrackerEventsInOrder(t *testing.T) {
	dev := &stubDevice{}
	sink := newRecordingSink()
	tr := NewTracker(sourceWith(dev), &stubDetector{result: twoEyes()}, sink,
		TrackerConfig{Interval: time.Millisecond}, nullLogger(), nil)

	ctx, cancel := context.WithCancelCause(context.Background())
	done := runAsync(tr, ctx)
	waitEvents(t, sink, 5)
	cancel(ErrStopRequested)
	waitReason(t, done, time.Second)

	events, _ := sink.snapshot()
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("event %d timestamp %v before %v", i, events[i].Timestamp, events[i-1].Timestamp)
		}
	}
	for _, ev := range events {
		if ev.LookingAway || ev.Confidence != 1.0 || ev.EyeCount != 2 {
			t.Errorf("unexpected event %+v", ev)
		}
	}
}

func TestTrackerAlreadyCancelled(t *testing.T) {
	opened := false
	src := camera.NewSource(camera.OpenerFunc(func(int) (camera.Device, error) {
		opened = true
		return &stubDevice{}, nil
	}), nil, nullLogger())
	tr := NewTracker(src, &stubDetector{}, newRecordingSink(), TrackerConfig{}, nullLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if reason := tr.Run(ctx); reason != ReasonCancelled {
		t.Errorf("reason = %v, want cancelled", reason)
	}
	if opened {
		t.Error("camera opened for an already cancelled tracker")
	}
}
