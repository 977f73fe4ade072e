package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gazewatch/backend/internal/camera"
	"github.com/gazewatch/backend/internal/detect"
)

// ErrStopRequested is the cancellation cause used for a client stop_tracking.
// Any other cause is treated as an external cancellation (disconnect or
// shutdown).
var ErrStopRequested = errors.New("stop requested")

// CameraUnavailableMessage is sent to the client when no camera opens.
const CameraUnavailableMessage = "Could not open camera - no camera available"

// Sink receives a tracker's output. SendEvent must return an error once the
// transport is closed.
type Sink interface {
	SendEvent(ev DetectionEvent) error
	SendError(message string) error
}

// Observer is notified of tracker activity. All methods may be called from the
// tracker goroutine.
type Observer interface {
	StateChanged(from, to State)
	EventSent()
	CaptureFailed()
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State) {}
func (nopObserver) EventSent()                {}
func (nopObserver) CaptureFailed()            {}

type TrackerConfig struct {
	Interval        time.Duration
	MaxReadFailures int
}

// Tracker is one connection's capture → detect → send loop. It moves
// Idle → Running → Stopped (or Idle → Stopped when no camera opens) and owns
// the camera handle for the whole Running phase.
type Tracker struct {
	source   *camera.Source
	detector detect.Detector
	sink     Sink
	cfg      TrackerConfig
	log      logrus.FieldLogger
	obs      Observer

	state  atomic.Int32
	reason atomic.Int32
	sent   atomic.Uint64
}

func NewTracker(source *camera.Source, detector detect.Detector, sink Sink, cfg TrackerConfig, log logrus.FieldLogger, obs Observer) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.MaxReadFailures <= 0 {
		cfg.MaxReadFailures = 50
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Tracker{
		source:   source,
		detector: detector,
		sink:     sink,
		cfg:      cfg,
		log:      log,
		obs:      obs,
	}
}

func (t *Tracker) State() State {
	return State(t.state.Load())
}

func (t *Tracker) Reason() StopReason {
	return StopReason(t.reason.Load())
}

// Active reports whether the tracker has not yet stopped. A tracker waiting to
// acquire its camera is active.
func (t *Tracker) Active() bool {
	return !t.State().IsTerminal()
}

// EventsSent is the number of events successfully handed to the sink.
func (t *Tracker) EventsSent() uint64 {
	return t.sent.Load()
}

func (t *Tracker) setState(to State) {
	from := State(t.state.Swap(int32(to)))
	if from == to {
		return
	}
	t.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("tracker state change")
	t.obs.StateChanged(from, to)
}

// Run acquires a camera and streams events until ctx is cancelled, the sink
// fails, or capture fails irrecoverably. The camera is released before Run
// returns on every path.
func (t *Tracker) Run(ctx context.Context) StopReason {
	reason := t.run(ctx)
	t.reason.Store(int32(reason))
	t.setState(Stopped)
	t.log.WithFields(logrus.Fields{
		"reason": reason,
		"events": t.EventsSent(),
	}).Info("tracking stopped")
	return reason
}

func (t *Tracker) run(ctx context.Context) StopReason {
	if ctx.Err() != nil {
		return cancelReason(ctx)
	}

	handle, err := t.source.Acquire()
	if err != nil {
		t.log.Errorf("camera acquisition failed: %v", err)
		if serr := t.sink.SendError(CameraUnavailableMessage); serr != nil {
			t.log.Debugf("reporting camera failure: %v", serr)
		}
		return ReasonCameraUnavailable
	}
	defer handle.Release()

	t.setState(Running)
	t.log.WithField("index", handle.Index()).Info("tracking started")

	timer := time.NewTimer(t.cfg.Interval)
	defer timer.Stop()

	failures := 0
	for {
		if ctx.Err() != nil {
			return cancelReason(ctx)
		}

		ev, err := t.capture(handle)
		if err != nil {
			failures++
			t.obs.CaptureFailed()
			t.log.WithField("consecutive", failures).Warnf("frame skipped: %v", err)
			if failures >= t.cfg.MaxReadFailures {
				msg := fmt.Sprintf("Camera capture failed: %v", err)
				if serr := t.sink.SendError(msg); serr != nil {
					return ReasonSendFailed
				}
				return ReasonCaptureFailed
			}
		} else {
			failures = 0
			if err := t.sink.SendEvent(ev); err != nil {
				t.log.Infof("send failed, stopping: %v", err)
				return ReasonSendFailed
			}
			t.sent.Add(1)
			t.obs.EventSent()
		}

		timer.Reset(t.cfg.Interval)
		select {
		case <-ctx.Done():
			return cancelReason(ctx)
		case <-timer.C:
		}
	}
}

// capture reads and analyses one frame. Read and detector failures are both
// transient.
func (t *Tracker) capture(handle *camera.Handle) (DetectionEvent, error) {
	frame, err := handle.Read()
	if err != nil {
		return DetectionEvent{}, err
	}
	res, err := t.detector.Detect(frame)
	if err != nil {
		return DetectionEvent{}, fmt.Errorf("detect: %w", err)
	}
	return BuildEvent(res, time.Now()), nil
}

func cancelReason(ctx context.Context) StopReason {
	if errors.Is(context.Cause(ctx), ErrStopRequested) {
		return ReasonStopRequested
	}
	return ReasonCancelled
}
