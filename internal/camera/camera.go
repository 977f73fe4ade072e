// Package camera acquires capture devices for tracking sessions.
//
// A Source walks a list of device indices and hands out the first device
// that opens as an exclusively owned Handle. Drivers plug in through the
// Opener interface: the OpenCV driver is compiled with the "gocv" build tag,
// mock mode supplies a synthetic one.
package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrResourceUnavailable is returned by Acquire when no index opens.
	ErrResourceUnavailable = errors.New("could not open camera on any index")
	// ErrReadFailed marks a single failed frame read. Callers skip the frame.
	ErrReadFailed = errors.New("failed to read frame")
	// ErrNoDriver is returned by the default opener when the binary was built
	// without a capture driver.
	ErrNoDriver = errors.New("no capture driver compiled in")
	// ErrReleased is returned when reading from a released handle.
	ErrReleased = errors.New("camera handle released")
)

// Frame is one captured image in packed BGR order (3 bytes per pixel).
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// Device is an opened capture device.
type Device interface {
	Read() (Frame, error)
	Close() error
}

// Opener opens the device at a given index. An implementation that gets a
// device object back from the driver but finds it unusable returns both the
// device and an error; the Source closes it before trying the next index.
type Opener interface {
	Open(index int) (Device, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(index int) (Device, error)

func (f OpenerFunc) Open(index int) (Device, error) { return f(index) }

type Source struct {
	opener  Opener
	indices []int
	log     logrus.FieldLogger
}

func NewSource(opener Opener, indices []int, log logrus.FieldLogger) *Source {
	if len(indices) == 0 {
		indices = []int{0, 1, 2}
	}
	return &Source{
		opener:  opener,
		indices: append([]int(nil), indices...),
		log:     log,
	}
}

// Acquire returns a handle to the first device that opens, in index order.
func (s *Source) Acquire() (*Handle, error) {
	var lastErr error
	for _, idx := range s.indices {
		dev, err := s.opener.Open(idx)
		if err != nil {
			if dev != nil {
				if cerr := dev.Close(); cerr != nil {
					s.log.WithField("index", idx).Warnf("closing partially opened camera: %v", cerr)
				}
			}
			s.log.WithField("index", idx).Debugf("camera open failed: %v", err)
			lastErr = err
			continue
		}
		if dev == nil {
			lastErr = fmt.Errorf("index %d: driver returned no device", idx)
			continue
		}
		s.log.WithField("index", idx).Info("camera opened")
		return &Handle{dev: dev, index: idx, log: s.log}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceUnavailable, lastErr)
	}
	return nil, ErrResourceUnavailable
}

// Handle is an exclusively owned, releasable capture device.
type Handle struct {
	dev   Device
	index int
	log   logrus.FieldLogger

	mu       sync.Mutex
	released bool
}

func (h *Handle) Index() int {
	if h == nil {
		return -1
	}
	return h.index
}

// Read captures one frame. Driver failures are reported as ErrReadFailed.
func (h *Handle) Read() (Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return Frame{}, ErrReleased
	}
	f, err := h.dev.Read()
	if err != nil {
		if errors.Is(err, ErrReadFailed) {
			return Frame{}, err
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return f, nil
}

// Release closes the device. It is safe to call more than once and on a nil
// handle.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	if err := h.dev.Close(); err != nil {
		h.log.WithField("index", h.index).Warnf("camera close: %v", err)
		return
	}
	h.log.WithField("index", h.index).Info("camera released")
}

func (h *Handle) Released() bool {
	if h == nil {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}
