// Package mock provides a synthetic capture driver and detector so the
// server can run end to end without a camera or OpenCV.
package mock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gazewatch/backend/internal/camera"
)

const (
	defaultWidth  = 160
	defaultHeight = 120
)

// Camera is a synthetic camera.Opener. Devices open only at the indices it
// was created with (any index when none were given).
type Camera struct {
	Width  int
	Height int
	// FailEvery makes every Nth read of a device fail. Zero disables it.
	FailEvery int

	indices map[int]bool

	mu   sync.Mutex
	open int
}

func NewCamera(indices ...int) *Camera {
	c := &Camera{Width: defaultWidth, Height: defaultHeight}
	if len(indices) > 0 {
		c.indices = make(map[int]bool, len(indices))
		for _, idx := range indices {
			c.indices[idx] = true
		}
	}
	return c
}

func (c *Camera) Open(index int) (camera.Device, error) {
	if c.indices != nil && !c.indices[index] {
		return nil, fmt.Errorf("mock camera: no device at index %d", index)
	}
	c.mu.Lock()
	c.open++
	c.mu.Unlock()

	w, h := c.Width, c.Height
	if w <= 0 || h <= 0 {
		w, h = defaultWidth, defaultHeight
	}
	return &device{cam: c, index: index, width: w, height: h, failEvery: c.FailEvery}, nil
}

// OpenCount is the number of devices opened and not yet closed.
func (c *Camera) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

type device struct {
	cam       *Camera
	index     int
	width     int
	height    int
	failEvery int

	mu     sync.Mutex
	reads  int
	seq    uint64
	closed bool
}

func (d *device) Read() (camera.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return camera.Frame{}, camera.ErrReleased
	}
	d.reads++
	if d.failEvery > 0 && d.reads%d.failEvery == 0 {
		return camera.Frame{}, camera.ErrReadFailed
	}

	d.seq++
	return camera.Frame{
		Seq:       d.seq,
		Timestamp: time.Now(),
		Width:     d.width,
		Height:    d.height,
		Data:      gradient(d.width, d.height, d.seq),
	}, nil
}

func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("mock camera: device already closed")
	}
	d.closed = true

	d.cam.mu.Lock()
	d.cam.open--
	d.cam.mu.Unlock()
	return nil
}

// gradient fills a BGR frame with a diagonal ramp that shifts every frame.
func gradient(w, h int, seq uint64) []byte {
	data := make([]byte, w*h*3)
	shift := int(seq % 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := byte((x + y + shift) % 256)
			i := (y*w + x) * 3
			data[i], data[i+1], data[i+2] = v, v/2, 255-v
		}
	}
	return data
}
