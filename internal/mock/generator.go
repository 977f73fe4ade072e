package mock

import (
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand"
	"sync"

	"github.com/gazewatch/backend/internal/camera"
	"github.com/gazewatch/backend/internal/detect"
)

// Pattern names the kind of scene the detector pretends to see.
type Pattern string

const (
	Attentive Pattern = "attentive"
	Glancing  Pattern = "glancing"
	Drifting  Pattern = "drifting"
	Absent    Pattern = "absent"
	Crowd     Pattern = "crowd"
)

// Phase shows one pattern for a number of frames.
type Phase struct {
	Pattern Pattern
	Frames  int
}

// DefaultSchedule cycles through every pattern in about 11.5 seconds at the
// default frame interval.
var DefaultSchedule = []Phase{
	{Attentive, 40},
	{Glancing, 20},
	{Drifting, 30},
	{Absent, 15},
	{Crowd, 10},
}

var errClosed = errors.New("mock detector closed")

// Detector is a synthetic detect.Detector. The scene is chosen from the
// frame sequence number, so every tracking session walks the schedule from
// the start.
type Detector struct {
	schedule []Phase
	period   uint64

	mu     sync.Mutex
	rng    *rand.Rand
	closed bool
}

// NewDetector builds a detector over schedule, or DefaultSchedule when
// schedule is empty. The seed fixes the jitter applied to face positions.
func NewDetector(seed int64, schedule ...Phase) (*Detector, error) {
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	var period uint64
	for _, p := range schedule {
		switch p.Pattern {
		case Attentive, Glancing, Drifting, Absent, Crowd:
		default:
			return nil, fmt.Errorf("%w: unknown mock pattern %q", detect.ErrUnavailable, p.Pattern)
		}
		if p.Frames <= 0 {
			return nil, fmt.Errorf("%w: pattern %q needs a positive frame count", detect.ErrUnavailable, p.Pattern)
		}
		period += uint64(p.Frames)
	}
	return &Detector{
		schedule: append([]Phase(nil), schedule...),
		period:   period,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// PatternAt returns the pattern shown for frame seq and the frame's offset
// within that phase.
func (d *Detector) PatternAt(seq uint64) (Pattern, int) {
	pos := seq % d.period
	for _, p := range d.schedule {
		if pos < uint64(p.Frames) {
			return p.Pattern, int(pos)
		}
		pos -= uint64(p.Frames)
	}
	// unreachable: pos < period
	return d.schedule[len(d.schedule)-1].Pattern, 0
}

func (d *Detector) Detect(frame camera.Frame) (detect.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return detect.Result{}, errClosed
	}

	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 {
		w, h = defaultWidth, defaultHeight
	}
	pattern, tick := d.PatternAt(frame.Seq)

	switch pattern {
	case Attentive:
		return detect.Result{Faces: []detect.Face{d.face(w, h, 0, 2)}}, nil

	case Glancing:
		// Every third frame the head is turned far enough to lose an eye.
		eyes := 2
		if tick%3 == 2 {
			eyes = 1
		}
		return detect.Result{Faces: []detect.Face{d.face(w, h, 0, eyes)}}, nil

	case Drifting:
		swing := math.Sin(float64(tick) / 5.0)
		eyes := 2
		if math.Abs(swing) > 0.8 {
			eyes = 0
		}
		offset := int(swing * float64(w) / 4)
		return detect.Result{Faces: []detect.Face{d.face(w, h, offset, eyes)}}, nil

	case Crowd:
		// The second face only shows eyes on even frames.
		second := 0
		if tick%2 == 0 {
			second = 2
		}
		return detect.Result{Faces: []detect.Face{
			d.face(w, h, -w/4, 2),
			d.face(w, h, w/4, second),
		}}, nil
	}

	return detect.Result{}, nil
}

// face places a face of a third of the frame width around the centre
// shifted by dx, with up to two eyes in its upper half.
func (d *Detector) face(w, h, dx, eyes int) detect.Face {
	size := w / 3
	cx := w/2 + dx + d.rng.Intn(5) - 2
	cy := h/2 + d.rng.Intn(5) - 2
	region := image.Rect(cx-size/2, cy-size/2, cx+size/2, cy+size/2)

	eye := size / 5
	slots := []image.Rectangle{
		image.Rect(size/5, size/4, size/5+eye, size/4+eye),
		image.Rect(size*3/5, size/4, size*3/5+eye, size/4+eye),
	}
	if eyes > len(slots) {
		eyes = len(slots)
	}
	return detect.Face{Region: region, Eyes: slots[:eyes:eyes]}
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
