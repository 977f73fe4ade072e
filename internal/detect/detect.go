// Package detect defines the face/eye detection capability used by tracking
// sessions. The detection algorithm itself lives behind the Detector
// interface; the OpenCV Haar cascade implementation is built with the "gocv"
// tag.
package detect

import (
	"errors"
	"image"

	"github.com/gazewatch/backend/internal/camera"
)

// ErrUnavailable means detection resources are missing or unusable. It is a
// fatal startup condition.
var ErrUnavailable = errors.New("detection resources unavailable")

// Face is one detected face and the eyes found inside it. Eye rectangles are
// relative to the face region.
type Face struct {
	Region image.Rectangle
	Eyes   []image.Rectangle
}

// Result is the detector output for one frame, in detection order.
type Result struct {
	Faces []Face
}

type Detector interface {
	Detect(frame camera.Frame) (Result, error)
	Close() error
}

// Options mirror the cascade parameters of the detector configuration.
type Options struct {
	FaceCascade  string
	EyeCascade   string
	ScaleFactor  float64
	MinNeighbors int
	MinFaceSize  int
	MinEyeSize   int
}

// Capabilities advertised to clients in the welcome message.
var Capabilities = []string{"eye_tracking", "face_detection"}
