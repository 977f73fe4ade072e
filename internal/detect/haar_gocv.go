//go:build gocv

package detect

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/gazewatch/backend/internal/camera"
)

// haar runs OpenCV cascade classifiers. gocv classifiers are not safe for
// concurrent use, so calls are serialised.
type haar struct {
	mu   sync.Mutex
	opts Options
	face gocv.CascadeClassifier
	eye  gocv.CascadeClassifier
}

// NewHaar loads the face and eye cascades. Missing or unreadable cascade
// files are reported as ErrUnavailable.
func NewHaar(opts Options) (Detector, error) {
	for _, path := range []string{opts.FaceCascade, opts.EyeCascade} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: cascade file %s: %v", ErrUnavailable, path, err)
		}
	}

	face := gocv.NewCascadeClassifier()
	if !face.Load(opts.FaceCascade) {
		face.Close()
		return nil, fmt.Errorf("%w: failed to load face cascade %s", ErrUnavailable, opts.FaceCascade)
	}
	eye := gocv.NewCascadeClassifier()
	if !eye.Load(opts.EyeCascade) {
		face.Close()
		eye.Close()
		return nil, fmt.Errorf("%w: failed to load eye cascade %s", ErrUnavailable, opts.EyeCascade)
	}

	return &haar{opts: opts, face: face, eye: eye}, nil
}

func (h *haar) Detect(frame camera.Frame) (Result, error) {
	img, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return Result{}, fmt.Errorf("frame to mat: %w", err)
	}
	defer img.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	h.mu.Lock()
	defer h.mu.Unlock()

	minFace := image.Pt(h.opts.MinFaceSize, h.opts.MinFaceSize)
	faces := h.face.DetectMultiScaleWithParams(gray, h.opts.ScaleFactor, h.opts.MinNeighbors, 0, minFace, image.Point{})

	res := Result{Faces: make([]Face, 0, len(faces))}
	minEye := image.Pt(h.opts.MinEyeSize, h.opts.MinEyeSize)
	for _, r := range faces {
		roi := gray.Region(r)
		eyes := h.eye.DetectMultiScaleWithParams(roi, h.opts.ScaleFactor, h.opts.MinNeighbors, 0, minEye, image.Point{})
		roi.Close()
		res.Faces = append(res.Faces, Face{Region: r, Eyes: eyes})
	}
	return res, nil
}

func (h *haar) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.face.Close(); err != nil {
		return err
	}
	return h.eye.Close()
}
