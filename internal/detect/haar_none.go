//go:build !gocv

package detect

import "fmt"

// NewHaar is unavailable without the OpenCV driver.
func NewHaar(opts Options) (Detector, error) {
	return nil, fmt.Errorf("%w: built without gocv (rebuild with -tags gocv or run with -mock)", ErrUnavailable)
}
