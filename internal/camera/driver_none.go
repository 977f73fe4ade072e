//go:build !gocv

package camera

import "fmt"

// DefaultOpener reports ErrNoDriver for every index. Build with -tags gocv to
// capture from real devices.
func DefaultOpener() Opener {
	return OpenerFunc(func(index int) (Device, error) {
		return nil, fmt.Errorf("index %d: %w", index, ErrNoDriver)
	})
}
