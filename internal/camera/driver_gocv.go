//go:build gocv

package camera

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// DefaultOpener opens local capture devices through OpenCV.
func DefaultOpener() Opener {
	return OpenerFunc(openVideoDevice)
}

type videoDevice struct {
	cap *gocv.VideoCapture
	img gocv.Mat
	seq uint64
}

func openVideoDevice(index int) (Device, error) {
	capture, err := gocv.OpenVideoCapture(index)
	if err != nil {
		if capture != nil {
			return &videoDevice{cap: capture, img: gocv.NewMat()}, fmt.Errorf("index %d: %w", index, err)
		}
		return nil, fmt.Errorf("index %d: %w", index, err)
	}
	dev := &videoDevice{cap: capture, img: gocv.NewMat()}
	if !capture.IsOpened() {
		return dev, fmt.Errorf("index %d: device not opened", index)
	}
	capture.Set(gocv.VideoCaptureBufferSize, 1)
	return dev, nil
}

func (d *videoDevice) Read() (Frame, error) {
	if ok := d.cap.Read(&d.img); !ok || d.img.Empty() {
		return Frame{}, ErrReadFailed
	}
	d.seq++
	return Frame{
		Seq:       d.seq,
		Timestamp: time.Now(),
		Width:     d.img.Cols(),
		Height:    d.img.Rows(),
		Data:      d.img.ToBytes(),
	}, nil
}

func (d *videoDevice) Close() error {
	d.img.Close()
	return d.cap.Close()
}
