package session

import (
	"math"
	"time"

	"github.com/gazewatch/backend/internal/detect"
)

// DetectionEvent summarises one capture. LookingAway always equals
// FaceCount == 0 || EyeCount < 2.
type DetectionEvent struct {
	Timestamp    time.Time
	FaceDetected bool
	FaceCount    int
	EyeCount     int
	Confidence   float64
	LookingAway  bool
}

// BuildEvent derives a DetectionEvent from detector output. With several
// faces the eye count and confidence of the last face win; they are not
// aggregated.
func BuildEvent(res detect.Result, at time.Time) DetectionEvent {
	ev := DetectionEvent{
		Timestamp:    at,
		FaceCount:    len(res.Faces),
		FaceDetected: len(res.Faces) > 0,
	}

	for _, face := range res.Faces {
		eyes := len(face.Eyes)
		ev.EyeCount = eyes
		if eyes >= 2 {
			ev.Confidence = math.Min(1.0, float64(eyes)/2.0)
		} else {
			ev.Confidence = 0.5
		}
	}

	ev.LookingAway = ev.FaceCount == 0 || ev.EyeCount < 2
	return ev
}
