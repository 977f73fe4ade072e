package session

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of a Tracker.
type State int32

const (
	Idle State = iota
	Running
	Stopped
)

var stateNames = map[State]string{
	Idle:    "idle",
	Running: "running",
	Stopped: "stopped",
}

var stateFromName = map[string]State{
	"idle":    Idle,
	"running": Running,
	"stopped": Stopped,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}

func (s State) IsTerminal() bool {
	return s == Stopped
}

// StopReason records which transition moved a Tracker to Stopped.
type StopReason int

const (
	ReasonNone StopReason = iota
	ReasonStopRequested
	ReasonCancelled
	ReasonSendFailed
	ReasonCaptureFailed
	ReasonCameraUnavailable
)

var reasonNames = map[StopReason]string{
	ReasonNone:              "none",
	ReasonStopRequested:     "stop_requested",
	ReasonCancelled:         "cancelled",
	ReasonSendFailed:        "send_failed",
	ReasonCaptureFailed:     "capture_failed",
	ReasonCameraUnavailable: "camera_unavailable",
}

func (r StopReason) String() string {
	if n, ok := reasonNames[r]; ok {
		return n
	}
	return "unknown"
}

func (r StopReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// ConnInfo describes one live connection in the Registry.
type ConnInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	Tracking    bool      `json:"tracking"`
}

func (c *ConnInfo) Clone() *ConnInfo {
	cp := *c
	return &cp
}
