package session

import (
	"encoding/json"
	"testing"
)

func TestStateMarshalJSON(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Idle, `"idle"`},
		{Running, `"running"`},
		{Stopped, `"stopped"`},
		{State(42), `"unknown"`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.state)
		if err != nil {
			t.Errorf("Marshal(%v) error: %v", tt.state, err)
			continue
		}
		if string(data) != tt.expected {
			t.Errorf("Marshal(%v) = %s, want %s", tt.state, data, tt.expected)
		}
	}
}

func TestStateUnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected State
	}{
		{`"idle"`, Idle},
		{`"running"`, Running},
		{`"stopped"`, Stopped},
	}

	for _, tt := range tests {
		var s State
		if err := json.Unmarshal([]byte(tt.input), &s); err != nil {
			t.Errorf("Unmarshal(%s) error: %v", tt.input, err)
			continue
		}
		if s != tt.expected {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, s, tt.expected)
		}
	}
}

func TestStateIsTerminal(t *testing.T) {
	if Idle.IsTerminal() || Running.IsTerminal() {
		t.Error("Idle and Running must not be terminal")
	}
	if !Stopped.IsTerminal() {
		t.Error("Stopped must be terminal")
	}
}

func TestStopReasonString(t *testing.T) {
	if got := ReasonCameraUnavailable.String(); got != "camera_unavailable" {
		t.Errorf("ReasonCameraUnavailable.String() = %q", got)
	}
	if got := StopReason(99).String(); got != "unknown" {
		t.Errorf("StopReason(99).String() = %q, want unknown", got)
	}
}
