package ws

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gazewatch/backend/internal/session"
)

// ProtocolVersion is announced in the connection welcome.
const ProtocolVersion = "1.0.0"

const welcomeText = "Eye tracking connected"

// Client-facing error texts.
const (
	errTextInvalidJSON = "Invalid JSON format"
	errTextUnknownType = "Unknown message type: "
)

type MessageType string

// Server → client.
const (
	MsgConnection MessageType = "connection"
	MsgPong       MessageType = "pong"
	MsgStatus     MessageType = "status"
	MsgEyeData    MessageType = "eye_data"
	MsgError      MessageType = "error"
)

// Client → server.
const (
	CmdStartTracking MessageType = "start_tracking"
	CmdStopTracking  MessageType = "stop_tracking"
	CmdPing          MessageType = "ping"
	CmdStatus        MessageType = "status"
)

// ErrMalformed is returned by DecodeCommand for payloads that are not a JSON
// object.
var ErrMalformed = errors.New("malformed message")

func timestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

type ServerInfo struct {
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type ConnectionMessage struct {
	Type       MessageType `json:"type"`
	Message    string      `json:"message"`
	Timestamp  string      `json:"timestamp"`
	ServerInfo ServerInfo  `json:"server_info"`
}

type PongMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

type StatusMessage struct {
	Type             MessageType `json:"type"`
	IsTracking       bool        `json:"is_tracking"`
	ConnectedClients int         `json:"connected_clients"`
	Timestamp        string      `json:"timestamp"`
}

type EyeDataMessage struct {
	Type         MessageType `json:"type"`
	Timestamp    string      `json:"timestamp"`
	FaceDetected bool        `json:"face_detected"`
	EyeCount     int         `json:"eye_count"`
	LookingAway  bool        `json:"looking_away"`
	Confidence   float64     `json:"confidence"`
	FaceCount    int         `json:"face_count"`
}

type ErrorMessage struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

func newEyeData(ev session.DetectionEvent) EyeDataMessage {
	return EyeDataMessage{
		Type:         MsgEyeData,
		Timestamp:    timestamp(ev.Timestamp),
		FaceDetected: ev.FaceDetected,
		EyeCount:     ev.EyeCount,
		LookingAway:  ev.LookingAway,
		Confidence:   ev.Confidence,
		FaceCount:    ev.FaceCount,
	}
}

func newError(message string, at time.Time) ErrorMessage {
	return ErrorMessage{Type: MsgError, Message: message, Timestamp: timestamp(at)}
}

// Command is a decoded client message. The concrete types below are the only
// implementations.
type Command interface {
	command()
}

type (
	StartTracking struct{}
	StopTracking  struct{}
	Ping          struct{}
	StatusQuery   struct{}
	// Unknown carries the client's type value as text. A missing or null type
	// is reported as "none".
	Unknown struct{ Type string }
)

func (StartTracking) command() {}
func (StopTracking) command()  {}
func (Ping) command()          {}
func (StatusQuery) command()   {}
func (Unknown) command()       {}

// DecodeCommand parses one inbound text frame. Extra fields are ignored.
func DecodeCommand(data []byte) (Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrMalformed
	}

	raw, ok := fields["type"]
	if !ok || string(raw) == "null" {
		return Unknown{Type: "none"}, nil
	}

	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		// Non-string type: report it as it was sent.
		return Unknown{Type: string(raw)}, nil
	}

	switch MessageType(name) {
	case CmdStartTracking:
		return StartTracking{}, nil
	case CmdStopTracking:
		return StopTracking{}, nil
	case CmdPing:
		return Ping{}, nil
	case CmdStatus:
		return StatusQuery{}, nil
	default:
		return Unknown{Type: name}, nil
	}
}

// commandLabel names a command for logs and metrics.
func commandLabel(cmd Command) string {
	switch cmd.(type) {
	case StartTracking:
		return string(CmdStartTracking)
	case StopTracking:
		return string(CmdStopTracking)
	case Ping:
		return string(CmdPing)
	case StatusQuery:
		return string(CmdStatus)
	default:
		return "unknown"
	}
}
