package models

import "encoding/json"

// Status is the coarse lifecycle state of a backend.
type Status int

const (
	Disconnected Status = iota
	Launching
	Running
	Paused
	Stepping
	// Error marks a partial connection: one link came up and the other
	// did not. A backend never stays half-attached silently.
	Error
	Shutdown
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Launching:
		return "launching"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stepping:
		return "stepping"
	case Error:
		return "error"
	case Shutdown:
		return "shutdown"
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(p []byte) error {
	var name string
	if err := json.Unmarshal(p, &name); err != nil {
		return err
	}
	switch name {
	case "disconnected":
		*s = Disconnected
	case "launching":
		*s = Launching
	case "running":
		*s = Running
	case "paused":
		*s = Paused
	case "stepping":
		*s = Stepping
	case "error":
		*s = Error
	case "shutdown":
		*s = Shutdown
	default:
		return Argumentf("bad status %q", name)
	}
	return nil
}

// StatusInfo is the status record handed to the API and the event stream.
// Pid and the per-link liveness flags are only meaningful for the
// socket-based backend.
type StatusInfo struct {
	Backend string `json:"backend"`
	Status  Status `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Pid     int    `json:"pid,omitempty"`
	QMPLive bool   `json:"qmpLive,omitempty"`
	GDBLive bool   `json:"gdbLive,omitempty"`
}
