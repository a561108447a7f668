package session

import (
	"camstream/internal/camera"
)

// Phase is the controller's position in the session lifecycle.
type Phase string

const (
	// PhaseIdle means no session is confirmed or requested.
	PhaseIdle Phase = "idle"
	// PhaseStarting means a start request is in flight.
	PhaseStarting Phase = "starting"
	// PhaseSettling means the backend confirmed the start and the player is
	// waiting for segments to become available.
	PhaseSettling Phase = "settling"
	// PhaseLive means the player has been given the source.
	PhaseLive Phase = "live"
)

// Status is the stream indicator shown to the operator.
type Status string

const (
	StatusOffline    Status = "offline"
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
)

// Level is the severity of an alert.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// Alert is a message surfaced to the operator.
type Alert struct {
	Level   Level
	Message string
}

// Info is the stream information panel.
type Info struct {
	Variant       camera.Variant
	VariantLabel  string
	SwitchLabel   string
	CameraAddress string
	StreamPath    string
}

// View is the UI surface driven by the controller. Methods are called with
// the controller's lock held, in the order the updates happen, and must not
// call back into the controller.
type View interface {
	SetStatus(Status)
	SetStreamInfo(Info)
	SetPlayerVisible(bool)
	SetControlsEnabled(bool)
	Alert(Alert)
	SettingsAlert(Alert)
}

// Snapshot is a copy of the controller state.
type Snapshot struct {
	Phase      Phase
	Streaming  bool
	Variant    camera.Variant
	Settings   camera.Settings
	Configured bool
	HasPlayer  bool
	Source     string
	SessionID  string
	Epoch      uint64
}
