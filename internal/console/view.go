// Package console is the terminal surface of the viewer: it renders the
// session state as text lines and turns typed commands into controller
// operations.
package console

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"camstream/internal/session"
)

// View renders controller updates as single lines on a writer.
type View struct {
	mu  sync.Mutex
	w   io.Writer
	log *slog.Logger

	status   session.Status
	info     session.Info
	visible  bool
	controls bool
}

var _ session.View = (*View)(nil)

// NewView returns a View writing to w.
func NewView(w io.Writer, log *slog.Logger) *View {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &View{w: w, log: log, status: session.StatusOffline}
}

func (v *View) SetStatus(s session.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == s {
		return
	}
	v.status = s
	v.printf("status: %s", statusLabel(s))
}

func (v *View) SetStreamInfo(i session.Info) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.info == i {
		return
	}
	v.info = i
	addr := i.CameraAddress
	if addr == "" {
		addr = "-"
	}
	v.printf("stream: %s | camera %s | path %s | [%s]", i.VariantLabel, addr, i.StreamPath, i.SwitchLabel)
}

func (v *View) SetPlayerVisible(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.visible == b {
		return
	}
	v.visible = b
	if b {
		v.printf("player: showing stream")
	} else {
		v.printf("player: hidden")
	}
}

func (v *View) SetControlsEnabled(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.controls = b
	if !b {
		v.printf("controls disabled: configure the camera with 'set ip=<address>' and 'save'")
	}
}

func (v *View) Alert(a session.Alert) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.printf("%s: %s", a.Level, a.Message)
}

func (v *View) SettingsAlert(a session.Alert) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.printf("settings %s: %s", a.Level, a.Message)
}

// ControlsEnabled reports whether stream controls are currently usable.
func (v *View) ControlsEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.controls
}

// Printf writes an arbitrary line, serialized with the controller updates.
func (v *View) Printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.printf(format, args...)
}

func (v *View) printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	v.log.Debug("view", slog.String("line", line))
	fmt.Fprintln(v.w, line)
}

func statusLabel(s session.Status) string {
	switch s {
	case session.StatusOnline:
		return "Stream Online"
	case session.StatusConnecting:
		return "Connecting..."
	default:
		return "Stream Offline"
	}
}
