package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camstream/internal/camera"
	"camstream/internal/session"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type fakeController struct {
	mu         sync.Mutex
	ops        []string
	saved      []camera.Settings
	state      session.Snapshot
	err        error
	fullscreen bool
}

func (f *fakeController) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return f.err
}

func (f *fakeController) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeController) State() session.Snapshot { return f.state }

func (f *fakeController) ToggleStream(context.Context) error  { return f.record("toggle") }
func (f *fakeController) StartStream(context.Context) error   { return f.record("start") }
func (f *fakeController) StopStream(context.Context) error    { return f.record("stop") }
func (f *fakeController) SwitchVariant(context.Context) error { return f.record("switch") }
func (f *fakeController) Play(context.Context) error          { return f.record("play") }

func (f *fakeController) SaveSettings(_ context.Context, s camera.Settings) error {
	f.mu.Lock()
	f.saved = append(f.saved, s)
	f.mu.Unlock()
	return f.record("save")
}

func (f *fakeController) ToggleFullscreen() bool {
	f.record("fullscreen")
	return f.fullscreen
}

func TestRun_DispatchesCommands(t *testing.T) {
	out := &syncBuffer{}
	ctrl := &fakeController{fullscreen: true}
	c := New(ctrl, NewView(out, nil), nil)

	in := strings.NewReader("toggle\n\nswitch\nfullscreen\nplay\nstop\nstart\nquit\ntoggle\n")
	require.NoError(t, c.Run(context.Background(), in))

	assert.ElementsMatch(t, []string{"toggle", "switch", "fullscreen", "play", "stop", "start"}, ctrl.Ops())
}

func TestRun_EOF(t *testing.T) {
	ctrl := &fakeController{}
	c := New(ctrl, NewView(&syncBuffer{}, nil), nil)

	require.NoError(t, c.Run(context.Background(), strings.NewReader("start")))
	assert.Equal(t, []string{"start"}, ctrl.Ops())
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(&fakeController{}, NewView(&syncBuffer{}, nil), nil)

	r, w := io.Pipe()
	defer w.Close()
	assert.ErrorIs(t, c.Run(ctx, r), context.Canceled)
}

func TestExec_SetAndSave(t *testing.T) {
	out := &syncBuffer{}
	ctrl := &fakeController{state: session.Snapshot{Settings: camera.DefaultSettings()}}
	c := New(ctrl, NewView(out, nil), nil)
	ctx := context.Background()

	c.Exec(ctx, "set ip=10.0.0.2 username=admin password=s3cret")
	c.Exec(ctx, "set channel=2")
	c.Exec(ctx, "save")
	c.Wait()

	require.Len(t, ctrl.saved, 1)
	saved := ctrl.saved[0]
	assert.Equal(t, "10.0.0.2", saved.IP)
	assert.Equal(t, "admin", saved.Username)
	assert.Equal(t, "s3cret", saved.Password)
	assert.Equal(t, "2", saved.Channel)
	assert.Equal(t, camera.DefaultPort, saved.Port)

	assert.Contains(t, out.String(), "password=***")
	assert.NotContains(t, out.String(), "s3cret")
}

func TestExec_SetRejectsBadInput(t *testing.T) {
	out := &syncBuffer{}
	c := New(&fakeController{}, NewView(out, nil), nil)
	ctx := context.Background()

	c.Exec(ctx, "set ip=10.0.0.2 nope")
	c.Exec(ctx, "set colour=red")
	c.Exec(ctx, "set")

	assert.Equal(t, camera.Settings{}, c.draft, "a failed set must not change the draft")
	text := out.String()
	assert.Contains(t, text, `expected key=value, got "nope"`)
	assert.Contains(t, text, `unknown settings field "colour"`)
	assert.Contains(t, text, "usage: set key=value")
}

func TestExec_ReportsControllerErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{session.ErrNotConfigured, "camera is not configured"},
		{session.ErrStartInFlight, "a stream start is in progress"},
		{session.ErrNotLive, "nothing to play yet"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			out := &syncBuffer{}
			c := New(&fakeController{err: tt.err}, NewView(out, nil), nil)

			c.Exec(context.Background(), "toggle")
			c.Wait()

			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestExec_UnknownAndHelp(t *testing.T) {
	out := &syncBuffer{}
	c := New(&fakeController{}, NewView(out, nil), nil)

	assert.False(t, c.Exec(context.Background(), "dance"))
	assert.False(t, c.Exec(context.Background(), "help"))
	assert.True(t, c.Exec(context.Background(), "QUIT"))

	assert.Contains(t, out.String(), `unknown command "dance"`)
	assert.Contains(t, out.String(), "switch between main and sub stream")
}

func TestExec_Status(t *testing.T) {
	out := &syncBuffer{}
	ctrl := &fakeController{state: session.Snapshot{
		Phase:      session.PhaseLive,
		Streaming:  true,
		Variant:    camera.VariantSub,
		Configured: true,
		SessionID:  "01HZX",
		Source:     "/hls/stream.m3u8?t=1",
		Settings:   camera.Settings{IP: "10.0.0.2", Port: "554"},
	}}
	c := New(ctrl, NewView(out, nil), nil)

	c.Exec(context.Background(), "status")

	text := out.String()
	assert.Contains(t, text, "phase=live streaming=true variant=sub configured=true session=01HZX")
	assert.Contains(t, text, "source: /hls/stream.m3u8?t=1")
	assert.Contains(t, text, "camera: ip=10.0.0.2 port=554")
}

func TestView_RendersUpdates(t *testing.T) {
	out := &syncBuffer{}
	v := NewView(out, nil)

	v.SetStatus(session.StatusConnecting)
	v.SetStatus(session.StatusConnecting)
	v.SetStatus(session.StatusOnline)
	v.SetStreamInfo(session.Info{
		VariantLabel:  "Main Stream",
		SwitchLabel:   "Switch to Sub Stream",
		CameraAddress: "192.168.1.64",
		StreamPath:    camera.DefaultMainStreamPath,
	})
	v.SetPlayerVisible(true)
	v.Alert(session.Alert{Level: session.LevelDanger, Message: "camera unreachable"})
	v.SettingsAlert(session.Alert{Level: session.LevelSuccess, Message: "Settings saved successfully"})
	v.SetControlsEnabled(false)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"status: Connecting...",
		"status: Stream Online",
		"stream: Main Stream | camera 192.168.1.64 | path Streaming/Channels/101 | [Switch to Sub Stream]",
		"player: showing stream",
		"danger: camera unreachable",
		"settings success: Settings saved successfully",
		"controls disabled: configure the camera with 'set ip=<address>' and 'save'",
	}, lines)
	assert.False(t, v.ControlsEnabled())
}
