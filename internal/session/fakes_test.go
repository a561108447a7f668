package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"camstream/internal/backend"
	"camstream/internal/camera"
	"camstream/internal/player"
)

// manualScheduler runs timers synchronously from Advance.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves time forward and runs every timer that came due, in order.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type call struct {
	Op      string
	Variant camera.Variant
}

// fakeBackend records every call. A non-nil gate blocks StartStream until
// released, after signalling on entered.
type fakeBackend struct {
	mu        sync.Mutex
	calls     []call
	startRes  backend.StartResult
	startErr  error
	stopErr   error
	saveMsg   string
	saveErr   error
	saved     []camera.Settings
	gate      chan struct{}
	entered   chan struct{}
	onRequest func(op string)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		startRes: backend.StartResult{StreamURL: "/hls/a.m3u8", SessionID: "01HZX"},
		saveMsg:  "Settings saved successfully",
	}
}

func (b *fakeBackend) record(op string, v camera.Variant) {
	b.mu.Lock()
	b.calls = append(b.calls, call{Op: op, Variant: v})
	hook := b.onRequest
	b.mu.Unlock()
	if hook != nil {
		hook(op)
	}
}

func (b *fakeBackend) StartStream(ctx context.Context, v camera.Variant) (backend.StartResult, error) {
	b.record("start", v)
	b.mu.Lock()
	gate, entered := b.gate, b.entered
	res, err := b.startRes, b.startErr
	b.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return res, err
}

func (b *fakeBackend) StopStream(ctx context.Context) error {
	b.record("stop", "")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopErr
}

func (b *fakeBackend) SaveSettings(ctx context.Context, s camera.Settings) (string, error) {
	b.record("save", "")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr == nil {
		b.saved = append(b.saved, s)
	}
	return b.saveMsg, b.saveErr
}

func (b *fakeBackend) Calls() []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]call(nil), b.calls...)
}

func (b *fakeBackend) Ops() []string {
	var ops []string
	for _, c := range b.Calls() {
		ops = append(ops, c.Op)
	}
	return ops
}

type fakePlayer struct {
	mu         sync.Mutex
	srcs       []string
	mimeTypes  []string
	plays      int
	pauses     int
	disposed   bool
	fullscreen bool
	playErr    error
	onError    func(*player.MediaError)
	gestures   int
}

func (p *fakePlayer) Src(url, mimeType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.srcs = append(p.srcs, url)
	p.mimeTypes = append(p.mimeTypes, mimeType)
}

func (p *fakePlayer) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	if player.IsUserGesture(ctx) {
		p.gestures++
	}
	return p.playErr
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
}

func (p *fakePlayer) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed = true
}

func (p *fakePlayer) IsFullscreen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fullscreen
}

func (p *fakePlayer) RequestFullscreen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fullscreen = true
}

func (p *fakePlayer) ExitFullscreen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fullscreen = false
}

func (p *fakePlayer) OnError(fn func(*player.MediaError)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
}

func (p *fakePlayer) emit(err *player.MediaError) {
	p.mu.Lock()
	fn := p.onError
	p.mu.Unlock()
	fn(err)
}

func (p *fakePlayer) Srcs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.srcs...)
}

func (p *fakePlayer) Plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

func (p *fakePlayer) Pauses() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauses
}

func (p *fakePlayer) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

// playerPool hands out fakePlayers and remembers them.
type playerPool struct {
	mu      sync.Mutex
	players []*fakePlayer
	err     error
	playErr error
}

func (pp *playerPool) factory() (player.Player, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.err != nil {
		return nil, pp.err
	}
	p := &fakePlayer{playErr: pp.playErr}
	pp.players = append(pp.players, p)
	return p, nil
}

func (pp *playerPool) Len() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.players)
}

func (pp *playerPool) Last() *fakePlayer {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if len(pp.players) == 0 {
		return nil
	}
	return pp.players[len(pp.players)-1]
}

type fakeView struct {
	mu              sync.Mutex
	statuses        []Status
	info            Info
	visible         bool
	controlsEnabled bool
	alerts          []Alert
	settingsAlerts  []Alert
}

func (v *fakeView) SetStatus(s Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, s)
}

func (v *fakeView) SetStreamInfo(i Info) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.info = i
}

func (v *fakeView) SetPlayerVisible(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visible = b
}

func (v *fakeView) SetControlsEnabled(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.controlsEnabled = b
}

func (v *fakeView) Alert(a Alert) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alerts = append(v.alerts, a)
}

func (v *fakeView) SettingsAlert(a Alert) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.settingsAlerts = append(v.settingsAlerts, a)
}

func (v *fakeView) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return ""
	}
	return v.statuses[len(v.statuses)-1]
}

func (v *fakeView) Info() Info {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.info
}

func (v *fakeView) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

func (v *fakeView) ControlsEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.controlsEnabled
}

func (v *fakeView) Alerts() []Alert {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Alert(nil), v.alerts...)
}

func (v *fakeView) SettingsAlerts() []Alert {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Alert(nil), v.settingsAlerts...)
}
