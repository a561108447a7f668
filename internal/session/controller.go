// Package session implements the stream session controller: the state
// machine that sequences operator intent, the stream backend and the media
// player.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"camstream/internal/backend"
	"camstream/internal/camera"
	"camstream/internal/player"
)

// Default delays.
const (
	// DefaultSettleDelay is the wait between the backend confirming a start
	// and the player being given the source. The backend acknowledges before
	// its first segments exist.
	DefaultSettleDelay = 5 * time.Second
	// DefaultRestartDelay is the wait between a stop and the start that
	// follows it when switching variant or applying new settings.
	DefaultRestartDelay = time.Second
)

// Operator-facing messages.
const (
	msgStartFailed    = "Failed to start stream"
	msgSaveFailed     = "Failed to save settings"
	msgSaved          = "Settings saved successfully"
	msgUnreachable    = "Error connecting to server"
	msgPlayerCreation = "Error playing stream. Please check your camera settings."
)

var (
	// ErrNotConfigured is returned when a stream operation is requested
	// before camera settings exist.
	ErrNotConfigured = errors.New("camera is not configured")
	// ErrStartInFlight is returned by operations that may not overlap a
	// pending start request.
	ErrStartInFlight = errors.New("a stream start is in progress")
	// ErrInvalidSettings wraps settings validation failures.
	ErrInvalidSettings = errors.New("invalid camera settings")
	// ErrNotLive is returned by Play when no source has been assigned.
	ErrNotLive = errors.New("stream is not live")
	// ErrSuperseded is returned when a start response arrives after the
	// session it belonged to was invalidated.
	ErrSuperseded = errors.New("start superseded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
)

// Backend is the stream backend as seen by the controller.
type Backend interface {
	StartStream(ctx context.Context, v camera.Variant) (backend.StartResult, error)
	StopStream(ctx context.Context) error
	SaveSettings(ctx context.Context, s camera.Settings) (string, error)
}

// Options tunes a Controller. Zero values take defaults.
type Options struct {
	SettleDelay  time.Duration
	RestartDelay time.Duration
	MimeType     string
	Scheduler    Scheduler
	Now          func() time.Time
	Logger       *slog.Logger
}

// Controller owns the session state. All methods are safe for concurrent
// use; none holds the state lock across a backend round-trip.
type Controller struct {
	backend      Backend
	newPlayer    player.Factory
	view         View
	sched        Scheduler
	now          func() time.Time
	log          *slog.Logger
	settleDelay  time.Duration
	restartDelay time.Duration
	mimeType     string

	// ctx scopes requests issued from timers; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	phase        Phase
	streaming    bool
	variant      camera.Variant
	settings     camera.Settings
	player       player.Player
	source       string
	sessionID    string
	epoch        uint64
	starting     bool
	stopping     bool
	loadTimer    Timer
	restartTimer Timer
	closed       bool
}

// New returns an idle controller on the main variant.
func New(b Backend, newPlayer player.Factory, view View, opts Options) *Controller {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.MimeType == "" {
		opts.MimeType = player.MimeTypeHLS
	}
	if opts.Scheduler == nil {
		opts.Scheduler = RuntimeScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend:      b,
		newPlayer:    newPlayer,
		view:         view,
		sched:        opts.Scheduler,
		now:          opts.Now,
		log:          opts.Logger,
		settleDelay:  opts.SettleDelay,
		restartDelay: opts.RestartDelay,
		mimeType:     opts.MimeType,
		ctx:          ctx,
		cancel:       cancel,
		phase:        PhaseIdle,
		variant:      camera.VariantMain,
	}
}

// Init applies the settings known at startup and renders the initial view.
func (c *Controller) Init(s camera.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings = s.WithDefaults()
	c.view.SetStatus(StatusOffline)
	c.view.SetPlayerVisible(false)
	c.view.SetControlsEnabled(c.settings.Configured())
	c.view.SetStreamInfo(c.infoLocked())
}

// State returns a snapshot of the session state.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Phase:      c.phase,
		Streaming:  c.streaming,
		Variant:    c.variant,
		Settings:   c.settings,
		Configured: c.settings.Configured(),
		HasPlayer:  c.player != nil,
		Source:     c.source,
		SessionID:  c.sessionID,
		Epoch:      c.epoch,
	}
}

// ToggleStream stops a running stream or starts a new one.
func (c *Controller) ToggleStream(ctx context.Context) error {
	c.mu.Lock()
	streaming := c.streaming
	c.mu.Unlock()

	if streaming {
		return c.StopStream(ctx)
	}
	return c.StartStream(ctx)
}

// StartStream asks the backend for the selected variant. It is a no-op while
// streaming or while another start is in flight. On success the source is
// handed to the player after the settle delay; on failure the error is
// surfaced and the session returns to idle.
func (c *Controller) StartStream(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case !c.settings.Configured():
		c.mu.Unlock()
		return ErrNotConfigured
	case c.streaming || c.starting:
		c.mu.Unlock()
		c.log.Debug("start ignored, session already active")
		return nil
	}

	c.starting = true
	c.cancelTimersLocked()
	c.epoch++
	epoch := c.epoch
	variant := c.variant
	c.setPhaseLocked(PhaseStarting)
	c.view.SetStatus(StatusConnecting)
	c.mu.Unlock()

	c.log.Info("starting stream", slog.String("variant", variant.String()), slog.Uint64("epoch", epoch))
	res, err := c.backend.StartStream(ctx, variant)

	c.mu.Lock()
	c.starting = false

	if epoch != c.epoch {
		idle := !c.streaming && !c.starting
		c.mu.Unlock()
		c.log.Info("discarding stale start response", slog.Uint64("epoch", epoch))
		if err == nil && idle {
			c.notifyStop(ctx)
		}
		return ErrSuperseded
	}

	if err != nil {
		c.alertLocked(startFailureMessage(err))
		c.resetLocked()
		c.mu.Unlock()
		c.log.Error("start stream failed", slog.String("variant", variant.String()), slog.String("error", err.Error()))
		return err
	}

	p, err := c.ensurePlayerLocked()
	if err != nil {
		c.alertLocked(msgPlayerCreation)
		c.resetLocked()
		c.mu.Unlock()
		c.log.Error("creating player failed", slog.String("error", err.Error()))
		c.notifyStop(ctx)
		return fmt.Errorf("creating player: %w", err)
	}

	c.streaming = true
	c.sessionID = res.SessionID
	c.setPhaseLocked(PhaseSettling)
	c.view.SetStatus(StatusOnline)
	c.view.SetStreamInfo(c.infoLocked())
	streamURL := res.StreamURL
	c.loadTimer = c.sched.AfterFunc(c.settleDelay, func() {
		c.load(epoch, p, streamURL)
	})
	c.mu.Unlock()

	c.log.Info("stream confirmed, waiting for segments",
		slog.String("session_id", res.SessionID),
		slog.Duration("settle_delay", c.settleDelay))
	return nil
}

// StopStream notifies the backend and returns the session to idle. The
// local transition happens whether or not the backend call succeeds. It is a
// no-op when not streaming.
func (c *Controller) StopStream(ctx context.Context) error {
	c.mu.Lock()
	if !c.streaming || c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.cancelTimersLocked()
	c.epoch++
	c.mu.Unlock()

	c.notifyStop(ctx)

	c.mu.Lock()
	c.stopping = false
	c.resetLocked()
	c.mu.Unlock()
	return nil
}

// SwitchVariant flips between the main and sub streams. While streaming the
// session is stopped and restarted on the new variant after the restart
// delay; otherwise only the selection changes.
func (c *Controller) SwitchVariant(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case !c.settings.Configured():
		c.mu.Unlock()
		return ErrNotConfigured
	case c.starting:
		c.mu.Unlock()
		return ErrStartInFlight
	}
	c.variant = c.variant.Toggle()
	variant := c.variant
	streaming := c.streaming
	c.view.SetStreamInfo(c.infoLocked())
	c.mu.Unlock()

	c.log.Info("variant switched", slog.String("variant", variant.String()), slog.Bool("restart", streaming))
	if streaming {
		c.restart(ctx)
	}
	return nil
}

// SaveSettings validates and submits new camera settings. On success the
// controls are enabled and a running stream is restarted; on failure the
// session state is left untouched.
func (c *Controller) SaveSettings(ctx context.Context, s camera.Settings) error {
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		c.mu.Lock()
		c.view.SettingsAlert(Alert{Level: LevelDanger, Message: strings.ReplaceAll(err.Error(), "\n", "; ")})
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.starting:
		c.mu.Unlock()
		return ErrStartInFlight
	}
	c.mu.Unlock()

	msg, err := c.backend.SaveSettings(ctx, s)
	if err != nil {
		c.mu.Lock()
		c.view.SettingsAlert(Alert{Level: LevelDanger, Message: saveFailureMessage(err)})
		c.mu.Unlock()
		c.log.Error("save settings failed", slog.String("error", err.Error()))
		return err
	}
	if msg == "" {
		msg = msgSaved
	}

	c.mu.Lock()
	c.settings = s
	c.view.SettingsAlert(Alert{Level: LevelSuccess, Message: msg})
	c.view.SetControlsEnabled(true)
	c.view.SetStreamInfo(c.infoLocked())
	streaming := c.streaming
	c.mu.Unlock()

	c.log.Info("settings saved", slog.String("ip", s.IP), slog.Bool("restart", streaming))
	if streaming {
		c.restart(ctx)
	}
	return nil
}

// ToggleFullscreen enters or leaves fullscreen. It reports false when there
// is no player yet.
func (c *Controller) ToggleFullscreen() bool {
	c.mu.Lock()
	p := c.player
	c.mu.Unlock()

	if p == nil {
		return false
	}
	if p.IsFullscreen() {
		p.ExitFullscreen()
	} else {
		p.RequestFullscreen()
	}
	return true
}

// Play starts playback on operator request, for when autoplay was blocked.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	p := c.player
	live := c.phase == PhaseLive
	c.mu.Unlock()

	if p == nil || !live {
		return ErrNotLive
	}
	return p.Play(player.WithUserGesture(ctx))
}

// Close invalidates pending timers and requests and disposes the player. The
// backend is not notified.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelTimersLocked()
	c.epoch++
	p := c.player
	c.player = nil
	c.streaming = false
	c.setPhaseLocked(PhaseIdle)
	c.mu.Unlock()

	c.cancel()
	if p != nil {
		p.Dispose()
	}
}

// restart stops the session and schedules a start after the restart delay.
// The scheduled start is dropped if anything else starts or stops the
// session first.
func (c *Controller) restart(ctx context.Context) {
	_ = c.StopStream(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.restartTimer != nil {
		c.restartTimer.Stop()
	}
	epoch := c.epoch
	c.restartTimer = c.sched.AfterFunc(c.restartDelay, func() {
		c.mu.Lock()
		if epoch != c.epoch || c.closed {
			c.mu.Unlock()
			return
		}
		c.restartTimer = nil
		c.mu.Unlock()

		if err := c.StartStream(c.ctx); err != nil {
			c.log.Warn("restart failed", slog.String("error", err.Error()))
		}
	})
}

// load hands the source to the player once the settle delay has elapsed.
func (c *Controller) load(epoch uint64, p player.Player, streamURL string) {
	c.mu.Lock()
	if epoch != c.epoch || p != c.player || !c.streaming {
		c.mu.Unlock()
		c.log.Debug("discarding stale load", slog.Uint64("epoch", epoch))
		return
	}
	c.loadTimer = nil
	src := cacheBust(streamURL, c.now())
	p.Src(src, c.mimeType)
	c.source = src
	c.setPhaseLocked(PhaseLive)
	c.view.SetPlayerVisible(true)
	c.mu.Unlock()

	c.log.Info("source assigned", slog.String("src", src))

	err := p.Play(c.ctx)
	var mediaErr *player.MediaError
	switch {
	case err == nil:
	case errors.Is(err, player.ErrAutoplayBlocked):
		c.log.Warn("autoplay prevented, waiting for manual play")
	case errors.As(err, &mediaErr):
		c.handlePlayerError(p, mediaErr)
	default:
		c.log.Warn("play rejected", slog.String("error", err.Error()))
	}
}

// handlePlayerError surfaces a playback failure and forces a stop. The
// failed player is discarded; the next start creates a fresh one.
func (c *Controller) handlePlayerError(p player.Player, err *player.MediaError) {
	c.mu.Lock()
	if p != c.player || !c.streaming {
		c.mu.Unlock()
		c.log.Debug("ignoring error from inactive player", slog.String("error", err.Error()))
		return
	}
	c.alertLocked(err.Message())
	c.mu.Unlock()

	c.log.Error("player error", slog.String("code", err.Code.String()), slog.String("error", err.Error()))
	_ = c.StopStream(c.ctx)

	c.mu.Lock()
	if c.player == p && !c.streaming {
		c.player = nil
	} else {
		p = nil
	}
	c.mu.Unlock()
	if p != nil {
		p.Dispose()
	}
}

// notifyStop tells the backend to stop; failure is logged only.
func (c *Controller) notifyStop(ctx context.Context) {
	if err := c.backend.StopStream(ctx); err != nil {
		c.log.Warn("backend stop failed, stopping locally", slog.String("error", err.Error()))
		return
	}
	c.log.Info("stream stopped")
}

// ensurePlayerLocked returns the owned player, creating it on first use.
// Caller must hold c.mu.
func (c *Controller) ensurePlayerLocked() (player.Player, error) {
	if c.player != nil {
		return c.player, nil
	}
	p, err := c.newPlayer()
	if err != nil {
		return nil, err
	}
	p.OnError(func(err *player.MediaError) {
		c.handlePlayerError(p, err)
	})
	c.player = p
	return p, nil
}

// resetLocked converges local state to idle. Caller must hold c.mu.
func (c *Controller) resetLocked() {
	c.streaming = false
	c.sessionID = ""
	c.setPhaseLocked(PhaseIdle)
	c.view.SetStatus(StatusOffline)
	if c.player != nil {
		c.player.Pause()
		c.view.SetPlayerVisible(false)
	}
	c.view.SetStreamInfo(c.infoLocked())
}

// cancelTimersLocked stops pending load and restart timers. Caller must hold c.mu.
func (c *Controller) cancelTimersLocked() {
	if c.loadTimer != nil {
		c.loadTimer.Stop()
		c.loadTimer = nil
	}
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
}

func (c *Controller) setPhaseLocked(p Phase) {
	if c.phase == p {
		return
	}
	c.log.Debug("phase", slog.String("from", string(c.phase)), slog.String("to", string(p)))
	c.phase = p
}

func (c *Controller) alertLocked(msg string) {
	c.view.Alert(Alert{Level: LevelDanger, Message: msg})
}

func (c *Controller) infoLocked() Info {
	return Info{
		Variant:       c.variant,
		VariantLabel:  c.variant.Label(),
		SwitchLabel:   c.variant.SwitchLabel(),
		CameraAddress: c.settings.IP,
		StreamPath:    c.settings.StreamPath(c.variant),
	}
}

func startFailureMessage(err error) string {
	var rej *backend.RejectedError
	if errors.As(err, &rej) {
		if rej.Message != "" {
			return rej.Message
		}
		return msgStartFailed
	}
	return msgUnreachable
}

func saveFailureMessage(err error) string {
	var rej *backend.RejectedError
	if errors.As(err, &rej) {
		if rej.Message != "" {
			return rej.Message
		}
		return msgSaveFailed
	}
	return msgUnreachable
}

// cacheBust appends a t=<unix millis> query parameter so the player never
// reuses a playlist cached from an earlier session.
func cacheBust(streamURL string, now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	u, err := url.Parse(streamURL)
	if err != nil {
		sep := "?"
		if strings.Contains(streamURL, "?") {
			sep = "&"
		}
		return streamURL + sep + "t=" + ts
	}
	q := u.Query()
	q.Set("t", ts)
	u.RawQuery = q.Encode()
	return u.String()
}
