// Package streamer converts a camera's RTSP feed to HLS by supervising an
// ffmpeg process.
package streamer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"camstream/internal/camera"
)

const (
	// PlaylistName is the file ffmpeg writes the media playlist to.
	PlaylistName = "stream.m3u8"
	// PlaylistURL is where the playlist is served by the backend.
	PlaylistURL = "/hls/" + PlaylistName

	segmentPattern = "segment_%03d.ts"

	defaultFFmpegPath     = "ffmpeg"
	defaultStartupTimeout = 5 * time.Second
	defaultWatchdogSpec   = "@every 5s"
	readyPollInterval     = 250 * time.Millisecond
)

var (
	// ErrNoPlaylist is returned when ffmpeg runs but produces no playable
	// playlist within the startup timeout.
	ErrNoPlaylist = errors.New("failed to create HLS stream files, check ffmpeg output")
	// ErrExited is returned when ffmpeg exits during startup.
	ErrExited = errors.New("failed to start streaming, check camera settings and connectivity")
)

// StreamInfo describes a running stream.
type StreamInfo struct {
	SessionID   string
	Variant     camera.Variant
	PlaylistURL string
	StartedAt   time.Time
}

type target struct {
	settings camera.Settings
	variant  camera.Variant
}

// Options configures a Transcoder.
type Options struct {
	FFmpegPath     string
	HLSDir         string
	StartupTimeout time.Duration
	WatchdogSpec   string
	Launcher       Launcher
	Logger         *slog.Logger
	// OnRestart is called after the watchdog restarted a crashed process.
	OnRestart func()
}

// Transcoder owns at most one ffmpeg process.
type Transcoder struct {
	ffmpeg         string
	dir            string
	startupTimeout time.Duration
	watchdogSpec   string
	launcher       Launcher
	log            *slog.Logger
	onRestart      func()

	// op serializes Start, Stop and watchdog restarts.
	op sync.Mutex

	mu   sync.Mutex
	proc Process
	info StreamInfo
	// wanted is the stream the watchdog keeps alive; nil after Stop.
	wanted *target

	cron *cron.Cron
}

// New creates the HLS directory and verifies it is writable.
func New(opts Options) (*Transcoder, error) {
	if opts.HLSDir == "" {
		return nil, errors.New("streamer: hls directory is required")
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = defaultFFmpegPath
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultStartupTimeout
	}
	if opts.WatchdogSpec == "" {
		opts.WatchdogSpec = defaultWatchdogSpec
	}
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(opts.HLSDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating hls directory: %w", err)
	}
	probe, err := os.CreateTemp(opts.HLSDir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("hls directory %s is not writable: %w", opts.HLSDir, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return &Transcoder{
		ffmpeg:         opts.FFmpegPath,
		dir:            opts.HLSDir,
		startupTimeout: opts.StartupTimeout,
		watchdogSpec:   opts.WatchdogSpec,
		launcher:       opts.Launcher,
		log:            opts.Logger,
		onRestart:      opts.OnRestart,
	}, nil
}

// Dir returns the HLS output directory.
func (t *Transcoder) Dir() string { return t.dir }

// Args builds the ffmpeg arguments for streaming variant v of s.
func (t *Transcoder) Args(s camera.Settings, v camera.Variant) []string {
	return t.args(s.RTSPURL(v))
}

func (t *Transcoder) args(input string) []string {
	return []string{
		"-rtsp_transport", "tcp",
		"-i", input,
		"-c:v", "copy",
		"-c:a", "aac",
		"-hls_time", "2",
		"-hls_list_size", "10",
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", filepath.Join(t.dir, segmentPattern),
		"-f", "hls",
		filepath.Join(t.dir, PlaylistName),
	}
}

// Start replaces any running process with one streaming variant v and waits
// until ffmpeg has written a parseable playlist.
func (t *Transcoder) Start(ctx context.Context, s camera.Settings, v camera.Variant) (StreamInfo, error) {
	t.op.Lock()
	defer t.op.Unlock()
	return t.start(ctx, s, v)
}

func (t *Transcoder) start(ctx context.Context, s camera.Settings, v camera.Variant) (StreamInfo, error) {
	t.stop()
	t.clean()

	args := t.Args(s, v)
	t.log.Debug("starting ffmpeg",
		slog.String("command", t.ffmpeg+" "+strings.Join(t.args(s.RedactedRTSPURL(v)), " ")))

	proc, err := t.launcher.Launch(t.ffmpeg, args)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("launching ffmpeg: %w", err)
	}

	if err := t.waitReady(ctx, proc); err != nil {
		proc.Stop()
		t.clean()
		t.log.Error("ffmpeg startup failed",
			slog.String("variant", v.String()),
			slog.String("error", err.Error()),
			slog.String("stderr", proc.Output()))
		return StreamInfo{}, err
	}

	now := time.Now()
	info := StreamInfo{
		SessionID:   ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Variant:     v,
		PlaylistURL: PlaylistURL,
		StartedAt:   now,
	}

	t.mu.Lock()
	t.proc = proc
	t.info = info
	t.wanted = &target{settings: s, variant: v}
	t.mu.Unlock()

	t.log.Info("stream started",
		slog.String("session_id", info.SessionID),
		slog.String("variant", v.String()),
		slog.String("camera", s.IP))
	return info, nil
}

// waitReady polls for the playlist until it parses as HLS, the process
// exits, or the startup timeout elapses.
func (t *Transcoder) waitReady(ctx context.Context, proc Process) error {
	ctx, cancel := context.WithTimeout(ctx, t.startupTimeout)
	defer cancel()

	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()

	for {
		if t.playlistReady() {
			return nil
		}
		select {
		case <-proc.Done():
			return fmt.Errorf("%w: %v", ErrExited, proc.Err())
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrNoPlaylist
			}
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (t *Transcoder) playlistReady() bool {
	data, err := os.ReadFile(filepath.Join(t.dir, PlaylistName))
	if err != nil {
		return false
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return false
	}
	_, ok := pl.(*playlist.Media)
	return ok
}

// Stop terminates the running process and removes its output. It is a no-op
// when nothing is running.
func (t *Transcoder) Stop() {
	t.op.Lock()
	defer t.op.Unlock()
	if t.stop() {
		t.log.Info("stream process stopped")
	}
	t.clean()
}

func (t *Transcoder) stop() bool {
	t.mu.Lock()
	proc := t.proc
	t.proc = nil
	t.info = StreamInfo{}
	t.wanted = nil
	t.mu.Unlock()

	if proc == nil {
		return false
	}
	proc.Stop()
	return true
}

// Running reports whether a process is running and returns its stream.
func (t *Transcoder) Running() (StreamInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proc == nil {
		return StreamInfo{}, false
	}
	select {
	case <-t.proc.Done():
		return StreamInfo{}, false
	default:
		return t.info, true
	}
}

// clean removes playlists and segments from the HLS directory.
func (t *Transcoder) clean() {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		t.log.Warn("listing hls directory", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".ts") || strings.HasSuffix(name, ".m3u8")) {
			continue
		}
		if err := os.Remove(filepath.Join(t.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.log.Warn("could not remove hls file", slog.String("file", name), slog.String("error", err.Error()))
		}
	}
}

// StartWatchdog schedules the crash check. It returns an error for an
// invalid schedule.
func (t *Transcoder) StartWatchdog() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(t.watchdogSpec, t.Check); err != nil {
		return fmt.Errorf("watchdog schedule %q: %w", t.watchdogSpec, err)
	}
	c.Start()
	t.cron = c
	t.log.Info("watchdog started", slog.String("schedule", t.watchdogSpec))
	return nil
}

// StopWatchdog stops the crash check and waits for a running check.
func (t *Transcoder) StopWatchdog() {
	t.mu.Lock()
	c := t.cron
	t.cron = nil
	t.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Check restarts the stream with its last settings if the process exited on
// its own. A failed restart is retried on the next check; streams stopped
// through Stop are left alone.
func (t *Transcoder) Check() {
	t.op.Lock()
	defer t.op.Unlock()

	t.mu.Lock()
	proc, wanted := t.proc, t.wanted
	t.mu.Unlock()
	if wanted == nil {
		return
	}
	if proc != nil {
		select {
		case <-proc.Done():
			t.log.Error("ffmpeg process terminated",
				slog.Any("error", proc.Err()),
				slog.String("stderr", proc.Output()))
		default:
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.startupTimeout+time.Second)
	defer cancel()
	if _, err := t.start(ctx, wanted.settings, wanted.variant); err != nil {
		t.log.Error("failed to restart stream", slog.String("error", err.Error()))
		t.mu.Lock()
		t.wanted = wanted
		t.mu.Unlock()
		return
	}
	t.log.Info("stream restarted", slog.String("variant", wanted.variant.String()))
	if t.onRestart != nil {
		t.onRestart()
	}
}
