package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

const (
	defaultManifestTimeout = 6 * time.Second
	maxManifestBytes       = 256 * 1024
	minReloadInterval      = time.Second
)

// HLSOptions configures an HLSPlayer.
type HLSOptions struct {
	Client   *http.Client
	Logger   *slog.Logger
	Autoplay bool
	// ManifestTimeout bounds a single manifest fetch.
	ManifestTimeout time.Duration
}

// HLSPlayer plays an HLS source by following its media playlist. It keeps the
// playlist loaded while playing and reports failures as MediaErrors.
type HLSPlayer struct {
	client   *http.Client
	log      *slog.Logger
	autoplay bool
	timeout  time.Duration

	mu         sync.Mutex
	src        string
	mimeType   string
	gen        uint64
	cancel     context.CancelFunc
	playing    bool
	fullscreen bool
	disposed   bool
	onError    func(*MediaError)
	segments   int
}

var _ Player = (*HLSPlayer)(nil)

// NewHLSPlayer returns an HLSPlayer with no source.
func NewHLSPlayer(opts HLSOptions) *HLSPlayer {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.ManifestTimeout <= 0 {
		opts.ManifestTimeout = defaultManifestTimeout
	}
	return &HLSPlayer{
		client:   opts.Client,
		log:      opts.Logger,
		autoplay: opts.Autoplay,
		timeout:  opts.ManifestTimeout,
	}
}

// NewHLSFactory returns a Factory producing HLSPlayers with opts.
func NewHLSFactory(opts HLSOptions) Factory {
	return func() (Player, error) {
		return NewHLSPlayer(opts), nil
	}
}

// Src replaces the current source and stops any running load loop.
func (p *HLSPlayer) Src(src, mimeType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.stopLocked()
	p.src = src
	p.mimeType = mimeType
	p.segments = 0
}

// Play starts loading the source. It returns immediately; load failures are
// delivered through the error callback.
func (p *HLSPlayer) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.disposed:
		return ErrDisposed
	case !p.autoplay && !IsUserGesture(ctx):
		return ErrAutoplayBlocked
	case p.playing:
		return nil
	case p.src == "":
		return &MediaError{Code: ErrSrcNotSupported, Err: errors.New("no source set")}
	case !isHLSMimeType(p.mimeType):
		return &MediaError{Code: ErrSrcNotSupported, Err: fmt.Errorf("unsupported type %q", p.mimeType)}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.gen++
	p.cancel = cancel
	p.playing = true
	go p.run(loopCtx, p.gen, p.src)
	return nil
}

// Pause stops the load loop and keeps the source.
func (p *HLSPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Dispose stops playback and turns every later call into a no-op.
func (p *HLSPlayer) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.disposed = true
	p.onError = nil
	p.fullscreen = false
}

// OnError registers the error callback.
func (p *HLSPlayer) OnError(fn func(*MediaError)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.disposed {
		p.onError = fn
	}
}

// IsFullscreen reports the fullscreen flag.
func (p *HLSPlayer) IsFullscreen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fullscreen
}

// RequestFullscreen enters fullscreen.
func (p *HLSPlayer) RequestFullscreen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.disposed {
		p.fullscreen = true
	}
}

// ExitFullscreen leaves fullscreen.
func (p *HLSPlayer) ExitFullscreen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fullscreen = false
}

// Playing reports whether the load loop is running.
func (p *HLSPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Source returns the current source URL.
func (p *HLSPlayer) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src
}

// Segments returns the number of segments in the last loaded media playlist.
func (p *HLSPlayer) Segments() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.segments
}

// stopLocked cancels the load loop. Caller must hold p.mu.
func (p *HLSPlayer) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.playing = false
	p.gen++
}

func (p *HLSPlayer) run(ctx context.Context, gen uint64, src string) {
	manifestURL := src
	loaded := false

	for {
		data, err := p.fetch(ctx, manifestURL)
		if ctx.Err() != nil {
			p.log.Debug("manifest load aborted", slog.String("url", manifestURL))
			return
		}
		if err != nil {
			p.fail(gen, &MediaError{Code: ErrNetwork, Err: err})
			return
		}

		pl, err := playlist.Unmarshal(data)
		if err != nil {
			p.fail(gen, &MediaError{Code: ErrSrcNotSupported, Err: fmt.Errorf("parsing playlist: %w", err)})
			return
		}

		var wait time.Duration
		switch pl := pl.(type) {
		case *playlist.Multivariant:
			if len(pl.Variants) == 0 {
				p.fail(gen, &MediaError{Code: ErrSrcNotSupported, Err: errors.New("multivariant playlist without variants")})
				return
			}
			manifestURL = resolveURL(manifestURL, pl.Variants[0].URI)
			continue

		case *playlist.Media:
			if len(pl.Segments) == 0 {
				if loaded {
					p.fail(gen, &MediaError{Code: ErrDecode, Err: errors.New("media playlist lost all segments")})
				} else {
					p.fail(gen, &MediaError{Code: ErrSrcNotSupported, Err: errors.New("media playlist has no segments")})
				}
				return
			}
			if !p.update(gen, len(pl.Segments)) {
				return
			}
			if !loaded {
				p.log.Info("stream loaded",
					slog.String("url", manifestURL),
					slog.Int("segments", len(pl.Segments)),
					slog.Int("target_duration", pl.TargetDuration))
				loaded = true
			}
			if pl.Endlist {
				p.log.Info("stream ended", slog.String("url", manifestURL))
				p.finish(gen)
				return
			}
			wait = time.Duration(pl.TargetDuration) * time.Second
		}

		if wait < minReloadInterval {
			wait = minReloadInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (p *HLSPlayer) fetch(ctx context.Context, manifestURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
}

// update records playlist progress; false means the loop has been superseded.
func (p *HLSPlayer) update(gen uint64, segments int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	p.segments = segments
	return true
}

func (p *HLSPlayer) finish(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.playing = false
		p.cancel = nil
	}
}

// fail stops the loop and reports err unless the loop was superseded.
func (p *HLSPlayer) fail(gen uint64, err *MediaError) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.playing = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	cb := p.onError
	p.mu.Unlock()

	p.log.Warn("playback error", slog.String("code", err.Code.String()), slog.String("error", err.Error()))
	if cb != nil {
		cb(err)
	}
}

func isHLSMimeType(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "application/x-mpegurl", "application/vnd.apple.mpegurl", "audio/mpegurl":
		return true
	}
	return false
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
