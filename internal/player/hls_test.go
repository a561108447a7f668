package player

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:2
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:2.000000,
segment_000.ts
#EXTINF:2.000000,
segment_001.ts
`

const multivariantPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS="avc1.64001f,mp4a.40.2"
low/stream.m3u8
`

type errorRecorder struct {
	mu   sync.Mutex
	errs []*MediaError
}

func (r *errorRecorder) record(err *MediaError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *errorRecorder) codes() []ErrorCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ErrorCode, 0, len(r.errs))
	for _, e := range r.errs {
		out = append(out, e.Code)
	}
	return out
}

func newPlaylistServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	serve := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			_, _ = w.Write([]byte(body))
		}
	}
	r.Get("/hls/stream.m3u8", serve(mediaPlaylist))
	r.Get("/hls/master.m3u8", serve(multivariantPlaylist))
	r.Get("/hls/low/stream.m3u8", serve(mediaPlaylist))
	r.Get("/hls/garbage.m3u8", serve("<html>not a playlist</html>"))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestPlayer(srv *httptest.Server, autoplay bool) (*HLSPlayer, *errorRecorder) {
	p := NewHLSPlayer(HLSOptions{Client: srv.Client(), Autoplay: autoplay, ManifestTimeout: time.Second})
	rec := &errorRecorder{}
	p.OnError(rec.record)
	return p, rec
}

func TestHLSPlayer_PlayLoadsMediaPlaylist(t *testing.T) {
	srv := newPlaylistServer(t)
	p, rec := newTestPlayer(srv, true)
	t.Cleanup(p.Dispose)

	p.Src(srv.URL+"/hls/stream.m3u8?t=1", MimeTypeHLS)
	require.NoError(t, p.Play(context.Background()))

	require.Eventually(t, func() bool { return p.Segments() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, p.Playing())
	assert.Empty(t, rec.codes())
}

func TestHLSPlayer_FollowsFirstVariant(t *testing.T) {
	srv := newPlaylistServer(t)
	p, rec := newTestPlayer(srv, true)
	t.Cleanup(p.Dispose)

	p.Src(srv.URL+"/hls/master.m3u8", MimeTypeHLS)
	require.NoError(t, p.Play(context.Background()))

	require.Eventually(t, func() bool { return p.Segments() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, rec.codes())
}

func TestHLSPlayer_AutoplayBlocked(t *testing.T) {
	srv := newPlaylistServer(t)
	p, _ := newTestPlayer(srv, false)
	t.Cleanup(p.Dispose)

	p.Src(srv.URL+"/hls/stream.m3u8", MimeTypeHLS)
	assert.ErrorIs(t, p.Play(context.Background()), ErrAutoplayBlocked)
	assert.False(t, p.Playing())

	require.NoError(t, p.Play(WithUserGesture(context.Background())))
	assert.True(t, p.Playing())
}

func TestHLSPlayer_NetworkError(t *testing.T) {
	srv := newPlaylistServer(t)
	p, rec := newTestPlayer(srv, true)
	t.Cleanup(p.Dispose)

	p.Src(srv.URL+"/hls/missing.m3u8", MimeTypeHLS)
	require.NoError(t, p.Play(context.Background()))

	require.Eventually(t, func() bool { return len(rec.codes()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []ErrorCode{ErrNetwork}, rec.codes())
	assert.False(t, p.Playing())
}

func TestHLSPlayer_UnparseablePlaylist(t *testing.T) {
	srv := newPlaylistServer(t)
	p, rec := newTestPlayer(srv, true)
	t.Cleanup(p.Dispose)

	p.Src(srv.URL+"/hls/garbage.m3u8", MimeTypeHLS)
	require.NoError(t, p.Play(context.Background()))

	require.Eventually(t, func() bool { return len(rec.codes()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []ErrorCode{ErrSrcNotSupported}, rec.codes())
}

func TestHLSPlayer_RejectsMimeType(t *testing.T) {
	p := NewHLSPlayer(HLSOptions{Autoplay: true})
	p.Src("http://example.invalid/video.mp4", "video/mp4")

	err := p.Play(context.Background())
	var me *MediaError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrSrcNotSupported, me.Code)
}

func TestHLSPlayer_PauseAndDispose(t *testing.T) {
	srv := newPlaylistServer(t)
	p, _ := newTestPlayer(srv, true)

	p.Src(srv.URL+"/hls/stream.m3u8", MimeTypeHLS)
	require.NoError(t, p.Play(context.Background()))
	p.Pause()
	assert.False(t, p.Playing())
	assert.Equal(t, srv.URL+"/hls/stream.m3u8", p.Source())

	p.RequestFullscreen()
	assert.True(t, p.IsFullscreen())

	p.Dispose()
	assert.False(t, p.IsFullscreen())
	assert.ErrorIs(t, p.Play(context.Background()), ErrDisposed)
	p.RequestFullscreen()
	assert.False(t, p.IsFullscreen())
}

func TestMediaError_Message(t *testing.T) {
	for _, code := range []ErrorCode{ErrAborted, ErrNetwork, ErrDecode, ErrSrcNotSupported, 9} {
		assert.NotEmpty(t, (&MediaError{Code: code}).Message(), code.String())
	}
	assert.Equal(t, "Error playing stream. Please check your camera settings.", (&MediaError{Code: 9}).Message())
}
