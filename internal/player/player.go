// Package player defines the media player capability the session controller
// drives, and an HLS implementation of it.
package player

import (
	"context"
	"errors"
	"fmt"
)

// MimeTypeHLS is the source type used for HLS manifests.
const MimeTypeHLS = "application/x-mpegURL"

// ErrAutoplayBlocked is returned by Play when playback may only start after
// an operator gesture. It is an expected restriction, not a stream failure.
var ErrAutoplayBlocked = errors.New("autoplay blocked: playback requires a user gesture")

// ErrDisposed is returned by Play on a disposed player.
var ErrDisposed = errors.New("player disposed")

// Player is the media player capability. Implementations must not invoke the
// error callback while holding their own locks.
type Player interface {
	Src(url, mimeType string)
	Play(ctx context.Context) error
	Pause()
	Dispose()
	IsFullscreen() bool
	RequestFullscreen()
	ExitFullscreen()
	OnError(func(*MediaError))
}

// Factory creates a new player instance.
type Factory func() (Player, error)

// ErrorCode classifies a playback failure.
type ErrorCode int

const (
	ErrAborted         ErrorCode = 1
	ErrNetwork         ErrorCode = 2
	ErrDecode          ErrorCode = 3
	ErrSrcNotSupported ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case ErrAborted:
		return "aborted"
	case ErrNetwork:
		return "network"
	case ErrDecode:
		return "decode"
	case ErrSrcNotSupported:
		return "src_not_supported"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// MediaError is reported through the player's error callback.
type MediaError struct {
	Code ErrorCode
	Err  error
}

func (e *MediaError) Error() string {
	if e.Err == nil {
		return "media error: " + e.Code.String()
	}
	return fmt.Sprintf("media error %s: %v", e.Code, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// Message is the operator-facing explanation of the failure.
func (e *MediaError) Message() string {
	switch e.Code {
	case ErrAborted:
		return "Playback was aborted."
	case ErrNetwork:
		return "A network error interrupted the stream. Please check your connection."
	case ErrDecode:
		return "The stream could not be decoded."
	case ErrSrcNotSupported:
		return "The stream format is not supported or the stream is not ready yet."
	default:
		return "Error playing stream. Please check your camera settings."
	}
}

type gestureKey struct{}

// WithUserGesture marks ctx as originating from an explicit operator action,
// which lifts the autoplay restriction for Play.
func WithUserGesture(ctx context.Context) context.Context {
	return context.WithValue(ctx, gestureKey{}, true)
}

// IsUserGesture reports whether ctx was marked by WithUserGesture.
func IsUserGesture(ctx context.Context) bool {
	v, _ := ctx.Value(gestureKey{}).(bool)
	return v
}
