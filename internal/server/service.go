// Package server is the stream backend: it stores the camera settings and
// drives the transcoder on behalf of the viewer.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"camstream/internal/camera"
	"camstream/internal/streamer"
)

// ErrNotConfigured is returned when a stream is requested before any camera
// settings were saved.
var ErrNotConfigured = errors.New("no camera settings found")

// Transcoder is the streaming process supervisor used by the Service.
type Transcoder interface {
	Start(ctx context.Context, s camera.Settings, v camera.Variant) (streamer.StreamInfo, error)
	Stop()
	Running() (streamer.StreamInfo, bool)
}

// Recorder receives stream lifecycle counts. *metrics.Metrics implements it.
type Recorder interface {
	IncStreamsStarted(variant string)
	IncStreamsStopped()
	SetActiveStreams(n int)
}

// Service applies the backend rules on top of a Store and a Transcoder.
type Service struct {
	store Store
	tr    Transcoder
	log   *slog.Logger
	rec   Recorder
}

// NewService returns a Service. rec may be nil.
func NewService(store Store, tr Transcoder, log *slog.Logger, rec Recorder) *Service {
	return &Service{store: store, tr: tr, log: log, rec: rec}
}

// StartStream starts streaming variant v of the saved camera.
func (s *Service) StartStream(ctx context.Context, v camera.Variant) (streamer.StreamInfo, error) {
	settings, ok, err := s.store.Load(ctx)
	if err != nil {
		return streamer.StreamInfo{}, err
	}
	if !ok || !settings.Configured() {
		return streamer.StreamInfo{}, ErrNotConfigured
	}

	info, err := s.tr.Start(ctx, settings, v)
	if err != nil {
		s.updateActive()
		return streamer.StreamInfo{}, err
	}
	if s.rec != nil {
		s.rec.IncStreamsStarted(v.String())
	}
	s.updateActive()
	return info, nil
}

// StopStream stops any running stream. Stopping when idle succeeds.
func (s *Service) StopStream() {
	_, running := s.tr.Running()
	s.tr.Stop()
	if s.rec != nil {
		s.rec.IncStreamsStopped()
	}
	s.updateActive()
	s.log.Info("stream stop requested", slog.Bool("was_running", running))
}

// SaveSettings validates and persists settings, then stops the running
// stream so the next start uses them. Validation errors are returned
// unwrapped for the caller to report.
//
// Settings never leave the backend with their password, so a blank password
// submitted for the stored username keeps the stored one. Clearing the
// username clears the password.
func (s *Service) SaveSettings(ctx context.Context, settings camera.Settings) error {
	settings = settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return err
	}
	if settings.Password == "" && settings.Username != "" {
		stored, ok, err := s.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading stored settings: %w", err)
		}
		if ok && stored.Username == settings.Username {
			settings.Password = stored.Password
		}
	}
	if err := s.store.Save(ctx, settings); err != nil {
		return fmt.Errorf("persisting settings: %w", err)
	}
	s.log.Info("camera settings saved", slog.String("ip", settings.IP), slog.String("port", settings.Port))

	if _, running := s.tr.Running(); running {
		s.tr.Stop()
		s.updateActive()
		s.log.Info("stopped running stream after settings change")
	}
	return nil
}

// Settings returns the saved settings without the password.
func (s *Service) Settings(ctx context.Context) (camera.Settings, bool, error) {
	settings, ok, err := s.store.Load(ctx)
	if err != nil || !ok {
		return camera.Settings{}, false, err
	}
	settings.Password = ""
	return settings, true, nil
}

// ActiveStreams returns 1 while the transcoder runs, else 0.
func (s *Service) ActiveStreams() int {
	if _, ok := s.tr.Running(); ok {
		return 1
	}
	return 0
}

func (s *Service) updateActive() {
	if s.rec != nil {
		s.rec.SetActiveStreams(s.ActiveStreams())
	}
}
