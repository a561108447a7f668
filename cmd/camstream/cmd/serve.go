package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"camstream/internal/platform/logger"
	"camstream/internal/platform/metrics"
	"camstream/internal/server"
	"camstream/internal/streamer"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	ffmpegKillAfter   = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stream backend",
	Long: `Start the HTTP stream backend.

The backend stores the camera settings, runs ffmpeg to relay the camera's
RTSP stream as HLS and serves:
- POST /start_stream, /stop_stream and /save_settings
- GET /settings
- GET /hls/* playlists and segments
- GET /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 5000, "port to listen on")
	serveCmd.Flags().String("hls-dir", "static/hls", "directory for HLS output")
	serveCmd.Flags().String("ffmpeg", "ffmpeg", "path to the ffmpeg binary")
	serveCmd.Flags().String("database-driver", "memory", "settings store (memory, sqlite, postgres, mysql)")
	serveCmd.Flags().String("database-dsn", "", "settings store DSN")

	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("server.hls_dir", serveCmd.Flags().Lookup("hls-dir"))
	mustBindPFlag("server.ffmpeg_path", serveCmd.Flags().Lookup("ffmpeg"))
	mustBindPFlag("database.driver", serveCmd.Flags().Lookup("database-driver"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database-dsn"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := appLog

	store, err := server.OpenStore(cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		return fmt.Errorf("opening settings store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing settings store", slog.String("error", err.Error()))
		}
	}()

	met := metrics.New()
	tr, err := streamer.New(streamer.Options{
		FFmpegPath:     cfg.Server.FFmpegPath,
		HLSDir:         cfg.Server.HLSDir,
		StartupTimeout: cfg.Server.StartupTimeout,
		WatchdogSpec:   cfg.Server.WatchdogSpec,
		Launcher:       streamer.ExecLauncher{KillAfter: ffmpegKillAfter},
		Logger:         logger.WithComponent(log, "transcoder"),
		OnRestart:      met.IncRestarts,
	})
	if err != nil {
		return fmt.Errorf("initializing transcoder: %w", err)
	}
	if err := tr.StartWatchdog(); err != nil {
		return fmt.Errorf("starting watchdog: %w", err)
	}
	defer tr.Stop()
	defer tr.StopWatchdog()

	svc := server.NewService(store, tr, logger.WithComponent(log, "service"), met)
	h := server.NewHandler(svc, tr.Dir(), log, met)

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           h.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info("server starting",
		slog.String("addr", srv.Addr),
		slog.String("hls_dir", tr.Dir()),
		slog.String("database_driver", cfg.Database.Driver),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
