package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"camstream/internal/backend"
	"camstream/internal/camera"
	"camstream/internal/console"
	"camstream/internal/platform/logger"
	"camstream/internal/player"
	"camstream/internal/session"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Open the stream viewer console",
	Long: `Open an interactive console that controls the stream backend.

The console starts, stops and switches the camera stream and edits the
camera settings. Type "help" at the prompt for the command list.`,
	RunE: runView,
}

func init() {
	rootCmd.AddCommand(viewCmd)

	viewCmd.Flags().String("backend", "http://localhost:5000", "stream backend url")
	viewCmd.Flags().Bool("autoplay", true, "start playback as soon as the stream is loaded")

	mustBindPFlag("viewer.backend_url", viewCmd.Flags().Lookup("backend"))
	mustBindPFlag("viewer.autoplay", viewCmd.Flags().Lookup("autoplay"))
}

func runView(cmd *cobra.Command, _ []string) error {
	log := appLog
	httpClient := &http.Client{Timeout: cfg.Viewer.RequestTimeout}

	client, err := backend.NewClient(cfg.Viewer.BackendURL, httpClient, logger.WithComponent(log, "backend"))
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}

	view := console.NewView(cmd.OutOrStdout(), log)
	newPlayer := player.NewHLSFactory(player.HLSOptions{
		Client:   httpClient,
		Logger:   logger.WithComponent(log, "player"),
		Autoplay: cfg.Viewer.Autoplay,
	})
	ctrl := session.New(client, newPlayer, view, session.Options{
		SettleDelay:  cfg.Viewer.SettleDelay,
		RestartDelay: cfg.Viewer.RestartDelay,
		Logger:       logger.WithComponent(log, "session"),
	})
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl.Init(initialSettings(ctx, client, log))

	view.Printf("camstream viewer, backend %s. Type 'help' for commands.", cfg.Viewer.BackendURL)
	return console.New(ctrl, view, log).Run(ctx, cmd.InOrStdin())
}

// initialSettings fetches the stored settings. The backend never returns
// the password; an unreachable backend leaves the viewer unconfigured.
func initialSettings(ctx context.Context, client *backend.Client, log *slog.Logger) camera.Settings {
	ctx, cancel := context.WithTimeout(ctx, cfg.Viewer.RequestTimeout)
	defer cancel()

	s, configured, err := client.Settings(ctx)
	if err != nil {
		log.Warn("could not load settings from backend", slog.String("error", err.Error()))
		return camera.Settings{}
	}
	if !configured {
		return camera.Settings{}
	}
	return s
}
