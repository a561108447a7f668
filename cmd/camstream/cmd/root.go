// Package cmd implements the camstream CLI commands.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"camstream/internal/platform/config"
	"camstream/internal/platform/logger"
)

var (
	// cfgFile holds the config file path from the --config flag.
	cfgFile string

	// cfg and appLog are populated by PersistentPreRunE before any command runs.
	cfg    *config.Config
	appLog *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "camstream",
	Short: "Live view for a network camera",
	Long: `camstream relays an RTSP camera as HLS and plays it back.

Run "camstream serve" next to the camera to start the stream backend, then
"camstream view" to start, stop and switch the stream from a console.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return setup()
	}

	// Logging flags are not bound to viper; they only win when set
	// explicitly so that env and config values keep their precedence.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.camstream.yaml or $HOME/.camstream.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// setup loads .env files, the config file and the environment, then builds
// the logger.
//
// Precedence, highest first:
//  1. explicitly set CLI flags
//  2. CAMSTREAM_* environment variables (.env included)
//  3. config file values
//  4. built-in defaults
func setup() error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}

	v := viper.GetViper()
	config.SetDefaults(v)
	config.Bind(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".camstream")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath("/etc/camstream")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	loaded, err := config.FromViper(v)
	if err != nil {
		return err
	}
	cfg = loaded

	level, format := cfg.Logging.Level, cfg.Logging.Format
	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	// Logs go to stderr; the viewer console owns stdout.
	appLog = logger.NewWithWriter(os.Stderr, strings.ToLower(level), strings.ToLower(format))
	slog.SetDefault(appLog)
	if used := v.ConfigFileUsed(); used != "" {
		appLog.Debug("using config file", slog.String("path", used))
	}
	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
