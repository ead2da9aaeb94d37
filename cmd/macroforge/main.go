// MacroForge Core - macro execution engine for Android devices.
//
// The binary drives a device over adb: it runs YAML scripts of taps, swipes,
// waits and image-conditioned steps, keeps background actions cycling and
// sequences queues of scripts. "serve" runs the long-lived service with its
// REST/WebSocket API and MQTT bridge; the other subcommands are one-shot tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv overrides the config path when --config is not given.
const configEnv = "MACROFORGE_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Each call returns a fresh tree so tests
// can execute commands without sharing flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "macroforge",
		Short:         "Run Android macros over adb",
		Long:          "MacroForge drives an Android device over adb with scripted taps, swipes, waits and image matching.",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return loadEnvFile(envFile)
		},
	}

	root.PersistentFlags().String("config", "", "Config file (default $"+configEnv+" or "+defaultConfigPath+")")
	root.PersistentFlags().String("env-file", ".env", "Environment file loaded before MACROFORGE_* overrides")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newQueueCmd(),
		newValidateCmd(),
		newMatchCmd(),
		newMCPCmd(),
		newTokenCmd(),
		newMigrateCmd(),
	)
	return root
}

// loadEnvFile loads KEY=value pairs from path. A missing file is not an
// error. Variables already set in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// configPath resolves --config, then $MACROFORGE_CONFIG, then the default.
// explicit reports whether the user named a file.
func configPath(cmd *cobra.Command) (path string, explicit bool) {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p, true
	}
	if p := os.Getenv(configEnv); p != "" {
		return p, true
	}
	return defaultConfigPath, false
}

// loadConfig reads the config file. When the file was not named explicitly
// and the default does not exist, the built-in defaults are used so the
// one-shot commands work without any setup.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, explicit := configPath(cmd)
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg, err := config.FromEnv()
			if err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}
