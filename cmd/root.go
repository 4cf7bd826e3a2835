// Package cmd implements the gopack CLI
package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kelly/gopack/pkg/bundler"
	"github.com/kelly/gopack/pkg/settings"
)

const configName = "bundle.star"

var (
	appSettings *settings.Settings
	logFile     *os.File
)

var RootCmd = &cobra.Command{
	Use:   "gopack",
	Short: "Asset bundler driven by a Starlark build script",
	Long: `gopack reads the nearest bundle.star file, resolves every entry point, runs each file through
its transform chain and writes content-hashed artifacts plus a manifest.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		settingsFile, err := cmd.Flags().GetString("settings")
		if err != nil {
			return err
		}

		files := []string{}
		if settingsFile != "" {
			files = append(files, settingsFile)
		}

		appSettings, err = settings.Load(files...)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

func init() {
	RootCmd.PersistentFlags().String("settings", "", "operator settings file (defaults to gopack.toml)")
	RootCmd.PersistentFlags().StringP("config", "c", "", "build script to use instead of the nearest "+configName)
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		logger := newLogger()
		reportFailure(&logger, err)
		return 1
	}
	return 0
}

// reportedError marks a failure that was already logged where it happened
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error {
	return e.error
}

func reportFailure(logger *zerolog.Logger, err error) {
	var reported reportedError
	if errors.As(err, &reported) {
		return
	}
	logger.Error().Err(err).Msg("gopack failed")
}

func newLogger() zerolog.Logger {
	var out io.Writer = NewConsoleWriter(os.Stderr)
	level := zerolog.InfoLevel

	if appSettings != nil {
		level = appSettings.LogLevel()
		if appSettings.Log.JSON {
			out = os.Stderr
		}

		if appSettings.Log.File != "" && logFile == nil {
			handle, err := os.OpenFile(appSettings.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err == nil {
				logFile = handle
			}
		}
		if logFile != nil {
			out = zerolog.MultiLevelWriter(out, logFile)
		}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// commandContext prepares the context every command runs with
func commandContext(base context.Context) context.Context {
	logger := newLogger()
	return bundler.WithLogger(base, &logger)
}

// findConfig returns the build script named by --config or the settings, or searches the next
// bundle.star file starting at the working directory
func findConfig(cmd *cobra.Command) (string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", err
	}
	if configPath == "" && appSettings != nil {
		configPath = appSettings.Config
	}
	if configPath != "" {
		return filepath.Abs(configPath)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "failed to retrieve the current working directory")
	}

	path := wd
	for {
		candidate := filepath.Join(path, configName)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", candidate)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Errorf("no %s file found", configName)
		}
		path = parent
	}
}

// parseOptions splits key=value arguments into build script options
func parseOptions(args []string) (map[string]string, error) {
	options := make(map[string]string)
	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos < 1 {
			return nil, eris.Errorf("unexpected argument %q (expected key=value)", part)
		}
		options[part[:pos]] = part[pos+1:]
	}
	return options, nil
}

// openCache returns the transform cache for a project and a function releasing it
func openCache(ctx context.Context, projectRoot string, disabled bool) (bundler.TransformCache, func()) {
	if disabled {
		return nil, func() {}
	}

	memory, err := bundler.NewMemoryCache(appSettings.Cache.Entries)
	if err != nil {
		bundler.Log(ctx).Warn().Err(err).Msg("Transform cache disabled")
		return nil, func() {}
	}

	if appSettings.Cache.Disabled {
		return memory, func() {}
	}

	disk, err := bundler.OpenDiskCache(ctx, appSettings.CacheDir(projectRoot))
	if err != nil {
		bundler.Log(ctx).Warn().Err(err).Msg("Persistent transform cache unavailable")
		return memory, func() {}
	}

	cache := &bundler.TieredCache{Memory: memory, Disk: disk}
	return cache, func() {
		if err := cache.Close(); err != nil {
			bundler.Log(ctx).Warn().Err(err).Msg("Failed to close the transform cache")
		}
	}
}
