// Package settings holds operator settings that don't belong into a project's build script.
package settings

import (
	"path/filepath"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Settings describes all operator settings
type Settings struct {
	Config string `toml:"config" usage:"Build script to use instead of the nearest bundle.star"`
	Log    struct {
		Level string `toml:"level" default:"info"`
		File  string `toml:"file" usage:"Write log messages to this file in addition to the console"`
		JSON  bool   `toml:"json" default:"false" usage:"Output JSONND instead of pretty console messages"`
	} `toml:"log"`
	Cache struct {
		Dir      string `toml:"dir" usage:"Directory for the persistent transform cache (defaults to .cache/gopack in the project)"`
		Disabled bool   `toml:"disabled" default:"false" usage:"Only keep transform results in memory"`
		Entries  int    `toml:"entries" default:"4096" usage:"Number of transform results kept in memory"`
	} `toml:"cache"`
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty settings object and returns a new Loader for it. files overrides
// the default gopack.toml lookup.
func Loader(files ...string) (*Settings, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{"gopack.toml"}
	}

	cfg := Settings{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:        "GOPACK",
		SkipFlags:        true,
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads settings from the given files and the environment
func Load(files ...string) (*Settings, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load settings")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that all settings have valid values
func (cfg *Settings) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Cache.Entries < 1 {
		return eris.Errorf(`Invalid value for cache.entries: %d (must be positive)`, cfg.Cache.Entries)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Settings) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// CacheDir returns the transform cache directory for a project
func (cfg *Settings) CacheDir(projectRoot string) string {
	if cfg.Cache.Dir != "" {
		return cfg.Cache.Dir
	}
	return filepath.Join(projectRoot, ".cache", "gopack")
}
