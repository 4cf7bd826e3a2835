// Package plugins contains the optional compilation plugins enabled by the build script.
package plugins

import (
	"context"
	"path/filepath"

	"github.com/kelly/gopack/pkg/bundler"
)

// FromConfig creates every plugin the build script asked for
func FromConfig(ctx context.Context, cfg *bundler.Config) ([]bundler.Plugin, error) {
	result := []bundler.Plugin{}

	if cfg.HTML != nil {
		plugin, err := NewHTMLPlugin(cfg.HTML)
		if err != nil {
			return nil, err
		}
		result = append(result, plugin)
	}

	// compression runs after the page was generated so that it gets compressed too
	if cfg.Compress != nil {
		result = append(result, NewCompressPlugin(cfg.Compress))
	}

	if cfg.Notify != nil {
		notify := NewNotifyPlugin(cfg.Notify, filepath.Base(cfg.ProjectRoot))
		if notify.Active() {
			result = append(result, notify)
		} else {
			bundler.Log(ctx).Debug().Msg("Build notifications are not fully configured, skipping")
		}
	}

	for _, hook := range cfg.Hooks {
		result = append(result, NewExecHookPlugin(hook, cfg.ProjectRoot, cfg.Output.Path))
	}

	return result, nil
}
