package devserver

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/cortesi/moddwatch"
	"github.com/rotisserie/eris"
)

const lullTime = 300 * time.Millisecond

// excludes lists the watcher patterns that never trigger a rebuild
func (s *Server) excludes() []string {
	result := []string{"**/node_modules/**", "**/.git/**", "**/.hg/**", ".cache/**"}

	cfg := s.Config()
	if rel, ok := relativePattern(s.opts.ProjectRoot, cfg.Output.Path); ok {
		result = append(result, rel+"/**")
	}
	return result
}

func relativePattern(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// touchesConfig reports whether any of the changed paths is the build script
func (s *Server) touchesConfig(paths []string) bool {
	configFile := filepath.Clean(s.opts.ConfigFile)
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.opts.ProjectRoot, p)
		}
		if filepath.Clean(p) == configFile {
			return true
		}
	}
	return false
}

// Watch rebuilds the project after every batch of file changes until ctx is cancelled
func (s *Server) Watch(ctx context.Context) error {
	ch := make(chan *moddwatch.Mod, 1024)
	watcher, err := moddwatch.Watch(s.opts.ProjectRoot, []string{"**"}, s.excludes(), lullTime, ch)
	if err != nil {
		return eris.Wrapf(err, "failed to watch %s", s.opts.ProjectRoot)
	}
	defer watcher.Stop()

	Log(ctx).Info().Str("path", s.opts.ProjectRoot).Msg("Watching for changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case mod, ok := <-ch:
			if !ok {
				return nil
			}
			if mod == nil || mod.Empty() {
				continue
			}

			changed := mod.All()
			Log(ctx).Info().Strs("files", changed).Msg("Rebuilding")
			// errors are already reported to the clients
			_ = s.Rebuild(ctx, s.touchesConfig(changed))
		}
	}
}
