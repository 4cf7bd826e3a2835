package bundler

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Write clears the output directory (if configured) and writes every artifact. The manifest is
// written last so a manifest on disk always describes a complete build.
func (c *Compilation) Write(ctx context.Context) error {
	outDir := c.Config.Output.Path

	if c.Config.Output.Clean {
		if err := cleanDir(outDir); err != nil {
			return eris.Wrapf(err, "failed to clean %s", outDir)
		}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return eris.Wrapf(err, "failed to create %s", outDir)
	}

	for _, a := range c.artifacts {
		if err := writeArtifact(outDir, a); err != nil {
			return err
		}
		log(ctx).Debug().Str("path", a.Path).Int("size", len(a.Data)).Msg("Wrote artifact")
	}

	if c.manifest != nil {
		if err := writeArtifact(outDir, c.manifest); err != nil {
			return err
		}
	}

	log(ctx).Info().Str("path", outDir).Int("artifacts", len(c.artifacts)).Msg("Output written")
	return nil
}

func writeArtifact(outDir string, a *Artifact) error {
	dest := filepath.Join(outDir, filepath.FromSlash(a.Path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrapf(err, "failed to create directory for %s", a.Path)
	}

	if err := ioutil.WriteFile(dest, a.Data, 0o644); err != nil {
		return eris.Wrapf(err, "failed to write %s", dest)
	}
	return nil
}

// cleanDir removes the contents of dir but keeps dir itself
func cleanDir(dir string) error {
	items, err := ioutil.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, item := range items {
		if err := os.RemoveAll(filepath.Join(dir, item.Name())); err != nil {
			return err
		}
	}
	return nil
}
