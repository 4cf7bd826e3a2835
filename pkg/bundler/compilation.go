package bundler

import (
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Artifact is a file produced by a compilation
type Artifact struct {
	// Name is the logical name used as manifest key, e.g. "index.js"
	Name string
	// Path is the physical path relative to the output directory
	Path string
	Hash string
	Type string
	Data []byte
	// Chunk is set for chunk scripts, chunk stylesheets and their source maps
	Chunk string
	// Source is the project-relative source file of emitted assets
	Source string
	// Manifest controls whether the artifact shows up in the manifest
	Manifest bool
}

// Compilation holds everything produced by one build. Nothing is written to disk until Write is
// called.
type Compilation struct {
	Config  *Config
	BuildID string
	Hot     bool
	Modules []*Module
	Chunks  []*Chunk

	runtime   string
	artifacts []*Artifact
	byPath    map[string]*Artifact
	manifest  *Artifact
	// sources sharing the artifact of an identical file
	aliases map[string]*Artifact
}

func newCompilation(cfg *Config, buildID string, hot bool) *Compilation {
	return &Compilation{
		Config:  cfg,
		BuildID: buildID,
		Hot:     hot,
		byPath:  map[string]*Artifact{},
		aliases: map[string]*Artifact{},
	}
}

// Artifacts returns every artifact in emission order, the manifest last
func (c *Compilation) Artifacts() []*Artifact {
	result := make([]*Artifact, 0, len(c.artifacts)+1)
	result = append(result, c.artifacts...)
	if c.manifest != nil {
		result = append(result, c.manifest)
	}
	return result
}

// Artifact looks up an artifact by its physical path
func (c *Compilation) Artifact(physical string) (*Artifact, bool) {
	if c.manifest != nil && c.manifest.Path == physical {
		return c.manifest, true
	}
	a, ok := c.byPath[physical]
	return a, ok
}

// PublicPath returns the URL under which an artifact is served
func (c *Compilation) PublicPath(a *Artifact) string {
	return c.Config.Output.PublicPath + a.Path
}

// Chunk looks up a chunk by name
func (c *Compilation) Chunk(name string) *Chunk {
	for _, ch := range c.Chunks {
		if ch.Name == name {
			return ch
		}
	}
	return nil
}

// EntryChunks returns the entry chunks in declaration order
func (c *Compilation) EntryChunks() []*Chunk {
	result := []*Chunk{}
	for _, ch := range c.Chunks {
		if ch.Kind == ChunkEntry {
			result = append(result, ch)
		}
	}
	return result
}

// AddArtifact registers an artifact produced by a plugin or the compiler itself. Paths have to
// stay inside the output directory and must be unique.
func (c *Compilation) AddArtifact(a *Artifact) error {
	clean := path.Clean(filepath.ToSlash(a.Path))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return eris.Errorf("artifact path %s escapes the output directory", a.Path)
	}
	a.Path = clean

	if _, exists := c.byPath[clean]; exists {
		return eris.Errorf("two artifacts would be written to %s", clean)
	}
	if clean == c.Config.Manifest.Filename {
		return eris.Errorf("artifact %s collides with the manifest", clean)
	}

	if a.Hash == "" {
		a.Hash = contentHash(a.Data)
	}
	if a.Type == "" {
		a.Type = mimeType(clean)
	}

	c.artifacts = append(c.artifacts, a)
	c.byPath[clean] = a
	return nil
}

func (c *Compilation) outputPath(tpl string, data pathData) string {
	return expandTemplate(tpl, data, c.Config.Output.HashLength)
}

func (c *Compilation) addAsset(m *Module) (*Artifact, error) {
	if existing, ok := c.assetFor(m.RelPath); ok {
		return existing, nil
	}

	ext := path.Ext(m.RelPath)
	base := strings.TrimSuffix(path.Base(m.RelPath), ext)
	hash := contentHash(m.source)

	physical := c.outputPath(c.Config.Output.AssetFilename, pathData{Name: base, Ext: ext, Hash: hash})
	asset := &Artifact{
		Name:     strings.TrimPrefix(m.RelPath, "./"),
		Path:     physical,
		Hash:     hash,
		Data:     m.source,
		Source:   m.RelPath,
		Manifest: true,
	}

	// identical files share one artifact but keep their own manifest entry
	if existing, ok := c.byPath[path.Clean(physical)]; ok && existing.Hash == hash {
		c.aliases[m.RelPath] = existing
		return existing, nil
	}
	return asset, c.AddArtifact(asset)
}

func (c *Compilation) assetFor(source string) (*Artifact, bool) {
	if a, ok := c.aliases[source]; ok {
		return a, true
	}
	for _, a := range c.artifacts {
		if a.Source == source {
			return a, true
		}
	}
	return nil, false
}

// sortArtifacts orders artifacts by physical path; the manifest is kept apart
func (c *Compilation) sortArtifacts() {
	sort.SliceStable(c.artifacts, func(i, j int) bool {
		return c.artifacts[i].Path < c.artifacts[j].Path
	})
}
