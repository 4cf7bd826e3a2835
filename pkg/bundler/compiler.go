package bundler

import (
	"context"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
)

// Plugin is the base interface of every compilation plugin
type Plugin interface {
	Name() string
}

// EmitPlugin can add artifacts after all chunks and assets are rendered and before the manifest
// is built
type EmitPlugin interface {
	Plugin
	Emit(ctx context.Context, comp *Compilation) error
}

// DonePlugin runs after a build finished, successful or not
type DonePlugin interface {
	Plugin
	Done(ctx context.Context, stats *Stats) error
}

// Stats summarises a finished build
type Stats struct {
	BuildID     string
	Duration    time.Duration
	Modules     int
	Artifacts   []*Artifact
	Err         error
	DryRun      bool
	Compilation *Compilation
}

type Compiler struct {
	cfg      *Config
	cache    TransformCache
	plugins  []Plugin
	hot      bool
	progress func(relPath string)
}

type CompilerOption func(*Compiler)

func WithCache(cache TransformCache) CompilerOption {
	return func(c *Compiler) {
		c.cache = cache
	}
}

func WithPlugins(plugins ...Plugin) CompilerOption {
	return func(c *Compiler) {
		c.plugins = append(c.plugins, plugins...)
	}
}

// WithHot embeds the hot update client in the runtime
func WithHot(hot bool) CompilerOption {
	return func(c *Compiler) {
		c.hot = hot
	}
}

// WithProgress registers a callback that's invoked for every module added to the graph
func WithProgress(cb func(relPath string)) CompilerOption {
	return func(c *Compiler) {
		c.progress = cb
	}
}

func NewCompiler(cfg *Config, opts ...CompilerOption) *Compiler {
	c := &Compiler{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Compiler) Config() *Config {
	return c.cfg
}

// Compile builds the complete compilation in memory
func (c *Compiler) Compile(ctx context.Context) (*Compilation, error) {
	comp := newCompilation(c.cfg, nanoid.New(), c.hot)
	comp.runtime = runtimeSource(c.hot)

	g, err := c.buildGraph(ctx)
	if err != nil {
		return nil, err
	}

	assignIDs(g.order, c.cfg.Optimization.ModuleIDs)
	if err := c.finalize(comp, g); err != nil {
		return nil, err
	}

	comp.Modules = sortedByID(g.order)
	comp.buildChunks(g)
	if err := comp.emitChunks(); err != nil {
		return nil, err
	}

	for _, plugin := range c.plugins {
		if emitter, ok := plugin.(EmitPlugin); ok {
			if err := emitter.Emit(ctx, comp); err != nil {
				return nil, eris.Wrapf(err, "plugin %s failed", plugin.Name())
			}
		}
	}

	comp.sortArtifacts()
	if err := comp.buildManifest(); err != nil {
		return nil, err
	}

	return comp, nil
}

// Run compiles, writes the output unless dryRun is set and finally notifies every DonePlugin.
// Errors of done plugins are only returned when the build itself succeeded.
func (c *Compiler) Run(ctx context.Context, dryRun bool) (*Compilation, error) {
	start := time.Now()
	comp, err := c.Compile(ctx)
	if err == nil && !dryRun {
		err = comp.Write(ctx)
	}

	stats := &Stats{
		Duration:    time.Since(start),
		Err:         err,
		DryRun:      dryRun,
		Compilation: comp,
	}
	if comp != nil && err == nil {
		stats.BuildID = comp.BuildID
		stats.Modules = len(comp.Modules)
		stats.Artifacts = comp.Artifacts()
	}

	if err != nil {
		log(ctx).Error().Err(err).Msg("Build failed")
	} else {
		log(ctx).Info().
			Str("build", stats.BuildID).
			Int("modules", stats.Modules).
			Int("artifacts", len(stats.Artifacts)).
			Dur("duration", stats.Duration).
			Msg("Build finished")
	}

	for _, plugin := range c.plugins {
		done, ok := plugin.(DonePlugin)
		if !ok {
			continue
		}

		if hookErr := done.Done(ctx, stats); hookErr != nil && err == nil {
			err = eris.Wrapf(hookErr, "plugin %s failed", plugin.Name())
		}
	}

	if err != nil {
		return nil, err
	}
	return comp, nil
}
