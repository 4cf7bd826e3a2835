package bundler

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
)

const contentSuffix = "?content"

// Module is a single node of the dependency graph
type Module struct {
	ID string
	// Path is the absolute source path; stylesheet content modules carry a "?content" suffix
	Path    string
	RelPath string
	Type    ModuleType
	Deps    []*Dependency
	Factory string
	Map     []byte
	CSS     string
	Asset   *Artifact
	Hash    string

	kind     moduleKind
	rule     *Rule
	file     string
	source   []byte
	output   *TransformOutput
	prologue string
	urls     []*Module
	imports  []*Module
	cssState int
}

// Dependency is a require() edge between two modules
type Dependency struct {
	Specifier string
	Module    *Module
}

type graph struct {
	modules  map[string]*Module
	order    []*Module
	entries  []*Module
	resolver *resolver
}

func (c *Compiler) relPath(path string) string {
	rel, err := filepath.Rel(c.cfg.ProjectRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}

	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return rel
	}
	return "./" + rel
}

// buildGraph loads every module reachable from the entries in discovery order
func (c *Compiler) buildGraph(ctx context.Context) (*graph, error) {
	g := &graph{
		modules:  map[string]*Module{},
		resolver: newResolver(c.cfg),
	}

	for _, entry := range c.cfg.Entries {
		path, ok := g.resolver.resolveFile(entry.Source)
		if !ok {
			return nil, transformErr(c.relPath(entry.Source), "entry module for %q not found", entry.Name)
		}

		m, err := c.load(ctx, g, path)
		if err != nil {
			return nil, err
		}
		g.entries = append(g.entries, m)
	}

	return g, nil
}

func (c *Compiler) newModule(g *graph, key, file string, rule *Rule, kind moduleKind) *Module {
	m := &Module{
		Path:    key,
		RelPath: c.relPath(file) + strings.TrimPrefix(key, file),
		Type:    rule.Type,
		kind:    kind,
		rule:    rule,
		file:    file,
	}

	g.modules[key] = m
	g.order = append(g.order, m)
	if c.progress != nil {
		c.progress(m.RelPath)
	}
	return m
}

func (c *Compiler) readSource(m *Module) error {
	src, err := ioutil.ReadFile(m.file)
	if err != nil {
		return transformErr(c.relPath(m.file), "can't read file: %s", err)
	}
	m.source = src
	return nil
}

func (c *Compiler) load(ctx context.Context, g *graph, path string) (*Module, error) {
	if m, ok := g.modules[path]; ok {
		return m, nil
	}

	rule, kind, err := c.classify(path)
	if err != nil {
		return nil, err
	}

	if kind == kindStyle {
		injector := c.newModule(g, path, path, rule, kind)
		content, err := c.loadStylesheet(ctx, g, path, rule)
		if err != nil {
			return nil, err
		}

		injector.Deps = []*Dependency{{Specifier: content.RelPath, Module: content}}
		return injector, nil
	}

	m := c.newModule(g, path, path, rule, kind)
	if err := c.readSource(m); err != nil {
		return nil, err
	}
	if kind == kindAsset {
		return m, nil
	}

	m.output, err = c.transform(kind, rule, path, m.source)
	if err != nil {
		return nil, err
	}

	if kind.isStylesheet() {
		return m, c.linkStylesheet(ctx, g, m)
	}

	log(ctx).Debug().Str("path", m.RelPath).Int("deps", len(m.output.Deps)).Msg("Transformed")

	dir := filepath.Dir(path)
	for _, spec := range m.output.Deps {
		resolved, err := g.resolver.resolve(spec, dir)
		if err != nil {
			return nil, transformErr(m.RelPath, "%s", err.Error())
		}

		dep, err := c.load(ctx, g, resolved)
		if err != nil {
			return nil, err
		}
		m.Deps = append(m.Deps, &Dependency{Specifier: spec, Module: dep})
	}

	return m, nil
}

// loadStylesheet loads the CSS text of path as a content module, independent of the rule that
// decides how the stylesheet reaches the page
func (c *Compiler) loadStylesheet(ctx context.Context, g *graph, path string, rule *Rule) (*Module, error) {
	key := path + contentSuffix
	if m, ok := g.modules[key]; ok {
		return m, nil
	}

	m := c.newModule(g, key, path, &Rule{Type: TypeJavaScript, Use: []string{LoaderCSS}, Options: rule.Options}, kindStyleContent)
	if err := c.readSource(m); err != nil {
		return nil, err
	}

	var err error
	m.output, err = c.transform(kindStyleContent, m.rule, path, m.source)
	if err != nil {
		return nil, err
	}
	return m, c.linkStylesheet(ctx, g, m)
}

// stylesheetSpecifier turns a url() or @import reference into a resolvable specifier. Plain
// relative references like "image.png" are relative to the stylesheet; "~pkg/file" names a package.
func stylesheetSpecifier(ref string) string {
	switch {
	case strings.HasPrefix(ref, "~"):
		return ref[1:]
	case strings.HasPrefix(ref, "./"), strings.HasPrefix(ref, "../"):
		return ref
	default:
		return "./" + ref
	}
}

func (c *Compiler) linkStylesheet(ctx context.Context, g *graph, m *Module) error {
	dir := filepath.Dir(m.file)

	for _, ref := range m.output.Deps {
		resolved, err := g.resolver.resolve(stylesheetSpecifier(ref), dir)
		if err != nil {
			return transformErr(m.RelPath, "%s", err.Error())
		}

		dep, err := c.load(ctx, g, resolved)
		if err != nil {
			return err
		}
		if dep.kind != kindAsset {
			return transformErr(m.RelPath, "url(%s) doesn't point to an asset module (%s)", ref, dep.Type)
		}
		m.urls = append(m.urls, dep)
	}

	for _, ref := range m.output.Imports {
		resolved, err := g.resolver.resolve(stylesheetSpecifier(ref), dir)
		if err != nil {
			return transformErr(m.RelPath, "%s", err.Error())
		}

		imported, err := c.loadStylesheet(ctx, g, resolved, m.rule)
		if err != nil {
			return err
		}
		m.imports = append(m.imports, imported)
	}

	log(ctx).Debug().Str("path", m.RelPath).Int("urls", len(m.urls)).Int("imports", len(m.imports)).Msg("Parsed stylesheet")
	return nil
}

// assignIDs gives every module its ID. Deterministic IDs are the shortest prefix of the hashed
// relative path that no other module shares, at least 4 characters long.
func assignIDs(modules []*Module, strategy string) {
	if strategy == "named" {
		for _, m := range modules {
			m.ID = m.RelPath
		}
		return
	}

	type entry struct {
		hash   string
		module *Module
	}

	entries := make([]entry, len(modules))
	for idx, m := range modules {
		entries[idx] = entry{hash: contentHash([]byte(m.RelPath)), module: m}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].hash < entries[j].hash
	})

	for idx, item := range entries {
		length := 4
		if idx > 0 {
			if n := commonPrefix(item.hash, entries[idx-1].hash) + 1; n > length {
				length = n
			}
		}
		if idx < len(entries)-1 {
			if n := commonPrefix(item.hash, entries[idx+1].hash) + 1; n > length {
				length = n
			}
		}
		if length > len(item.hash) {
			length = len(item.hash)
		}
		item.module.ID = item.hash[:length]
	}
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// finalize renders every module's factory once IDs and asset paths are known
func (c *Compiler) finalize(comp *Compilation, g *graph) error {
	publicPath := c.cfg.Output.PublicPath

	for _, m := range g.order {
		if m.kind != kindAsset {
			continue
		}

		if m.Type == TypeAssetResource {
			asset, err := comp.addAsset(m)
			if err != nil {
				return err
			}
			m.Asset = asset
		}
		m.Factory = assetCode(m.Type, m.file, m.source, m.assetURL(publicPath))
	}

	for _, m := range g.order {
		if !m.kind.isStylesheet() {
			continue
		}

		if err := c.resolveCSS(m, nil); err != nil {
			return err
		}
		if m.kind == kindStyleExtract {
			m.Factory = "// extracted to the chunk stylesheet\n"
		} else {
			m.Factory = cssTextCode(m.CSS)
		}
	}

	for _, m := range g.order {
		switch m.kind {
		case kindStyle:
			m.Factory = styleInjectorCode(m.Deps[0].Module.ID, m.ID, m.rule.Options["insert"])
		case kindScript:
			ids := make(map[string]string, len(m.Deps))
			for _, dep := range m.Deps {
				ids[dep.Specifier] = dep.Module.ID
			}
			m.Factory = rewriteSpecifiers(m.output.Code, m.output.Deps, ids)
			m.Map = m.output.Map
			if strings.Contains(m.Factory, "module.hot") {
				m.prologue = hotDepsPrologue(ids)
			}
		case kindJSON, kindXML:
			m.Factory = m.output.Code
		}

		if !strings.HasSuffix(m.Factory, "\n") {
			m.Factory += "\n"
		}
		m.Hash = hashStrings(m.prologue, m.Factory, m.CSS)
	}

	return nil
}

// resolveCSS computes the final stylesheet text of m with its imports inlined
func (c *Compiler) resolveCSS(m *Module, chain []string) error {
	switch m.cssState {
	case 2:
		return nil
	case 1:
		return transformErr(m.RelPath, "@import cycle: %s -> %s", strings.Join(chain, " -> "), m.RelPath)
	}

	m.cssState = 1
	chain = append(chain, m.RelPath)

	parts := make([]string, 0, len(m.imports)+1)
	for _, imported := range m.imports {
		if err := c.resolveCSS(imported, chain); err != nil {
			return err
		}
		parts = append(parts, imported.CSS)
	}

	urls := make([]string, len(m.urls))
	for idx, asset := range m.urls {
		urls[idx] = asset.assetURL(c.cfg.Output.PublicPath)
	}
	parts = append(parts, substituteURLs(m.output.CSS, urls))

	m.CSS = strings.Join(parts, "\n")
	m.cssState = 2
	return nil
}
