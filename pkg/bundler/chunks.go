package bundler

import (
	"encoding/base64"
	"encoding/json"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

type ChunkKind string

const (
	ChunkRuntime ChunkKind = "runtime"
	ChunkEntry   ChunkKind = "entry"
	ChunkGroup   ChunkKind = "group"
)

// Chunk is a group of modules emitted as one script (and possibly one stylesheet)
type Chunk struct {
	Name    string
	Kind    ChunkKind
	Modules []*Module
	// Entries are executed once every chunk in Requires is installed
	Entries  []*Module
	Requires []string

	Script    *Artifact
	Style     *Artifact
	SourceMap *Artifact
}

// reachable returns every module reachable from root in depth-first discovery order
func reachable(root *Module) []*Module {
	seen := map[*Module]bool{}
	result := []*Module{}

	var visit func(m *Module)
	visit = func(m *Module) {
		if seen[m] {
			return
		}
		seen[m] = true
		result = append(result, m)
		for _, dep := range m.Deps {
			visit(dep.Module)
		}
	}

	visit(root)
	return result
}

// buildChunks distributes the graph over runtime, cache group and entry chunks
func (c *Compilation) buildChunks(g *graph) {
	cfg := c.Config
	groups := make([]*Chunk, len(cfg.Optimization.CacheGroups))
	for idx, group := range cfg.Optimization.CacheGroups {
		groups[idx] = &Chunk{Name: group.Name, Kind: ChunkGroup}
	}

	groupOf := func(m *Module) int {
		slashed := filepath.ToSlash(m.file)
		for idx, group := range cfg.Optimization.CacheGroups {
			if group.Test.MatchString(slashed) {
				return idx
			}
		}
		return -1
	}

	placed := map[*Module]bool{}
	entries := make([]*Chunk, len(g.entries))
	for idx, root := range g.entries {
		chunk := &Chunk{Name: cfg.Entries[idx].Name, Kind: ChunkEntry, Entries: []*Module{root}}
		needed := map[int]bool{}

		for _, m := range reachable(root) {
			group := groupOf(m)
			if group < 0 {
				chunk.Modules = append(chunk.Modules, m)
				continue
			}

			needed[group] = true
			if !placed[m] {
				placed[m] = true
				groups[group].Modules = append(groups[group].Modules, m)
			}
		}

		for group := range groups {
			if needed[group] {
				chunk.Requires = append(chunk.Requires, groups[group].Name)
			}
		}
		entries[idx] = chunk
	}

	if cfg.Optimization.RuntimeChunk == "single" {
		c.Chunks = append(c.Chunks, &Chunk{Name: "runtime", Kind: ChunkRuntime})
	}
	for _, group := range groups {
		if len(group.Modules) > 0 {
			c.Chunks = append(c.Chunks, group)
		}
	}
	c.Chunks = append(c.Chunks, entries...)
}

// lineWriter counts lines so source map sections know where each module starts
type lineWriter struct {
	b     strings.Builder
	lines int
}

func (w *lineWriter) write(s string) {
	w.b.WriteString(s)
	w.lines += strings.Count(s, "\n")
}

type mapSection struct {
	Offset struct {
		Line   int `json:"line"`
		Column int `json:"column"`
	} `json:"offset"`
	Map json.RawMessage `json:"map"`
}

type indexMap struct {
	Version  int          `json:"version"`
	File     string       `json:"file,omitempty"`
	Sections []mapSection `json:"sections"`
}

func jsList(items []string) string {
	quoted := make([]string, len(items))
	for idx, item := range items {
		quoted[idx] = jsString(item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func sortedByID(modules []*Module) []*Module {
	result := make([]*Module, len(modules))
	copy(result, modules)
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// renderFactories writes an object literal of module factories
func renderFactories(w *lineWriter, modules []*Module) []mapSection {
	sections := []mapSection{}
	w.write("{\n")

	sorted := sortedByID(modules)
	for idx, m := range sorted {
		w.write(jsString(m.ID) + ": function (module, exports, require) {" + m.prologue + "\n")
		if len(m.Map) > 0 {
			section := mapSection{Map: json.RawMessage(m.Map)}
			section.Offset.Line = w.lines
			sections = append(sections, section)
		}
		w.write(m.Factory)
		if idx < len(sorted)-1 {
			w.write("},\n")
		} else {
			w.write("}\n")
		}
	}

	w.write("}")
	return sections
}

func (c *Compilation) renderChunk(ch *Chunk) (string, []mapSection) {
	w := &lineWriter{}
	if ch.Kind == ChunkRuntime {
		w.write(c.runtime)
		return w.b.String(), nil
	}

	if ch.Kind == ChunkEntry && c.Config.Optimization.RuntimeChunk == "inline" {
		w.write(c.runtime)
	}

	entryIDs := make([]string, len(ch.Entries))
	for idx, m := range ch.Entries {
		entryIDs[idx] = m.ID
	}

	w.write("(" + chunkQueue + " = " + chunkQueue + " || []).push([" + jsList([]string{ch.Name}) + ", ")
	sections := renderFactories(w, ch.Modules)
	w.write(", " + jsList(entryIDs) + ", " + jsList(ch.Requires) + "]);\n")
	return w.b.String(), sections
}

// emitChunks renders every chunk into its script, stylesheet and source map artifacts
func (c *Compilation) emitChunks() error {
	out := c.Config.Output

	for _, ch := range c.Chunks {
		code, sections := c.renderChunk(ch)
		data := pathData{Name: ch.Name, ID: ch.Name, Ext: ".js"}

		var mapData []byte
		switch {
		case len(sections) == 0:
			data.Hash = contentHash([]byte(code))
		case c.Config.Devtool == DevtoolInlineSourceMap:
			encoded, err := json.Marshal(indexMap{Version: 3, Sections: sections})
			if err != nil {
				return err
			}
			code += "//# sourceMappingURL=data:application/json;charset=utf-8;base64," + base64.StdEncoding.EncodeToString(encoded) + "\n"
			data.Hash = contentHash([]byte(code))
		default:
			data.Hash = contentHash([]byte(code))
			physical := c.outputPath(out.Filename, data)
			encoded, err := json.Marshal(indexMap{Version: 3, File: path.Base(physical), Sections: sections})
			if err != nil {
				return err
			}
			mapData = encoded
			code += "//# sourceMappingURL=" + path.Base(physical) + ".map\n"
		}

		ch.Script = &Artifact{
			Name:     ch.Name + ".js",
			Path:     c.outputPath(out.Filename, data),
			Hash:     data.Hash,
			Type:     "application/javascript",
			Data:     []byte(code),
			Chunk:    ch.Name,
			Manifest: true,
		}
		if err := c.AddArtifact(ch.Script); err != nil {
			return err
		}

		if mapData != nil {
			ch.SourceMap = &Artifact{
				Name:     ch.Name + ".js.map",
				Path:     ch.Script.Path + ".map",
				Type:     "application/json",
				Data:     mapData,
				Chunk:    ch.Name,
				Manifest: true,
			}
			if err := c.AddArtifact(ch.SourceMap); err != nil {
				return err
			}
		}

		if err := c.emitChunkStyle(ch); err != nil {
			return err
		}
	}

	return nil
}

func (c *Compilation) emitChunkStyle(ch *Chunk) error {
	parts := []string{}
	for _, m := range ch.Modules {
		if m.kind == kindStyleExtract && m.CSS != "" {
			parts = append(parts, m.CSS)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	text := []byte(strings.Join(parts, "\n") + "\n")
	hash := contentHash(text)
	ch.Style = &Artifact{
		Name:     ch.Name + ".css",
		Path:     c.outputPath(c.Config.Output.CSSFilename, pathData{Name: ch.Name, ID: ch.Name, Ext: ".css", Hash: hash}),
		Hash:     hash,
		Type:     "text/css",
		Data:     text,
		Chunk:    ch.Name,
		Manifest: true,
	}
	return c.AddArtifact(ch.Style)
}
