package bundler

import (
	"sort"
	"strings"
)

// HotUpdate carries the factories of every module that changed between two compilations
type HotUpdate struct {
	Hash    string
	Modules []string
	Script  []byte
}

// layout describes everything about a compilation that the page itself references: chunk
// structure, the runtime and extracted stylesheets. A change here can't be hot applied.
func (c *Compilation) layout() string {
	var b strings.Builder
	for _, ch := range c.Chunks {
		b.WriteString(string(ch.Kind) + ":" + ch.Name + "|")
		for _, m := range ch.Entries {
			b.WriteString(m.ID + ",")
		}
		b.WriteString("|" + strings.Join(ch.Requires, ",") + "|")
		if ch.Kind == ChunkRuntime {
			b.WriteString(ch.Script.Hash)
		}
		if ch.Style != nil {
			b.WriteString(ch.Style.Hash)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// HotUpdateFrom computes the update that turns a page running prev into this compilation.
// It returns false if the page has to be reloaded instead.
func (c *Compilation) HotUpdateFrom(prev *Compilation) (*HotUpdate, bool) {
	if prev == nil || prev.layout() != c.layout() || prev.runtime != c.runtime {
		return nil, false
	}

	previous := make(map[string]string, len(prev.Modules))
	for _, m := range prev.Modules {
		previous[m.ID] = m.Hash
	}

	changed := []*Module{}
	for _, m := range c.Modules {
		if hash, ok := previous[m.ID]; !ok || hash != m.Hash {
			changed = append(changed, m)
		}
	}

	update := &HotUpdate{Hash: c.BuildID, Modules: make([]string, len(changed))}
	for idx, m := range changed {
		update.Modules[idx] = m.ID
	}
	sort.Strings(update.Modules)

	if len(changed) > 0 {
		w := &lineWriter{}
		w.write(hotUpdateHook + "(" + jsString(c.BuildID) + ", ")
		renderFactories(w, changed)
		w.write(");\n")
		update.Script = []byte(w.b.String())
	}

	return update, true
}
