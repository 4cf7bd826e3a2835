package bundler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func artifactPaths(comp *Compilation) map[string][]byte {
	result := map[string][]byte{}
	for _, a := range comp.Artifacts() {
		result[a.Path] = a.Data
	}
	return result
}

func TestCompileFixture(t *testing.T) {
	root := writeProject(t, fixtureFiles())
	comp := compileProject(t, root)

	names := []string{}
	for _, ch := range comp.Chunks {
		names = append(names, ch.Name)
	}
	assert.Equal(t, []string{"runtime", "index", "print"}, names)

	index := comp.Chunk("index")
	require.NotNil(t, index)
	require.Len(t, index.Entries, 1)
	assert.Equal(t, "./src/index.js", index.Entries[0].RelPath)

	manifest := comp.Manifest()
	assert.Contains(t, manifest, "index.js")
	assert.Contains(t, manifest, "print.js")
	assert.Contains(t, manifest, "runtime.js")
	require.Contains(t, manifest, "src/img/icon.png")
	assert.Regexp(t, `^/[0-9a-f]{20}\.png$`, manifest["src/img/icon.png"])
	assert.Regexp(t, `^/index\.[0-9a-f]{20}\.js$`, manifest["index.js"])

	// the stylesheet references the emitted image
	assert.Contains(t, string(index.Script.Data), manifest["src/img/icon.png"])
	assert.Contains(t, string(index.Script.Data), `"__gopack_chunks__"`)
	assert.NotContains(t, string(index.Script.Data), "./print.js")

	for _, m := range comp.Modules {
		assert.GreaterOrEqual(t, len(m.ID), 4, m.RelPath)
		assert.NotEmpty(t, m.Hash, m.RelPath)
	}

	last := comp.Artifacts()[len(comp.Artifacts())-1]
	assert.Equal(t, "manifest.json", last.Path)
	assert.True(t, strings.HasSuffix(string(last.Data), "}\n"))
}

func TestCompileIsDeterministic(t *testing.T) {
	root := writeProject(t, fixtureFiles())
	cache, err := NewMemoryCache(16)
	require.NoError(t, err)

	first := compileProject(t, root)
	second := compileProject(t, root, WithCache(cache))
	third := compileProject(t, root, WithCache(cache))

	assert.NotEqual(t, first.BuildID, second.BuildID)
	for _, other := range []*Compilation{second, third} {
		assert.Equal(t, artifactPaths(first), artifactPaths(other))
		for _, a := range first.Artifacts() {
			same, ok := other.Artifact(a.Path)
			require.True(t, ok, a.Path)
			assert.True(t, bytes.Equal(a.Data, same.Data), "%s differs between builds", a.Path)
		}

		manifest, ok := first.Artifact("manifest.json")
		require.True(t, ok)
		again, ok := other.Artifact("manifest.json")
		require.True(t, ok)
		assert.Equal(t, string(manifest.Data), string(again.Data))
	}
	assert.Greater(t, cache.Len(), 0)
}

func TestHashesFollowContent(t *testing.T) {
	root := writeProject(t, fixtureFiles())
	before := compileProject(t, root).Manifest()

	writeFiles(t, root, map[string]string{
		"src/print.js": "export default function printMe() {\n  console.log(\"changed\");\n}\n",
	})
	after := compileProject(t, root).Manifest()

	assert.NotEqual(t, before["print.js"], after["print.js"])
	assert.NotEqual(t, before["index.js"], after["index.js"], "index bundles print.js as well")
	assert.Equal(t, before["runtime.js"], after["runtime.js"])
	assert.Equal(t, before["src/img/icon.png"], after["src/img/icon.png"])
}

func TestRunWritesOutput(t *testing.T) {
	root := writeProject(t, fixtureFiles())
	cfg := loadProject(t, root)

	require.NoError(t, os.MkdirAll(cfg.Output.Path, 0o755))
	stale := filepath.Join(cfg.Output.Path, "stale.js")
	require.NoError(t, ioutil.WriteFile(stale, []byte("old"), 0o644))

	comp, err := NewCompiler(cfg).Run(testContext(t), false)
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale files are removed")

	for _, a := range comp.Artifacts() {
		data, err := ioutil.ReadFile(filepath.Join(cfg.Output.Path, filepath.FromSlash(a.Path)))
		require.NoError(t, err, a.Path)
		assert.Equal(t, a.Data, data, a.Path)
	}

	data, err := ioutil.ReadFile(filepath.Join(cfg.Output.Path, "manifest.json"))
	require.NoError(t, err)

	var manifest map[string]string
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, map[string]string(comp.Manifest()), manifest)

	encoded, err := comp.Manifest().Encode()
	require.NoError(t, err)
	assert.Equal(t, string(encoded), string(data))
}

func TestDryRunWritesNothing(t *testing.T) {
	root := writeProject(t, fixtureFiles())
	cfg := loadProject(t, root)

	comp, err := NewCompiler(cfg).Run(testContext(t), true)
	require.NoError(t, err)
	assert.NotEmpty(t, comp.Artifacts())

	_, err = os.Stat(cfg.Output.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestTransformErrorStopsTheBuild(t *testing.T) {
	files := fixtureFiles()
	files["src/print.js"] = "const = 1;\n"
	root := writeProject(t, files)
	cfg := loadProject(t, root)

	_, err := NewCompiler(cfg).Run(testContext(t), false)
	require.Error(t, err)
	require.True(t, IsTransformError(err))

	var transformError *TransformError
	require.True(t, errors.As(err, &transformError))
	assert.Equal(t, "./src/print.js", transformError.File)
	assert.Equal(t, 1, transformError.Line)
	assert.Greater(t, transformError.Column, 0)

	_, err = os.Stat(filepath.Join(cfg.Output.Path, "manifest.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestMissingModules(t *testing.T) {
	files := fixtureFiles()
	files["src/index.js"] = "import './nowhere.js';\n"
	root := writeProject(t, files)

	_, err := NewCompiler(loadProject(t, root)).Compile(testContext(t))
	require.Error(t, err)
	assert.True(t, IsTransformError(err))
	assert.Contains(t, err.Error(), "./src/index.js")
	assert.Contains(t, err.Error(), "nowhere.js")

	files = fixtureFiles()
	delete(files, "src/print.js")
	files["src/index.js"] = "console.log(1);\n"
	root = writeProject(t, files)

	_, err = NewCompiler(loadProject(t, root)).Compile(testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `entry module for "print" not found`)
}

func TestUnmatchedFileType(t *testing.T) {
	files := fixtureFiles()
	files["src/index.js"] = "import './data.yaml';\n"
	files["src/data.yaml"] = "a: 1\n"
	root := writeProject(t, files)

	_, err := NewCompiler(loadProject(t, root)).Compile(testContext(t))
	require.Error(t, err)
	assert.True(t, IsTransformError(err))
	assert.Contains(t, err.Error(), "no rule matches this file")
}

func TestCacheGroups(t *testing.T) {
	files := fixtureFiles()
	files["bundle.star"] = fixtureScript + `    cache_group("vendors", r"[\\/]node_modules[\\/]")
`
	files["src/index.js"] = "import join from 'join-words';\nconsole.log(join(['a', 'b']));\n"
	files["src/print.js"] = "const join = require('join-words');\nmodule.exports = join(['c']);\n"
	files["node_modules/join-words/package.json"] = `{"name": "join-words", "main": "index.js"}`
	files["node_modules/join-words/index.js"] = "module.exports = function (words) { return words.join(' '); };\n"
	root := writeProject(t, files)

	comp := compileProject(t, root)
	vendors := comp.Chunk("vendors")
	require.NotNil(t, vendors)
	assert.Equal(t, ChunkGroup, vendors.Kind)
	require.Len(t, vendors.Modules, 1)
	assert.Equal(t, "./node_modules/join-words/index.js", vendors.Modules[0].RelPath)

	for _, name := range []string{"index", "print"} {
		ch := comp.Chunk(name)
		require.NotNil(t, ch)
		assert.Equal(t, []string{"vendors"}, ch.Requires)
		for _, m := range ch.Modules {
			assert.NotContains(t, m.RelPath, "node_modules")
		}
		assert.Contains(t, string(ch.Script.Data), `["vendors"]`)
	}

	assert.Equal(t, "vendors", comp.Chunks[1].Name)
	assert.Contains(t, comp.Manifest(), "vendors.js")
}

func TestNamedModuleIDs(t *testing.T) {
	files := fixtureFiles()
	files["bundle.star"] = fixtureScript + `    optimization(module_ids = "named", runtime_chunk = "inline")
`
	root := writeProject(t, files)
	comp := compileProject(t, root)

	require.NotNil(t, moduleByPath(comp, "./src/print.js"))
	assert.Equal(t, "./src/print.js", moduleByPath(comp, "./src/print.js").ID)
	assert.Nil(t, comp.Chunk("runtime"))

	index := comp.Chunk("index")
	assert.Contains(t, string(index.Script.Data), "__gopack_runtime__")
	assert.NotContains(t, comp.Manifest(), "runtime.js")
}

func TestExtractedStylesheet(t *testing.T) {
	files := fixtureFiles()
	files["bundle.star"] = strings.Replace(fixtureScript, `["style", "css"]`, `["extract", "css"]`, 1)
	files["src/style.css"] = "@import './base.css';\n.hello { background: url(./img/icon.png); }\n"
	files["src/base.css"] = "body { margin: 0; }\n"
	root := writeProject(t, files)

	comp := compileProject(t, root)
	index := comp.Chunk("index")
	require.NotNil(t, index.Style)
	assert.Equal(t, "index.css", index.Style.Name)

	css := string(index.Style.Data)
	assert.Less(t, strings.Index(css, "margin"), strings.Index(css, ".hello"), "imports come first")
	assert.Contains(t, css, comp.Manifest()["src/img/icon.png"])
	assert.Contains(t, comp.Manifest(), "index.css")
	assert.Nil(t, comp.Chunk("print").Style)
}

func TestLiteralsAreNotDependencies(t *testing.T) {
	files := fixtureFiles()
	files["src/print.js"] = "export default function printMe() {\n" +
		"  console.log(\"usage: require(\\\"left-pad\\\")\");\n" +
		"  console.log(`require(\"right-pad\") and require('./print.js')`);\n" +
		"}\n"
	files["src/style.css"] = ".hello::after { content: \"see url(missing.png)\"; background: url(./img/icon.png); }\n"
	root := writeProject(t, files)

	comp := compileProject(t, root)
	printModule := moduleByPath(comp, "./src/print.js")
	require.NotNil(t, printModule)
	assert.Empty(t, printModule.Deps)
	assert.Contains(t, printModule.Factory, `left-pad`)
	assert.Contains(t, printModule.Factory, `require('./print.js')`, "string contents are not rewritten to module ids")

	content := moduleByPath(comp, "./src/style.css?content")
	require.NotNil(t, content)
	assert.Contains(t, content.CSS, "see url(missing.png)")
	icon := moduleByPath(comp, "./src/img/icon.png")
	require.NotNil(t, icon)
	assert.Contains(t, content.CSS, comp.PublicPath(icon.Asset))
}

func TestIdenticalAssetsKeepManifestEntries(t *testing.T) {
	files := fixtureFiles()
	files["src/img/copy.png"] = files["src/img/icon.png"]
	files["src/style.css"] = ".a { background: url(./img/icon.png); }\n.b { background: url(./img/copy.png); }\n"
	root := writeProject(t, files)

	comp := compileProject(t, root)
	manifest := comp.Manifest()
	require.Contains(t, manifest, "src/img/icon.png")
	require.Contains(t, manifest, "src/img/copy.png")
	assert.Equal(t, manifest["src/img/icon.png"], manifest["src/img/copy.png"])

	pngs := 0
	for _, a := range comp.Artifacts() {
		if strings.HasSuffix(a.Path, ".png") {
			pngs++
		}
	}
	assert.Equal(t, 1, pngs, "identical files are emitted once")
}

func TestImportCycle(t *testing.T) {
	files := fixtureFiles()
	files["src/style.css"] = "@import './other.css';\n.a { color: red; }\n"
	files["src/other.css"] = "@import './style.css';\n.b { color: blue; }\n"
	root := writeProject(t, files)

	_, err := NewCompiler(loadProject(t, root)).Compile(testContext(t))
	require.Error(t, err)
	assert.True(t, IsTransformError(err))
	assert.Contains(t, err.Error(), "@import cycle")
}

func TestDataModules(t *testing.T) {
	files := fixtureFiles()
	files["bundle.star"] = fixtureScript + `    rule(test = r"\.xml$", use = ["xml"])
`
	files["src/index.js"] = "import data from './data.json';\nimport notes from './notes.xml';\nconsole.log(data, notes);\n"
	files["src/data.json"] = "{\n  \"name\": \"demo\",\n  \"tags\": [1, 2]\n}\n"
	files["src/notes.xml"] = `<note id="1"><to>Mary</to><body>Call</body></note>`
	root := writeProject(t, files)

	comp := compileProject(t, root)
	data := moduleByPath(comp, "./src/data.json")
	require.NotNil(t, data)
	assert.Equal(t, "module.exports = {\"name\":\"demo\",\"tags\":[1,2]};\n", data.Factory)

	notes := moduleByPath(comp, "./src/notes.xml")
	require.NotNil(t, notes)
	assert.Equal(t, `module.exports = {"note":{"$":{"id":"1"},"body":["Call"],"to":["Mary"]}};`+"\n", notes.Factory)
}

func TestSourceMaps(t *testing.T) {
	files := fixtureFiles()
	files["bundle.star"] = fixtureScript + `    devtool("source-map")
`
	root := writeProject(t, files)
	comp := compileProject(t, root)

	index := comp.Chunk("index")
	require.NotNil(t, index.SourceMap)
	assert.Equal(t, index.Script.Path+".map", index.SourceMap.Path)
	assert.Contains(t, string(index.Script.Data), "//# sourceMappingURL="+filepath.Base(index.Script.Path)+".map")
	assert.Equal(t, "/"+index.SourceMap.Path, comp.Manifest()["index.js.map"])

	var sourceMap indexMap
	require.NoError(t, json.Unmarshal(index.SourceMap.Data, &sourceMap))
	assert.Equal(t, 3, sourceMap.Version)
	assert.NotEmpty(t, sourceMap.Sections)

	files["bundle.star"] = fixtureScript + `    devtool("inline-source-map")
`
	root = writeProject(t, files)
	comp = compileProject(t, root)
	index = comp.Chunk("index")
	assert.Nil(t, index.SourceMap)
	assert.Contains(t, string(index.Script.Data), "sourceMappingURL=data:application/json;charset=utf-8;base64,")
}

func TestAssignIDs(t *testing.T) {
	modules := []*Module{}
	for i := 0; i < 500; i++ {
		modules = append(modules, &Module{RelPath: fmt.Sprintf("./src/module%d.js", i)})
	}

	assignIDs(modules, "deterministic")
	seen := map[string]bool{}
	for _, m := range modules {
		assert.GreaterOrEqual(t, len(m.ID), 4)
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}

	again := []*Module{{RelPath: modules[42].RelPath}}
	assignIDs(again, "deterministic")
	assert.True(t, strings.HasPrefix(modules[42].ID, again[0].ID))
}
