package bundler

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const fixtureScript = `
def configure():
    mode("production")
    entry("index", "src/index.js")
    entry("print", "src/print.js")
    rule(test = r"\.css$", use = ["style", "css"])
    rule(test = r"\.(png|svg)$", type = "asset/resource")
`

func fixtureFiles() map[string]string {
	return map[string]string{
		"bundle.star": fixtureScript,
		"src/index.js": `import printMe from './print.js';
import './style.css';

printMe();
`,
		"src/print.js": `export default function printMe() {
  console.log("I get called from print.js!");
}
`,
		"src/style.css": `.hello { color: red; background: url(./img/icon.png) no-repeat; }
`,
		"src/img/icon.png": "\x89PNG\r\n\x1a\nnot really a png",
	}
}

func testContext(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.WarnLevel)
	return WithLogger(context.Background(), &logger)
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, ioutil.WriteFile(path, []byte(content), 0o644))
	}
}

// writeProject creates a project in a temporary directory and returns its root
func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, root, files)
	return root
}

func loadProject(t *testing.T, root string) *Config {
	t.Helper()
	cfg, err := LoadConfig(testContext(t), filepath.Join(root, "bundle.star"), nil)
	require.NoError(t, err)
	return cfg
}

func compileProject(t *testing.T, root string, opts ...CompilerOption) *Compilation {
	t.Helper()
	comp, err := NewCompiler(loadProject(t, root), opts...).Compile(testContext(t))
	require.NoError(t, err)
	return comp
}

func moduleByPath(comp *Compilation, relPath string) *Module {
	for _, m := range comp.Modules {
		if m.RelPath == relPath {
			return m
		}
	}
	return nil
}
