package bundler

import (
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptDependencies(t *testing.T) {
	src := []byte(`import b from "pkg/b";
const a = require("./a.js");
const again = require("./a.js");
obj.require("./not-a-dep.js");
console.log("usage: require(\"left-pad\")", ` + "`require(\"right-pad\") ${b}`" + `);
`)

	out, err := transformScript(src, "./src/deps.js", scriptOptions{mode: ModeDevelopment})
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/b", "./a.js"}, out.Deps, "only real imports are dependencies")

	code := rewriteSpecifiers(out.Code, out.Deps, map[string]string{"./a.js": "1f3a"})
	assert.Contains(t, code, `require("1f3a")`)
	assert.Contains(t, code, `require("pkg/b")`, "unresolved specifiers are restored")
	assert.NotContains(t, code, depPrefix)
	assert.Contains(t, code, "left-pad")
	assert.Contains(t, code, "right-pad")
	assert.Contains(t, code, "not-a-dep.js")
}

func TestRewriteSpecifiersLeavesStrings(t *testing.T) {
	placeholder := depPlaceholder("./a.js")
	code := `var a = require("` + placeholder + `");
var text = "require(\"./a.js\")";
`

	result := rewriteSpecifiers(code, []string{"./a.js"}, map[string]string{"./a.js": "1f3a"})
	assert.Equal(t, `var a = require("1f3a");
var text = "require(\"./a.js\")";
`, result)
}

func TestHotDepsPrologue(t *testing.T) {
	assert.Empty(t, hotDepsPrologue(nil))
	assert.Equal(t, ` module.deps = {"./a.js": "1f3a", "./b.js": "2b2b"};`,
		hotDepsPrologue(map[string]string{"./b.js": "2b2b", "./a.js": "1f3a"}))
}

func TestTransformScript(t *testing.T) {
	src := []byte(`import join from 'join-words';
export const mode = process.env.NODE_ENV;
export default () => join(['a']);
`)

	out, err := transformScript(src, "./src/index.js", scriptOptions{target: api.ES2015, mode: ModeProduction})
	require.NoError(t, err)
	assert.Equal(t, []string{"join-words"}, out.Deps)
	assert.Contains(t, out.Code, `"production"`)
	assert.NotContains(t, out.Code, "process.env.NODE_ENV")
	assert.Contains(t, out.Code, "module.exports")
	assert.Empty(t, out.Map)

	out, err = transformScript(src, "./src/index.js", scriptOptions{target: api.ES2015, mode: ModeDevelopment, sourceMaps: true})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Map)

	_, err = transformScript([]byte("let x = ;\n"), "./src/broken.js", scriptOptions{mode: ModeDevelopment})
	require.Error(t, err)
	transformError, ok := err.(*TransformError)
	require.True(t, ok)
	assert.Equal(t, "./src/broken.js", transformError.File)
	assert.Equal(t, 1, transformError.Line)
	assert.Equal(t, 9, transformError.Column)
}

func TestTransformJSX(t *testing.T) {
	src := []byte("export default () => <div className=\"x\">hi</div>;\n")

	_, err := transformScript(src, "./src/view.js", scriptOptions{mode: ModeDevelopment})
	assert.Error(t, err)

	out, err := transformScript(src, "./src/view.jsx", scriptOptions{mode: ModeDevelopment, jsx: true})
	require.NoError(t, err)
	assert.Contains(t, out.Code, "React.createElement")
}
