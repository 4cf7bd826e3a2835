package bundler

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

var scriptTargets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

const depPrefix = "__gopack_dep_"

// depPlaceholder is the external name esbuild prints in place of an import specifier
func depPlaceholder(spec string) string {
	return depPrefix + hashStrings(spec)[:16] + "__"
}

// importRecorder collects the import and require() specifiers esbuild finds in a file and keeps
// each one external under its placeholder
type importRecorder struct {
	mu    sync.Mutex
	specs map[string]string
}

func (r *importRecorder) plugin() api.Plugin {
	return api.Plugin{
		Name: "gopack-imports",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				placeholder := depPlaceholder(args.Path)

				r.mu.Lock()
				r.specs[placeholder] = args.Path
				r.mu.Unlock()
				return api.OnResolveResult{Path: placeholder, External: true}, nil
			})
		},
	}
}

// deps returns the recorded specifiers in order of first appearance in code. esbuild resolves
// imports concurrently so the callback order can't be used.
func (r *importRecorder) deps(code string) []string {
	type use struct {
		pos  int
		spec string
	}

	uses := make([]use, 0, len(r.specs))
	for placeholder, spec := range r.specs {
		if pos := strings.Index(code, placeholder); pos >= 0 {
			uses = append(uses, use{pos, spec})
		}
	}
	sort.Slice(uses, func(i, j int) bool { return uses[i].pos < uses[j].pos })

	result := make([]string, len(uses))
	for idx, u := range uses {
		result[idx] = u.spec
	}
	return result
}

type scriptOptions struct {
	transpile  bool
	target     api.Target
	jsx        bool
	sourceMaps bool
	mode       Mode
}

func scriptOptionsFor(cfg *Config, rule *Rule, path string) scriptOptions {
	opts := scriptOptions{
		transpile:  rule.Uses(LoaderBabel),
		target:     api.ES2015,
		jsx:        strings.EqualFold(filepath.Ext(path), ".jsx") || rule.Options["jsx"] == "true",
		sourceMaps: cfg.SourceMaps(),
		mode:       cfg.Mode,
	}

	if target, ok := scriptTargets[rule.Options["target"]]; ok {
		opts.target = target
	}
	return opts
}

// transformScript converts a script to CommonJS. Only transpiled files are lowered to the
// configured target; everything else keeps its syntax. Import specifiers found by esbuild are
// replaced with placeholders and listed in Deps.
func transformScript(src []byte, relPath string, opts scriptOptions) (*TransformOutput, error) {
	loader := api.LoaderJS
	if opts.jsx {
		loader = api.LoaderJSX
	}

	target := api.ESNext
	if opts.transpile {
		target = opts.target
	}

	sourcemap := api.SourceMapNone
	if opts.sourceMaps {
		sourcemap = api.SourceMapExternal
	}

	recorder := &importRecorder{specs: map[string]string{}}
	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   string(src),
			Sourcefile: relPath,
			Loader:     loader,
		},
		Bundle:    true,
		Write:     false,
		Outfile:   "module.js",
		Format:    api.FormatCommonJS,
		Target:    target,
		Sourcemap: sourcemap,
		LogLevel:  api.LogLevelSilent,
		Define: map[string]string{
			"process.env.NODE_ENV": strconv.Quote(string(opts.mode)),
		},
		Plugins: []api.Plugin{recorder.plugin()},
	})

	if len(result.Errors) > 0 {
		return nil, scriptError(relPath, result.Errors[0])
	}

	out := &TransformOutput{}
	for _, file := range result.OutputFiles {
		if strings.HasSuffix(file.Path, ".map") {
			out.Map = file.Contents
		} else {
			out.Code = string(file.Contents)
		}
	}
	out.Deps = recorder.deps(out.Code)
	return out, nil
}

func scriptError(relPath string, msg api.Message) error {
	err := &TransformError{File: relPath, Message: msg.Text}
	if msg.Location != nil {
		err.Line = msg.Location.Line
		err.Column = msg.Location.Column + 1
	}
	return err
}

// rewriteSpecifiers replaces the dependency placeholders in code with module IDs. Specifiers
// without an ID are restored as written.
func rewriteSpecifiers(code string, deps []string, ids map[string]string) string {
	pairs := make([]string, 0, 4*len(deps))
	for _, spec := range deps {
		target, ok := ids[spec]
		if !ok {
			target = spec
		}

		placeholder := depPlaceholder(spec)
		pairs = append(pairs, `"`+placeholder+`"`, jsString(target), "'"+placeholder+"'", jsString(target))
	}
	return strings.NewReplacer(pairs...).Replace(code)
}

// hotDepsPrologue maps the specifiers a module may pass to module.hot.accept() to module IDs
func hotDepsPrologue(ids map[string]string) string {
	if len(ids) == 0 {
		return ""
	}

	specs := sortedKeys(ids)
	entries := make([]string, len(specs))
	for idx, spec := range specs {
		entries[idx] = jsString(spec) + ": " + jsString(ids[spec])
	}
	return " module.deps = {" + strings.Join(entries, ", ") + "};"
}

func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
