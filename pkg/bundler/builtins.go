package bundler

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
)

type (
	builtinFunc = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)
	fileMode    = os.FileMode
)

// * Global builtins; available everywhere

func logBuiltin(level zerolog.Level) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var message string
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
			return nil, err
		}

		scriptLog(thread, level).Msg(message)
		return starlark.None, nil
	}
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}
	return nil, eris.New(message)
}

// resolve_path(*parts, base = None) joins parts like the path arguments of every other builtin.
// With base, the result is made relative to it.
func starResolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return nil, eris.Errorf("%s: expects at least one argument", fn.Name())
	}

	s := stateOf(thread)
	parts := make([]string, 0, len(args))
	for idx, arg := range args {
		part, err := pathArg(arg, "argument "+strconv.Itoa(idx))
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	result := s.abs(parts...)

	for _, kv := range kwargs {
		if name := string(kv[0].(starlark.String)); name != "base" {
			return nil, eris.Errorf("%s: unexpected keyword argument %s", fn.Name(), name)
		}

		base, err := pathArg(kv[1], "base")
		if err != nil {
			return nil, err
		}
		if result, err = filepath.Rel(s.abs(base), result); err != nil {
			return nil, err
		}
	}

	return StarlarkPath(result), nil
}

func starGetenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, fallback string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "key", &key, "default?", &fallback); err != nil {
		return nil, err
	}

	if value, ok := os.LookupEnv(key); ok {
		return starlark.String(value), nil
	}
	return starlark.String(fallback), nil
}

// option(name, default = "", help = "") declares a build option which can be overridden from the command line
func starOption(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, help string
	var fallback starlark.String
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &fallback, "help?", &help); err != nil {
		return nil, err
	}

	s := stateOf(thread)
	if s.configuring {
		return nil, eris.Errorf("%s: only available in the global scope (init phase)", fn.Name())
	}

	s.declared[name] = ScriptOption{DefaultValue: fallback, Help: help}
	if value, ok := s.overrides[name]; ok {
		return starlark.String(value), nil
	}
	return fallback, nil
}

func starRequireVersion(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var constraint string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &constraint); err != nil {
		return nil, err
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid version constraint %q", constraint)
	}
	if !c.Check(semver.MustParse(Version)) {
		return nil, eris.Errorf("this build script requires gopack %s but this is %s", constraint, Version)
	}
	return starlark.True, nil
}

// read_yaml(file, key, default = None) looks up a dotted key ("site.pages.0.title") in a YAML document.
// Documents are parsed once per script evaluation.
func starReadYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file, key string
	var fallback starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &file, &key, &fallback); err != nil {
		return nil, err
	}

	s := stateOf(thread)
	file = s.abs(file)
	doc, ok := s.yamlDocs[file]
	if !ok {
		content, err := ioutil.ReadFile(file)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to open file %s", file)
		}
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, eris.Wrapf(err, "failed to parse file %s", file)
		}
		s.yamlDocs[file] = doc
	}

	node := doc
	for _, part := range strings.Split(key, ".") {
		switch current := node.(type) {
		case map[string]interface{}:
			node = current[part]
		case map[interface{}]interface{}:
			node = current[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(current) {
				return fallback, nil
			}
			node = current[idx]
		case nil:
			return fallback, nil
		default:
			return nil, eris.Errorf("%s: can't look up %q in a %T", key, part, current)
		}
	}

	if node == nil {
		return fallback, nil
	}
	return toStarlark(node)
}

func statBuiltin(check func(fileMode) bool) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &path); err != nil {
			return nil, err
		}

		stat, err := os.Stat(stateOf(thread).abs(path))
		return starlark.Bool(err == nil && check(stat.Mode())), nil
	}
}

// * Build declarations; only valid inside configure()

func pathArg(value starlark.Value, field string) (string, error) {
	switch v := value.(type) {
	case starlark.String:
		return v.GoString(), nil
	case StarlarkPath:
		return string(v), nil
	default:
		return "", eris.Errorf("%s: got %s, want string or path", field, value.Type())
	}
}

func compilePattern(pattern, field string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid regular expression for %s", field)
	}
	return re, nil
}

func starMode(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	var mode string
	err = starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &mode)
	if err != nil {
		return nil, err
	}

	cfg.Mode = Mode(mode)
	return starlark.None, nil
}

func starEntry(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	var name string
	var source starlark.Value
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "source", &source)
	if err != nil {
		return nil, err
	}

	sourcePath, err := pathArg(source, "source")
	if err != nil {
		return nil, err
	}

	cfg.Entries = append(cfg.Entries, Entry{
		Name:   name,
		Source: stateOf(thread).abs(sourcePath),
	})
	return starlark.None, nil
}

func starOutput(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	var path starlark.Value
	out := &cfg.Output
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "path?", &path, "filename?", &out.Filename,
		"asset_filename?", &out.AssetFilename, "css_filename?", &out.CSSFilename, "public_path?", &out.PublicPath,
		"clean?", &out.Clean, "hash_length?", &out.HashLength)
	if err != nil {
		return nil, err
	}

	if path != nil {
		p, err := pathArg(path, "path")
		if err != nil {
			return nil, err
		}
		out.Path = stateOf(thread).abs(p)
	}

	return starlark.None, nil
}

func starDevtool(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	err = starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &cfg.Devtool)
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func starResolve(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	var extensions starlark.Value
	var alias *starlark.Dict
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "extensions?", &extensions, "alias?", &alias)
	if err != nil {
		return nil, err
	}

	if extensions != nil {
		cfg.Resolve.Extensions, err = stringList(extensions, "extensions")
		if err != nil {
			return nil, err
		}
	}

	aliases, err := stringDict(alias, "alias")
	if err != nil {
		return nil, err
	}
	for name, target := range aliases {
		cfg.Resolve.Alias[name] = stateOf(thread).abs(target)
	}

	return starlark.None, nil
}

func starRule(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	var test string
	var include, exclude, use starlark.Value
	var moduleType string
	var options *starlark.Dict

	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "test", &test, "include?", &include, "exclude?", &exclude,
		"use?", &use, "type?", &moduleType, "options?", &options)
	if err != nil {
		return nil, err
	}

	rule := &Rule{Type: ModuleType(moduleType)}
	if rule.Type == "" {
		rule.Type = TypeJavaScript
	}

	rule.Test, err = compilePattern(test, "test")
	if err != nil {
		return nil, err
	}

	includes, err := stringList(include, "include")
	if err != nil {
		return nil, err
	}
	for _, item := range includes {
		rule.Include = append(rule.Include, stateOf(thread).abs(item))
	}

	excludes, err := stringList(exclude, "exclude")
	if err != nil {
		return nil, err
	}
	for _, item := range excludes {
		re, err := compilePattern(item, "exclude")
		if err != nil {
			return nil, err
		}
		rule.Exclude = append(rule.Exclude, re)
	}

	rule.Use, err = stringList(use, "use")
	if err != nil {
		return nil, err
	}

	rule.Options, err = stringDict(options, "options")
	if err != nil {
		return nil, err
	}

	cfg.Rules = append(cfg.Rules, rule)
	return starlark.None, nil
}

func starOptimization(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	opt := &cfg.Optimization
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "module_ids?", &opt.ModuleIDs, "runtime_chunk?", &opt.RuntimeChunk)
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func starCacheGroup(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	var test string
	group := CacheGroup{Chunks: "all"}
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &group.Name, "test", &test, "chunks?", &group.Chunks)
	if err != nil {
		return nil, err
	}

	group.Test, err = compilePattern(test, "test")
	if err != nil {
		return nil, err
	}

	cfg.Optimization.CacheGroups = append(cfg.Optimization.CacheGroups, group)
	return starlark.None, nil
}

func starDevServer(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	var static starlark.Value
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "static?", &static, "hot?", &cfg.DevServer.Hot,
		"address?", &cfg.DevServer.Address)
	if err != nil {
		return nil, err
	}

	if static != nil {
		p, err := pathArg(static, "static")
		if err != nil {
			return nil, err
		}
		cfg.DevServer.Static = stateOf(thread).abs(p)
	}
	return starlark.None, nil
}

func starHTML(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	opts := &HTMLOptions{Filename: "index.html"}
	var template starlark.Value
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "title?", &opts.Title, "filename?", &opts.Filename,
		"template?", &template)
	if err != nil {
		return nil, err
	}

	if template != nil {
		p, err := pathArg(template, "template")
		if err != nil {
			return nil, err
		}
		opts.Template = stateOf(thread).abs(p)
	}

	cfg.HTML = opts
	return starlark.None, nil
}

func starManifest(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "filename?", &cfg.Manifest.Filename,
		"base_path?", &cfg.Manifest.BasePath)
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func starNotify(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	opts := &NotifyOptions{Port: 587, Encryption: "STARTTLS"}
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "from_email?", &opts.FromEmail, "password?", &opts.Password,
		"to_email?", &opts.ToEmail, "host?", &opts.Host, "port?", &opts.Port, "encryption?", &opts.Encryption)
	if err != nil {
		return nil, err
	}

	cfg.Notify = opts
	return starlark.None, nil
}

func starCompress(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	test := `\.(js|css|html|svg)$`
	opts := &CompressOptions{MinSize: 1024}
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "test?", &test, "min_size?", &opts.MinSize)
	if err != nil {
		return nil, err
	}

	opts.Test, err = compilePattern(test, "test")
	if err != nil {
		return nil, err
	}

	cfg.Compress = opts
	return starlark.None, nil
}

func starExecHook(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cfg, err := configPhase(thread, fn)
	if err != nil {
		return nil, err
	}

	var cmds starlark.Value
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "cmds", &cmds)
	if err != nil {
		return nil, err
	}

	list, err := stringList(cmds, "cmds")
	if err != nil {
		return nil, err
	}

	if len(list) == 0 {
		scriptLog(thread, zerolog.WarnLevel).Msgf("%s: no commands given", fn.Name())
		return starlark.None, nil
	}

	cfg.Hooks = append(cfg.Hooks, HookOptions{Cmds: list})
	return starlark.None, nil
}
