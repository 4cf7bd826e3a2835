package bundler

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

const stateKey = "gopack.script"

// scriptState is attached to the starlark thread evaluating a build script
type scriptState struct {
	ctx         context.Context
	script      string
	root        string
	declared    map[string]ScriptOption
	overrides   map[string]string
	yamlDocs    map[string]interface{}
	config      *Config
	configuring bool
}

func stateOf(thread *starlark.Thread) *scriptState {
	return thread.Local(stateKey).(*scriptState)
}

// abs resolves script paths: "//x" is relative to the project root, "/x" is absolute and anything
// else is relative to the script's directory. Each element is resolved against the previous one.
func (s *scriptState) abs(parts ...string) string {
	result := filepath.Dir(s.script)
	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, "//"):
			result = filepath.Join(s.root, part[2:])
		case strings.HasPrefix(part, "/"):
			result = filepath.Join(filepath.VolumeName(result), part)
		case filepath.IsAbs(part):
			result = part
		default:
			result = filepath.Join(result, part)
		}
	}
	return filepath.Clean(result)
}

// display shortens paths inside the project root to the "//" form
func (s *scriptState) display(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return "//" + filepath.ToSlash(rel)
}

// scriptLog starts a log event prefixed with the calling script position
func scriptLog(thread *starlark.Thread, level zerolog.Level) *zerolog.Event {
	s := stateOf(thread)
	pos := thread.CallFrame(1).Pos
	return log(s.ctx).WithLevel(level).Str("script", s.display(s.script)).Int32("line", pos.Line).Int32("col", pos.Col)
}

// configPhase returns the config being declared or an error if called from the global scope
func configPhase(thread *starlark.Thread, fn *starlark.Builtin) (*Config, error) {
	s := stateOf(thread)
	if !s.configuring {
		return nil, eris.Errorf("%s: can only be called inside configure()", fn.Name())
	}
	return s.config, nil
}

func scriptGlobals() starlark.StringDict {
	globals := starlark.StringDict{
		"OS":      starlark.String(runtime.GOOS),
		"ARCH":    starlark.String(runtime.GOARCH),
		"VERSION": starlark.String(Version),
	}
	for name, fn := range map[string]builtinFunc{
		"info":            logBuiltin(zerolog.InfoLevel),
		"warn":            logBuiltin(zerolog.WarnLevel),
		"error":           starError,
		"resolve_path":    starResolvePath,
		"option":          starOption,
		"require_version": starRequireVersion,
		"getenv":          starGetenv,
		"read_yaml":       starReadYaml,
		"isdir":           statBuiltin(func(mode fileMode) bool { return mode.IsDir() }),
		"isfile":          statBuiltin(func(mode fileMode) bool { return mode.IsRegular() }),

		"mode":         starMode,
		"entry":        starEntry,
		"output":       starOutput,
		"devtool":      starDevtool,
		"resolve":      starResolve,
		"rule":         starRule,
		"optimization": starOptimization,
		"cache_group":  starCacheGroup,
		"dev_server":   starDevServer,
		"html":         starHTML,
		"manifest":     starManifest,
		"notify":       starNotify,
		"compress":     starCompress,
		"exec_hook":    starExecHook,
	} {
		globals[name] = starlark.NewBuiltin(name, fn)
	}
	return globals
}

// LoadConfig executes a build script and returns the build it declares. options override the defaults
// of option() declarations. The project root is the directory containing the script.
//
// Every failure is reported as a *ConfigurationError.
func LoadConfig(ctx context.Context, filename string, options map[string]string) (*Config, error) {
	filename, err := filepath.Abs(filename)
	if err != nil {
		return nil, configErr(filename, err)
	}

	return LoadConfigWithRoot(ctx, filename, filepath.Dir(filename), options)
}

// LoadConfigWithRoot is LoadConfig with an explicit project root used to resolve "//" paths
func LoadConfigWithRoot(ctx context.Context, filename, projectRoot string, options map[string]string) (*Config, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, configErr(filename, err)
	}
	if filename, err = filepath.Abs(filename); err != nil {
		return nil, configErr(filename, err)
	}
	if options == nil {
		options = map[string]string{}
	}

	state := &scriptState{
		ctx:       ctx,
		script:    filename,
		root:      root,
		declared:  map[string]ScriptOption{},
		overrides: options,
		yamlDocs:  map[string]interface{}{},
		config:    defaultConfig(filename, root),
	}
	if err := state.run(); err != nil {
		return nil, configErr(filename, err)
	}

	cfg := state.config
	cfg.Options = state.declared
	if err := cfg.Validate(ctx); err != nil {
		return nil, configErr(filename, err)
	}
	return cfg, nil
}

// run evaluates the script's global scope and then calls its configure() function
func (s *scriptState) run() error {
	source, err := ioutil.ReadFile(s.script)
	if err != nil {
		return eris.Wrap(err, "failed to read file")
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			scriptLog(thread, zerolog.InfoLevel).Msg(msg)
		},
	}
	thread.SetLocal(stateKey, s)

	name := s.display(s.script)
	globals, err := starlark.ExecFile(thread, name, source, scriptGlobals())
	if err != nil {
		return scriptFailure(err, "failed to execute "+name)
	}

	configure, ok := globals["configure"].(starlark.Callable)
	if !ok {
		if _, declared := globals["configure"]; declared {
			return eris.Errorf("%s did declare a configure value but it's not a function", name)
		}
		return eris.Errorf("%s did not declare a configure function", name)
	}

	s.configuring = true
	_, err = starlark.Call(thread, configure, nil, nil)
	if err != nil {
		return scriptFailure(err, "failed configure call in "+name)
	}
	return nil
}

func scriptFailure(err error, msg string) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return eris.Errorf("%s:\n%s", msg, evalErr.Backtrace())
	}
	return eris.Wrap(err, msg)
}
