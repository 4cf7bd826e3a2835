package bundler

import (
	"path/filepath"
	"regexp"
	"strings"

	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
)

// Version is compared against require_version() constraints in build scripts
const Version = "0.3.0"

type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

type ModuleType string

const (
	TypeJavaScript    ModuleType = "javascript/auto"
	TypeAssetResource ModuleType = "asset/resource"
	TypeAssetInline   ModuleType = "asset/inline"
	TypeAssetSource   ModuleType = "asset/source"
	TypeJSON          ModuleType = "json"
)

// Loader names accepted by rule(use=...)
const (
	LoaderBabel   = "babel"
	LoaderCSS     = "css"
	LoaderStyle   = "style"
	LoaderExtract = "extract"
	LoaderXML     = "xml"
)

// Devtool values
const (
	DevtoolNone            = "none"
	DevtoolSourceMap       = "source-map"
	DevtoolInlineSourceMap = "inline-source-map"
)

// Entry maps a logical name to the source file that starts its dependency graph
type Entry struct {
	Name   string
	Source string
}

// Output controls where and under which names artifacts are written
type Output struct {
	Path          string
	Filename      string
	AssetFilename string
	CSSFilename   string
	PublicPath    string
	Clean         bool
	HashLength    int
}

// Rule assigns a module type and loader chain to every file it matches
type Rule struct {
	Test    *regexp.Regexp
	Include []string
	Exclude []*regexp.Regexp
	Use     []string
	Type    ModuleType
	Options map[string]string
}

// Matches reports whether the rule applies to the absolute path p
func (r *Rule) Matches(p string) bool {
	slashed := filepath.ToSlash(p)
	if r.Test != nil && !r.Test.MatchString(slashed) {
		return false
	}

	if len(r.Include) > 0 {
		found := false
		for _, dir := range r.Include {
			if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, ex := range r.Exclude {
		if ex.MatchString(slashed) {
			return false
		}
	}
	return true
}

// Uses reports whether the loader is part of the rule's chain
func (r *Rule) Uses(loader string) bool {
	for _, item := range r.Use {
		if item == loader {
			return true
		}
	}
	return false
}

// signature identifies the rule's effect on a module for cache keys
func (r *Rule) signature() string {
	var b strings.Builder
	b.WriteString(string(r.Type))
	b.WriteString("|")
	b.WriteString(strings.Join(r.Use, ","))
	for _, key := range sortedKeys(r.Options) {
		b.WriteString("|" + key + "=" + r.Options[key])
	}
	return b.String()
}

// CacheGroup moves every module matching Test into a shared chunk called Name
type CacheGroup struct {
	Name   string
	Test   *regexp.Regexp
	Chunks string
}

type Optimization struct {
	ModuleIDs    string
	RuntimeChunk string
	CacheGroups  []CacheGroup
}

type Resolve struct {
	Extensions []string
	Alias      map[string]string
}

type DevServer struct {
	Static  string
	Hot     bool
	Address string
}

type HTMLOptions struct {
	Title    string
	Filename string
	Template string
}

type ManifestOptions struct {
	Filename string
	BasePath string
}

// NotifyOptions configures the build notification mail. All fields are optional.
type NotifyOptions struct {
	FromEmail  string
	Password   string
	ToEmail    string
	Host       string
	Port       int
	Encryption string
}

// Active reports whether enough fields are set to actually send a mail
func (n *NotifyOptions) Active() bool {
	return n != nil && n.FromEmail != "" && n.ToEmail != "" && n.Host != ""
}

type CompressOptions struct {
	Test    *regexp.Regexp
	MinSize int
}

type HookOptions struct {
	Cmds []string
}

// Config contains the processed values declared by the build script's configure() function
type Config struct {
	File        string
	ProjectRoot string

	Mode         Mode
	Entries      []Entry
	Output       Output
	Devtool      string
	Resolve      Resolve
	Rules        []*Rule
	Optimization Optimization
	DevServer    DevServer
	HTML         *HTMLOptions
	Manifest     ManifestOptions
	Notify       *NotifyOptions
	Compress     *CompressOptions
	Hooks        []HookOptions

	Options map[string]ScriptOption
}

// RuleFor returns the first rule that matches p or nil
func (c *Config) RuleFor(p string) *Rule {
	for _, rule := range c.Rules {
		if rule.Matches(p) {
			return rule
		}
	}
	return nil
}

// SourceMaps reports whether modules have to carry source maps
func (c *Config) SourceMaps() bool {
	return c.Devtool == DevtoolSourceMap || c.Devtool == DevtoolInlineSourceMap
}

func defaultConfig(file, projectRoot string) *Config {
	return &Config{
		File:        file,
		ProjectRoot: projectRoot,
		Mode:        ModeDevelopment,
		Output: Output{
			Path:          filepath.Join(projectRoot, "dist"),
			Filename:      "[name].[contenthash].js",
			AssetFilename: "[contenthash][ext]",
			CSSFilename:   "[name].[contenthash].css",
			PublicPath:    "/",
			Clean:         true,
			HashLength:    20,
		},
		Devtool: DevtoolNone,
		Resolve: Resolve{
			Extensions: []string{".js", ".mjs", ".cjs", ".jsx", ".json"},
			Alias:      map[string]string{},
		},
		Optimization: Optimization{
			ModuleIDs:    "deterministic",
			RuntimeChunk: "single",
		},
		DevServer: DevServer{
			Hot:     true,
			Address: "127.0.0.1:8080",
		},
		Manifest: ManifestOptions{
			Filename: "manifest.json",
		},
		Options: map[string]ScriptOption{},
	}
}

type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

// StarlarkPath is a resolved filesystem path returned by resolve_path()
type StarlarkPath string

func (p StarlarkPath) String() string {
	return starlark.String(p).String()
}

func (p StarlarkPath) Type() string { return "path" }

func (p StarlarkPath) Freeze() {}

func (p StarlarkPath) Truth() starlark.Bool {
	return p != ""
}

func (p StarlarkPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

// CompareSameType orders paths like strings
func (p StarlarkPath) CompareSameType(op starsyntax.Token, other starlark.Value, depth int) (bool, error) {
	return starlark.String(p).CompareSameType(op, starlark.String(other.(StarlarkPath)), depth)
}
