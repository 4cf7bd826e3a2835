package bundler

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	knownLoaders = map[string]bool{
		LoaderBabel:   true,
		LoaderCSS:     true,
		LoaderStyle:   true,
		LoaderExtract: true,
		LoaderXML:     true,
	}
	knownTypes = map[ModuleType]bool{
		TypeJavaScript:    true,
		TypeAssetResource: true,
		TypeAssetInline:   true,
		TypeAssetSource:   true,
		TypeJSON:          true,
	}
	knownDevtools = map[string]bool{
		"":                     true,
		DevtoolNone:            true,
		DevtoolSourceMap:       true,
		DevtoolInlineSourceMap: true,
	}
)

// Validate checks the declared build for malformed or contradictory values and fills in derived
// defaults. It never touches any source file.
func (c *Config) Validate(ctx context.Context) error {
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return eris.Errorf("invalid mode %q (must be development or production)", c.Mode)
	}

	if len(c.Entries) == 0 {
		return eris.New("no entry declared")
	}

	names := map[string]bool{}
	for _, entry := range c.Entries {
		if entry.Name == "" {
			return eris.Errorf("entry %s has an empty name", entry.Source)
		}
		if names[entry.Name] {
			return eris.Errorf("entry %q declared twice", entry.Name)
		}
		names[entry.Name] = true
	}

	if !knownDevtools[c.Devtool] {
		return eris.Errorf("unsupported devtool %q (must be none, source-map or inline-source-map)", c.Devtool)
	}
	if c.Devtool == "" {
		c.Devtool = DevtoolNone
	}

	if err := c.validateOutput(); err != nil {
		return err
	}

	for idx, rule := range c.Rules {
		if err := validateRule(rule); err != nil {
			return eris.Wrapf(err, "rule #%d (%s)", idx, rule.Test)
		}
	}

	for idx, ext := range c.Resolve.Extensions {
		if !strings.HasPrefix(ext, ".") {
			c.Resolve.Extensions[idx] = "." + ext
		}
	}

	switch c.Optimization.ModuleIDs {
	case "named", "deterministic":
	default:
		return eris.Errorf("invalid module_ids %q (must be named or deterministic)", c.Optimization.ModuleIDs)
	}

	switch c.Optimization.RuntimeChunk {
	case "single", "inline":
	default:
		return eris.Errorf("invalid runtime_chunk %q (must be single or inline)", c.Optimization.RuntimeChunk)
	}

	for _, group := range c.Optimization.CacheGroups {
		if group.Name == "" {
			return eris.New("cache group without a name")
		}
		if names[group.Name] || (group.Name == "runtime" && c.Optimization.RuntimeChunk == "single") {
			return eris.Errorf("cache group %q collides with another chunk name", group.Name)
		}
		names[group.Name] = true

		switch group.Chunks {
		case "all", "initial":
		default:
			return eris.Errorf("cache group %q: invalid chunks value %q (must be all or initial)", group.Name, group.Chunks)
		}
	}

	if c.Optimization.RuntimeChunk == "single" {
		if names["runtime"] {
			return eris.New(`the chunk name "runtime" is reserved while runtime_chunk is "single"`)
		}
		names["runtime"] = true
	}

	if len(names) > 1 && !strings.Contains(c.Output.Filename, "[name]") && !strings.Contains(c.Output.Filename, "[id]") {
		return eris.Errorf("output filename %q would map %d chunks to the same file; add [name]", c.Output.Filename, len(names))
	}

	if c.DevServer.Address == "" {
		return eris.New("dev_server address must not be empty")
	}
	if c.DevServer.Static == "" {
		c.DevServer.Static = c.Output.Path
	}

	if c.HTML != nil && c.HTML.Filename == "" {
		return eris.New("html filename must not be empty")
	}

	if c.Manifest.Filename == "" {
		return eris.New("manifest filename must not be empty")
	}

	if c.Notify != nil {
		switch c.Notify.Encryption {
		case "STARTTLS", "SSL", "None":
		default:
			return eris.Errorf("invalid notify encryption %q (must be one of STARTTLS, SSL or None)", c.Notify.Encryption)
		}

		if !c.Notify.Active() && (c.Notify.FromEmail != "" || c.Notify.ToEmail != "" || c.Notify.Host != "") {
			log(ctx).Warn().Msg("notify() needs from_email, to_email and host; build notifications stay disabled")
		}
	}

	if c.Compress != nil && c.Compress.MinSize < 0 {
		return eris.New("compress min_size must not be negative")
	}

	return nil
}

func (c *Config) validateOutput() error {
	out := &c.Output
	if out.Path == "" {
		return eris.New("output path must not be empty")
	}

	root := filepath.Clean(c.ProjectRoot)
	outPath := filepath.Clean(out.Path)
	if outPath == root || strings.HasPrefix(root, outPath+string(filepath.Separator)) || outPath == filepath.Dir(outPath) {
		return eris.Errorf("output path %s would contain the project; refusing to clean it", out.Path)
	}

	if out.Filename == "" || out.AssetFilename == "" || out.CSSFilename == "" {
		return eris.New("output filenames must not be empty")
	}

	if out.HashLength < 4 || out.HashLength > 64 {
		return eris.Errorf("hash_length must be between 4 and 64, got %d", out.HashLength)
	}

	if out.PublicPath != "" && !strings.HasSuffix(out.PublicPath, "/") {
		out.PublicPath += "/"
	}

	for _, tpl := range []string{out.Filename, out.AssetFilename, out.CSSFilename} {
		if err := checkTemplate(tpl); err != nil {
			return err
		}
	}
	return nil
}

func validateRule(rule *Rule) error {
	if !knownTypes[rule.Type] {
		return eris.Errorf("unknown module type %q", rule.Type)
	}

	for _, loader := range rule.Use {
		if !knownLoaders[loader] {
			return eris.Errorf("unknown loader %q", loader)
		}
	}

	if rule.Type != TypeJavaScript && len(rule.Use) > 0 {
		return eris.Errorf("type %s doesn't accept loaders", rule.Type)
	}

	if rule.Uses(LoaderStyle) && rule.Uses(LoaderExtract) {
		return eris.New("style and extract loaders are mutually exclusive")
	}

	if (rule.Uses(LoaderStyle) || rule.Uses(LoaderExtract)) && !rule.Uses(LoaderCSS) {
		return eris.New("style and extract need the css loader")
	}

	if rule.Uses(LoaderCSS) && (rule.Uses(LoaderBabel) || rule.Uses(LoaderXML)) {
		return eris.New("the css loader can't be combined with script loaders")
	}

	if rule.Uses(LoaderBabel) && rule.Uses(LoaderXML) {
		return eris.New("the xml loader can't be combined with babel")
	}

	if target, ok := rule.Options["target"]; ok {
		if _, known := scriptTargets[target]; !known {
			return eris.Errorf("unknown script target %q", target)
		}
	}

	if insert, ok := rule.Options["insert"]; ok && strings.TrimSpace(insert) == "" {
		return eris.New("style insert target must not be empty")
	}

	return nil
}
