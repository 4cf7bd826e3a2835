package bundler

import (
	"path/filepath"
	"strconv"
	"strings"
)

// transformFormat changes whenever cached TransformOutputs stop being compatible
const transformFormat = "2"

type moduleKind int

const (
	kindScript moduleKind = iota
	kindJSON
	kindXML
	kindAsset
	kindStyle
	kindStyleContent
	kindStyleExtract
	kindStyleText
)

func (k moduleKind) isStylesheet() bool {
	return k == kindStyleContent || k == kindStyleExtract || k == kindStyleText
}

var (
	defaultScriptRule = &Rule{Type: TypeJavaScript}
	defaultJSONRule   = &Rule{Type: TypeJSON}
	scriptExtensions  = map[string]bool{".js": true, ".mjs": true, ".cjs": true, ".jsx": true}
)

// TransformOutput is the cacheable result of running a file through its transform chain.
// Dependencies are resolved and rewritten per build: scripts carry placeholders for them,
// stylesheets numbered url() placeholders.
type TransformOutput struct {
	Code    string
	Map     []byte
	Deps    []string
	CSS     string
	Imports []string
}

// TransformCache stores transform outputs keyed by everything that influences them
type TransformCache interface {
	Get(key string) (*TransformOutput, bool)
	Put(key string, out *TransformOutput)
}

// classify picks the rule and module kind for a file
func (c *Compiler) classify(path string) (*Rule, moduleKind, error) {
	rule := c.cfg.RuleFor(path)
	if rule == nil {
		ext := strings.ToLower(filepath.Ext(path))
		switch {
		case scriptExtensions[ext]:
			rule = defaultScriptRule
		case ext == ".json":
			rule = defaultJSONRule
		default:
			return nil, 0, transformErr(c.relPath(path), "no rule matches this file; you may need a rule() for %s files", ext)
		}
	}

	switch rule.Type {
	case TypeAssetResource, TypeAssetInline, TypeAssetSource:
		return rule, kindAsset, nil
	case TypeJSON:
		return rule, kindJSON, nil
	}

	switch {
	case rule.Uses(LoaderStyle):
		return rule, kindStyle, nil
	case rule.Uses(LoaderExtract):
		return rule, kindStyleExtract, nil
	case rule.Uses(LoaderCSS):
		return rule, kindStyleText, nil
	case rule.Uses(LoaderXML):
		return rule, kindXML, nil
	default:
		return rule, kindScript, nil
	}
}

func (c *Compiler) cacheKey(kind moduleKind, rule *Rule, relPath string, src []byte) string {
	return hashStrings(Version, transformFormat, strconv.Itoa(int(kind)), rule.signature(), string(c.cfg.Mode),
		strconv.FormatBool(c.cfg.SourceMaps()), relPath, contentHash(src))
}

// transform runs the transform chain for script and stylesheet modules, consulting the cache first
func (c *Compiler) transform(kind moduleKind, rule *Rule, path string, src []byte) (*TransformOutput, error) {
	relPath := c.relPath(path)
	key := c.cacheKey(kind, rule, relPath, src)
	if c.cache != nil {
		if out, ok := c.cache.Get(key); ok {
			return out, nil
		}
	}

	var out *TransformOutput
	var err error
	switch kind {
	case kindScript:
		out, err = transformScript(src, relPath, scriptOptionsFor(c.cfg, rule, path))
	case kindStyleContent, kindStyleExtract, kindStyleText:
		out, err = transformStylesheet(src, relPath)
	case kindJSON:
		out, err = transformJSON(src, relPath)
	case kindXML:
		out, err = transformXML(src, relPath)
	default:
		return &TransformOutput{}, nil
	}
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Put(key, out)
	}
	return out, nil
}
