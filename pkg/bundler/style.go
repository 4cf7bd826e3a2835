package bundler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"github.com/gorilla/css/scanner"
)

const urlPlaceholder = "__GOPACK_URL_%d__"

var (
	placeholderUseRe = regexp.MustCompile(`__GOPACK_URL_(\d+)__`)
	cssPositionRe    = regexp.MustCompile(`(?i)line:?\s*(\d+)(?:,?\s*col(?:umn)?:?\s*(\d+))?`)
)

// isLocalURL reports whether a stylesheet reference points at a file the bundler has to resolve
func isLocalURL(ref string) bool {
	if ref == "" {
		return false
	}

	lower := strings.ToLower(ref)
	for _, prefix := range []string{"data:", "http:", "https:", "//", "#", "/", "about:"} {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return true
}

// splitURLSuffix separates "font.woff2?v=1#iefix" into the file part and its query or fragment
func splitURLSuffix(ref string) (string, string) {
	if idx := strings.IndexAny(ref, "?#"); idx > -1 {
		return ref[:idx], ref[idx:]
	}
	return ref, ""
}

// uriTarget returns the reference inside a url() token
func uriTarget(token string) string {
	inner := strings.TrimSpace(token[len("url(") : len(token)-1])
	return unquoteCSS(inner)
}

func unquoteCSS(value string) string {
	if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
		return value[1 : len(value)-1]
	}
	return value
}

// importTarget returns the reference of an @import prelude: its first string or url() token
func importTarget(prelude string) string {
	scan := scanner.New(prelude)
	for {
		token := scan.Next()
		switch token.Type {
		case scanner.TokenS, scanner.TokenComment:
			continue
		case scanner.TokenString:
			return unquoteCSS(token.Value)
		case scanner.TokenURI:
			return uriTarget(token.Value)
		default:
			return ""
		}
	}
}

// transformStylesheet parses a stylesheet, pulls out local @imports and replaces local url()
// references with numbered placeholders. Deps[n] is the specifier behind placeholder n.
func transformStylesheet(src []byte, relPath string) (*TransformOutput, error) {
	sheet, err := parser.Parse(string(src))
	if err != nil {
		return nil, stylesheetError(relPath, err)
	}

	out := &TransformOutput{Deps: []string{}, Imports: []string{}}
	indices := map[string]int{}
	rules := make([]*css.Rule, 0, len(sheet.Rules))

	for _, rule := range sheet.Rules {
		if rule.Kind == css.AtRule && strings.EqualFold(rule.Name, "@import") {
			if target := importTarget(rule.Prelude); isLocalURL(target) {
				spec, _ := splitURLSuffix(target)
				out.Imports = append(out.Imports, spec)
				continue
			}
		}

		replaceURLs(rule, out, indices)
		rules = append(rules, rule)
	}

	sheet.Rules = rules
	out.CSS = sheet.String()
	return out, nil
}

func replaceURLs(rule *css.Rule, out *TransformOutput, indices map[string]int) {
	for _, decl := range rule.Declarations {
		decl.Value = replaceValueURLs(decl.Value, out, indices)
	}
	for _, child := range rule.Rules {
		replaceURLs(child, out, indices)
	}
}

// replaceValueURLs swaps local url() tokens of a declaration value for placeholders. Strings and
// comments are left alone; values the scanner rejects are kept as written.
func replaceValueURLs(value string, out *TransformOutput, indices map[string]int) string {
	var b strings.Builder
	scan := scanner.New(value)
	for {
		token := scan.Next()
		switch token.Type {
		case scanner.TokenEOF:
			return b.String()
		case scanner.TokenError:
			return value
		case scanner.TokenURI:
			target := uriTarget(token.Value)
			if !isLocalURL(target) {
				break
			}

			spec, suffix := splitURLSuffix(target)
			idx, ok := indices[spec]
			if !ok {
				idx = len(out.Deps)
				indices[spec] = idx
				out.Deps = append(out.Deps, spec)
			}
			fmt.Fprintf(&b, "url(\""+urlPlaceholder+"%s\")", idx, suffix)
			continue
		}
		b.WriteString(token.Value)
	}
}

// substituteURLs swaps placeholders for final public paths
func substituteURLs(text string, urls []string) string {
	return placeholderUseRe.ReplaceAllStringFunc(text, func(placeholder string) string {
		idx, err := strconv.Atoi(placeholderUseRe.FindStringSubmatch(placeholder)[1])
		if err != nil || idx >= len(urls) {
			return placeholder
		}
		return urls[idx]
	})
}

func stylesheetError(relPath string, err error) error {
	result := &TransformError{File: relPath, Message: err.Error()}
	if result.Message == "" {
		result.Message = "invalid stylesheet"
	}

	if match := cssPositionRe.FindStringSubmatch(result.Message); match != nil {
		result.Line, _ = strconv.Atoi(match[1])
		if match[2] != "" {
			result.Column, _ = strconv.Atoi(match[2])
		}
	}
	return result
}

const styleInjector = `var css = require(%s);
var style = document.createElement("style");
style.setAttribute("data-gopack", %s);
style.appendChild(document.createTextNode(css));
var target = document.querySelector(%s);
if (!target) {
  throw new Error("Couldn't find a style target. This probably means that the value for the 'insert' option is invalid.");
}
target.appendChild(style);
if (module.hot) {
  module.hot.accept();
  module.hot.dispose(function () {
    if (style.parentNode) {
      style.parentNode.removeChild(style);
    }
  });
}
`

// styleInjectorCode returns the factory body that inserts the content module's CSS into the page
func styleInjectorCode(contentID, moduleID, insert string) string {
	if insert == "" {
		insert = "head"
	}
	return fmt.Sprintf(styleInjector, jsString(contentID), jsString(moduleID), jsString(insert))
}

func cssTextCode(text string) string {
	return "module.exports = " + jsString(text) + ";\n"
}
