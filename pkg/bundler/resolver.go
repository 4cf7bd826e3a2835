package bundler

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

type packageJSON struct {
	Name    string          `json:"name"`
	Main    string          `json:"main"`
	Module  string          `json:"module"`
	Browser json.RawMessage `json:"browser"`
}

// entryPoint returns the file a bare import of the package should load
func (p *packageJSON) entryPoint() string {
	if len(p.Browser) > 0 {
		var browser string
		if err := json.Unmarshal(p.Browser, &browser); err == nil && browser != "" {
			return browser
		}
	}

	if p.Module != "" {
		return p.Module
	}
	return p.Main
}

type resolver struct {
	extensions []string
	alias      map[string]string
	packages   map[string]*packageJSON
}

func newResolver(cfg *Config) *resolver {
	return &resolver{
		extensions: cfg.Resolve.Extensions,
		alias:      cfg.Resolve.Alias,
		packages:   map[string]*packageJSON{},
	}
}

// resolve maps an import specifier found in a file inside fromDir to an absolute file path
func (r *resolver) resolve(specifier, fromDir string) (string, error) {
	if specifier == "" {
		return "", eris.New("empty import specifier")
	}

	// the longest matching alias wins
	matched := ""
	for name := range r.alias {
		if (specifier == name || strings.HasPrefix(specifier, name+"/")) && len(name) > len(matched) {
			matched = name
		}
	}
	if matched != "" {
		target := r.alias[matched]
		rest := strings.TrimPrefix(specifier, matched)
		if result, ok := r.resolveFile(target + filepath.FromSlash(rest)); ok {
			return result, nil
		}
		return "", eris.Errorf("can't resolve '%s' (alias %s -> %s)", specifier, matched, target)
	}

	// use relative path
	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") || specifier == "." || specifier == ".." {
		path := filepath.Join(fromDir, filepath.FromSlash(specifier))
		if result, ok := r.resolveFile(path); ok {
			return result, nil
		}
		return "", eris.Errorf("can't resolve '%s' in %s", specifier, fromDir)
	}

	if filepath.IsAbs(specifier) {
		if result, ok := r.resolveFile(specifier); ok {
			return result, nil
		}
		return "", eris.Errorf("can't resolve '%s'", specifier)
	}

	return r.resolvePackage(specifier, fromDir)
}

func (r *resolver) resolvePackage(specifier, fromDir string) (string, error) {
	pkgName, subPath := splitPackageSpecifier(specifier)

	// look in node_modules of every parent directory
	searchPath := fromDir
	for {
		pkgDir := filepath.Join(searchPath, "node_modules", filepath.FromSlash(pkgName))
		info, err := os.Stat(pkgDir)
		if err == nil && info.IsDir() {
			if subPath != "" {
				if result, ok := r.resolveFile(filepath.Join(pkgDir, filepath.FromSlash(subPath))); ok {
					return result, nil
				}
			} else if result, ok := r.resolveDir(pkgDir); ok {
				return result, nil
			}
			return "", eris.Errorf("can't resolve '%s' in package %s", specifier, pkgDir)
		}

		parent := filepath.Dir(searchPath)
		if parent == searchPath {
			break
		}
		searchPath = parent
	}

	return "", eris.Errorf("can't resolve '%s': no node_modules package %s found", specifier, pkgName)
}

func splitPackageSpecifier(specifier string) (string, string) {
	parts := strings.Split(specifier, "/")
	nameParts := 1
	if strings.HasPrefix(specifier, "@") && len(parts) > 1 {
		nameParts = 2
	}

	if len(parts) <= nameParts {
		return specifier, ""
	}
	return strings.Join(parts[:nameParts], "/"), strings.Join(parts[nameParts:], "/")
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (r *resolver) resolveFile(path string) (string, bool) {
	if isFile(path) {
		return path, true
	}

	for _, ext := range r.extensions {
		if isFile(path + ext) {
			return path + ext, true
		}
	}

	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		return r.resolveDir(path)
	}
	return "", false
}

func (r *resolver) resolveDir(dir string) (string, bool) {
	pkg, err := r.readPackage(dir)
	if err == nil && pkg != nil {
		if main := pkg.entryPoint(); main != "" {
			mainPath := filepath.Join(dir, filepath.FromSlash(main))
			if isFile(mainPath) {
				return mainPath, true
			}
			for _, ext := range r.extensions {
				if isFile(mainPath + ext) {
					return mainPath + ext, true
				}
			}
			if result, ok := r.resolveIndex(mainPath); ok {
				return result, true
			}
		}
	}

	return r.resolveIndex(dir)
}

func (r *resolver) resolveIndex(dir string) (string, bool) {
	for _, ext := range r.extensions {
		candidate := filepath.Join(dir, "index"+ext)
		if isFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (r *resolver) readPackage(dir string) (*packageJSON, error) {
	if pkg, ok := r.packages[dir]; ok {
		return pkg, nil
	}

	data, err := ioutil.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		if os.IsNotExist(err) {
			r.packages[dir] = nil
			return nil, nil
		}
		return nil, err
	}

	pkg := new(packageJSON)
	if err := json.Unmarshal(data, pkg); err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", filepath.Join(dir, "package.json"))
	}

	r.packages[dir] = pkg
	return pkg, nil
}
