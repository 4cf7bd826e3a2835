package bundler

import (
	"encoding/base64"
	"mime"
	"path/filepath"
	"strings"
)

func mimeType(path string) string {
	result := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if result == "" {
		return "application/octet-stream"
	}
	return result
}

func dataURL(path string, data []byte) string {
	return "data:" + mimeType(path) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// assetCode returns the factory body for an asset module; publicURL is only used for resources
func assetCode(typ ModuleType, path string, data []byte, publicURL string) string {
	switch typ {
	case TypeAssetInline:
		return "module.exports = " + jsString(dataURL(path, data)) + ";\n"
	case TypeAssetSource:
		return "module.exports = " + jsString(string(data)) + ";\n"
	default:
		return "module.exports = " + jsString(publicURL) + ";\n"
	}
}

// assetURL returns what a stylesheet reference to the asset module is replaced with
func (m *Module) assetURL(publicPath string) string {
	if m.Asset == nil {
		return dataURL(m.Path, m.source)
	}
	return publicPath + m.Asset.Path
}
