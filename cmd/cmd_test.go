package cmd

import (
	"bytes"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	options, err := parseOptions([]string{"mode=production", "empty=", "expr=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"mode": "production", "empty": "", "expr": "a=b"}, options)

	_, err = parseOptions([]string{"=value"})
	assert.Error(t, err)
	_, err = parseOptions([]string{"novalue"})
	assert.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.5 KiB", formatSize(1536))
	assert.Equal(t, "2.0 MiB", formatSize(2<<20))
}

func TestConsoleWriter(t *testing.T) {
	var buffer bytes.Buffer
	logger := zerolog.New(NewConsoleWriter(&buffer))

	logger.Info().Str("chunk", "index").Int("size", 42).Msg("Emitted")
	assert.Contains(t, buffer.String(), "index: Emitted")
	assert.Contains(t, buffer.String(), "size=")
	assert.Contains(t, buffer.String(), "42")

	buffer.Reset()
	logger.Info().Bool("command", true).Msg("echo done")
	assert.Contains(t, buffer.String(), "$ echo done")
	assert.NotContains(t, buffer.String(), "command=")

	buffer.Reset()
	logger.Error().Err(errors.New("disk full")).Msg("Build failed")
	assert.Contains(t, buffer.String(), "Error: Build failed")
	assert.Contains(t, buffer.String(), "disk full")

	buffer.Reset()
	logger.Warn().Str("script", "//bundle.star").Int32("line", 3).Int32("col", 5).Msg("careful")
	assert.Contains(t, buffer.String(), "//bundle.star:3:5: careful")
	assert.NotContains(t, buffer.String(), "line=")

	_, err := NewConsoleWriter(&buffer).Write([]byte("not json"))
	assert.Error(t, err)
}

func TestBuildCommand(t *testing.T) {
	t.Setenv("CI", "true")
	root := t.TempDir()
	files := map[string]string{
		"bundle.star": `
MODE = option("mode", "development")

def configure():
    mode(MODE)
    entry("main", "src/main.js")
    manifest()
`,
		"src/main.js": "console.log(process.env.NODE_ENV);\n",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, ioutil.WriteFile(path, []byte(content), 0o644))
	}

	RootCmd.SetArgs([]string{"build", "--config", filepath.Join(root, "bundle.star"), "--no-cache", "mode=production"})
	require.Equal(t, 0, Execute())

	data, err := ioutil.ReadFile(filepath.Join(root, "dist", "manifest.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"main.js"`)
	assert.Contains(t, string(data), `"runtime.js"`)
}

func TestReportFailure(t *testing.T) {
	var buffer bytes.Buffer
	logger := zerolog.New(NewConsoleWriter(&buffer))

	reportFailure(&logger, errors.New("no bundle.star found"))
	assert.Contains(t, buffer.String(), "Error: gopack failed")
	assert.Contains(t, buffer.String(), "no bundle.star found")

	buffer.Reset()
	reportFailure(&logger, reportedError{errors.New("disk full")})
	assert.Empty(t, buffer.String())
}
