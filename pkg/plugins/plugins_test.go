package plugins

import (
	"bytes"
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/jordan-wright/email"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelly/gopack/pkg/bundler"
)

const baseScript = `
def configure():
    mode("production")
    entry("index", "src/index.js")
    entry("print", "src/print.js")
`

func testContext(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.WarnLevel)
	return bundler.WithLogger(context.Background(), &logger)
}

func loadProject(t *testing.T, extra string) *bundler.Config {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"bundle.star":  baseScript + extra,
		"src/index.js": "import printMe from './print.js';\nprintMe();\n",
		"src/print.js": "export default function printMe() {\n  console.log('I get called from print.js!');\n}\n",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, ioutil.WriteFile(path, []byte(content), 0o644))
	}

	cfg, err := bundler.LoadConfig(testContext(t), filepath.Join(root, "bundle.star"), nil)
	require.NoError(t, err)
	return cfg
}

func compile(t *testing.T, cfg *bundler.Config) *bundler.Compilation {
	t.Helper()
	ctx := testContext(t)
	list, err := FromConfig(ctx, cfg)
	require.NoError(t, err)

	comp, err := bundler.NewCompiler(cfg, bundler.WithPlugins(list...)).Compile(ctx)
	require.NoError(t, err)
	return comp
}

func TestFromConfig(t *testing.T) {
	cfg := loadProject(t, `    html()
    compress()
    notify(from_email = "ci@example.com")
    exec_hook(cmds = ["echo done"])
`)

	list, err := FromConfig(testContext(t), cfg)
	require.NoError(t, err)

	names := []string{}
	for _, plugin := range list {
		names = append(names, plugin.Name())
	}
	assert.Equal(t, []string{"html", "compress", "exec_hook"}, names, "incomplete notify settings are skipped")
}

func TestHTMLPlugin(t *testing.T) {
	cfg := loadProject(t, `    html(title = "Output <Management>")
    manifest(base_path = "/app/")
`)
	comp := compile(t, cfg)

	page, ok := comp.Artifact("index.html")
	require.True(t, ok)
	text := string(page.Data)

	assert.Contains(t, text, "<title>Output &lt;Management&gt;</title>")
	runtime := strings.Index(text, comp.PublicPath(comp.Chunk("runtime").Script))
	index := strings.Index(text, comp.PublicPath(comp.Chunk("index").Script))
	printPos := strings.Index(text, comp.PublicPath(comp.Chunk("print").Script))
	assert.True(t, runtime > 0 && runtime < index && index < printPos, "scripts are listed in chunk order")
	assert.Contains(t, text, `<script defer src="/runtime.`)

	assert.Equal(t, "/index.html", comp.Manifest()["/app/index.html"])
}

func TestHTMLPluginTemplate(t *testing.T) {
	dir := t.TempDir()
	tplPath := filepath.Join(dir, "page.html")
	require.NoError(t, ioutil.WriteFile(tplPath, []byte(`<h1>{{ .Title }}</h1>{{ range .Scripts }}[{{ . }}]{{ end }}`), 0o644))

	cfg := loadProject(t, `    html(title = "Custom", template = "`+filepath.ToSlash(tplPath)+`", filename = "app.html")
`)
	comp := compile(t, cfg)

	page, ok := comp.Artifact("app.html")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(page.Data), "<h1>Custom</h1>[/runtime."))

	_, err := NewHTMLPlugin(&bundler.HTMLOptions{Filename: "x.html", Template: filepath.Join(dir, "missing.html")})
	assert.Error(t, err)
}

func TestCompressPlugin(t *testing.T) {
	cfg := loadProject(t, `    compress(min_size = 4096)
`)
	comp := compile(t, cfg)

	runtime := comp.Chunk("runtime").Script
	compressed, ok := comp.Artifact(runtime.Path + ".br")
	require.True(t, ok)
	assert.Less(t, len(compressed.Data), len(runtime.Data))

	data, err := ioutil.ReadAll(brotli.NewReader(bytes.NewReader(compressed.Data)))
	require.NoError(t, err)
	assert.Equal(t, runtime.Data, data)

	// small chunks stay uncompressed
	_, ok = comp.Artifact(comp.Chunk("print").Script.Path + ".br")
	assert.False(t, ok)
	assert.NotContains(t, comp.Manifest(), "runtime.js.br")
}

type mailbox struct {
	mails []*email.Email
	err   error
}

func (m *mailbox) send(mail *email.Email, opts *bundler.NotifyOptions) error {
	m.mails = append(m.mails, mail)
	return m.err
}

func TestNotifyPlugin(t *testing.T) {
	opts := &bundler.NotifyOptions{
		FromEmail:  "ci@example.com",
		ToEmail:    "team@example.com",
		Host:       "smtp.example.com",
		Port:       587,
		Encryption: "STARTTLS",
	}
	box := &mailbox{}
	plugin := NewNotifyPlugin(opts, "demo").WithSender(box.send)
	require.True(t, plugin.Active())

	stats := &bundler.Stats{
		BuildID: "build-1",
		Modules: 3,
		Artifacts: []*bundler.Artifact{
			{Path: "index.abc.js", Data: []byte("1234")},
		},
	}
	require.NoError(t, plugin.Done(testContext(t), stats))
	require.Len(t, box.mails, 1)

	mail := box.mails[0]
	assert.Equal(t, "[gopack] demo: build succeeded", mail.Subject)
	assert.Equal(t, []string{"team@example.com"}, mail.To)
	assert.Contains(t, string(mail.Text), "The build build-1 of demo")
	assert.Contains(t, string(mail.Text), "index.abc.js (4 bytes)")

	box.err = errors.New("connection refused")
	require.NoError(t, plugin.Done(testContext(t), &bundler.Stats{Err: errors.New("syntax error")}), "send failures don't fail the build")
	require.Len(t, box.mails, 2)
	assert.Equal(t, "[gopack] demo: build failed", box.mails[1].Subject)
	assert.Contains(t, string(box.mails[1].Text), "syntax error")

	require.NoError(t, plugin.Done(testContext(t), &bundler.Stats{DryRun: true}))
	assert.Len(t, box.mails, 2, "dry runs send nothing")
}

func TestNotifyPluginInactive(t *testing.T) {
	box := &mailbox{}
	plugin := NewNotifyPlugin(&bundler.NotifyOptions{ToEmail: "team@example.com"}, "demo").WithSender(box.send)
	assert.False(t, plugin.Active())

	require.NoError(t, plugin.Done(testContext(t), &bundler.Stats{BuildID: "x"}))
	assert.Empty(t, box.mails)
}

func TestExecHookPlugin(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "dist")
	plugin := NewExecHookPlugin(bundler.HookOptions{Cmds: []string{
		`echo "$GOPACK_BUILD_ID" > hook.txt`,
		`echo "$GOPACK_OUTPUT" >> hook.txt`,
	}}, dir, outDir)

	require.NoError(t, plugin.Done(testContext(t), &bundler.Stats{BuildID: "abc"}))
	data, err := ioutil.ReadFile(filepath.Join(dir, "hook.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abc\n"+outDir+"\n", string(data))

	require.NoError(t, os.Remove(filepath.Join(dir, "hook.txt")))
	require.NoError(t, plugin.Done(testContext(t), &bundler.Stats{BuildID: "abc", Err: errors.New("failed")}))
	require.NoError(t, plugin.Done(testContext(t), &bundler.Stats{BuildID: "abc", DryRun: true}))
	_, err = os.Stat(filepath.Join(dir, "hook.txt"))
	assert.True(t, os.IsNotExist(err), "hooks only run after real, successful builds")

	failing := NewExecHookPlugin(bundler.HookOptions{Cmds: []string{"false", "echo unreachable > after.txt"}}, dir, outDir)
	assert.Error(t, failing.Done(testContext(t), &bundler.Stats{BuildID: "abc"}))
	_, err = os.Stat(filepath.Join(dir, "after.txt"))
	assert.True(t, os.IsNotExist(err))
}
