package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelly/gopack/pkg/bundler"
)

const serverScript = `
def configure():
    entry("index", "src/index.js")
    html(title = "Dev")
`

func testContext(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.WarnLevel)
	return bundler.WithLogger(context.Background(), &logger)
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0o644))
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "bundle.star", serverScript)
	writeFile(t, root, "src/index.js", "import { greet } from './greet.js';\ngreet();\nif (module.hot) { module.hot.accept('./greet.js', greet); }\n")
	writeFile(t, root, "src/greet.js", "export function greet() { console.log('hello'); }\n")

	s, err := New(testContext(t), Options{
		ConfigFile:  filepath.Join(root, "bundle.star"),
		ProjectRoot: root,
	})
	require.NoError(t, err)
	return s, root
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServeBuild(t *testing.T) {
	s, _ := newTestServer(t)
	require.NoError(t, s.Rebuild(testContext(t), false))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Contains(t, body, "<title>Dev</title>")

	comp, err := s.Current()
	require.NoError(t, err)
	script := comp.Chunk("index").Script
	resp, body = get(t, srv.URL+comp.PublicPath(script))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(script.Data), body)

	resp, body = get(t, srv.URL+"/manifest.json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"index.js"`)

	resp, _ = get(t, srv.URL+"/missing.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = get(t, srv.URL+"/__gopack/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var st status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, comp.BuildID, st.BuildID)
	assert.Empty(t, st.Error)
	assert.Equal(t, comp.PublicPath(script), st.Artifacts["index.js"])

	// nothing is written unless asked for
	_, err = os.Stat(s.Config().Output.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestHotClient(t *testing.T) {
	s, root := newTestServer(t)
	ctx := testContext(t)
	require.NoError(t, s.Rebuild(ctx, false))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + bundler.HotSocketPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	comp, _ := s.Current()
	hello := readMessage(t, conn)
	assert.Equal(t, Message{Type: "hash", Hash: comp.BuildID}, hello)

	// unchanged sources
	require.NoError(t, s.Rebuild(ctx, false))
	assert.Equal(t, "ok", readMessage(t, conn).Type)

	writeFile(t, root, "src/greet.js", "export function greet() { console.log('hello again'); }\n")
	require.NoError(t, s.Rebuild(ctx, false))

	update := readMessage(t, conn)
	assert.Equal(t, "update", update.Type)
	require.Len(t, update.Modules, 1)
	assert.Equal(t, bundler.HotUpdatePrefix+update.Hash+".js", update.URL)

	resp, body := get(t, srv.URL+update.URL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(body, `self["__gopack_hot_update__"]`))
	assert.Contains(t, body, "hello again")

	resp, _ = get(t, srv.URL+bundler.HotUpdatePrefix+"unknown.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// a broken module is reported but the last good build stays available
	writeFile(t, root, "src/greet.js", "export function greet( {\n")
	assert.Error(t, s.Rebuild(ctx, false))
	failure := readMessage(t, conn)
	assert.Equal(t, "error", failure.Type)
	assert.Contains(t, failure.Message, "greet.js")

	current, err := s.Current()
	assert.Error(t, err)
	assert.NotNil(t, current)

	// a changed build script reloads every client
	writeFile(t, root, "src/greet.js", "export function greet() {}\n")
	writeFile(t, root, "bundle.star", serverScript+`    html(title = "Reloaded")
`)
	require.NoError(t, s.Rebuild(ctx, true))
	assert.Equal(t, "reload", readMessage(t, conn).Type)
	assert.Equal(t, "Reloaded", s.Config().HTML.Title)
	assert.Equal(t, 1, s.Hub().Clients())
}

func TestBrokenScriptKeepsConfig(t *testing.T) {
	s, root := newTestServer(t)
	ctx := testContext(t)

	writeFile(t, root, "bundle.star", "def configure():\n    entry(\n")
	err := s.Rebuild(ctx, true)
	require.Error(t, err)
	assert.True(t, bundler.IsConfigurationError(err))
	assert.Equal(t, "Dev", s.Config().HTML.Title)
}

func TestWatchHelpers(t *testing.T) {
	s, root := newTestServer(t)

	assert.True(t, s.touchesConfig([]string{"src/index.js", "bundle.star"}))
	assert.True(t, s.touchesConfig([]string{filepath.Join(root, "bundle.star")}))
	assert.False(t, s.touchesConfig([]string{"src/bundle.star"}))

	assert.Contains(t, s.excludes(), "dist/**")
	assert.Contains(t, s.excludes(), "**/node_modules/**")

	_, ok := relativePattern(root, filepath.Dir(root))
	assert.False(t, ok)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRequestsUseServerLogger(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bundle.star", serverScript)
	writeFile(t, root, "src/index.js", "console.log('hi');\n")

	out := &syncBuffer{}
	logger := zerolog.New(out).Level(zerolog.DebugLevel)
	s, err := New(bundler.WithLogger(context.Background(), &logger), Options{
		ConfigFile:  filepath.Join(root, "bundle.star"),
		ProjectRoot: root,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	get(t, srv.URL+"/no-such-file.txt")
	assert.Eventually(t, func() bool {
		logged := out.String()
		return strings.Contains(logged, `"message":"Request"`) && strings.Contains(logged, "/no-such-file.txt")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunStopsWhenWatcherFails(t *testing.T) {
	s, _ := newTestServer(t)
	s.opts.Address = "127.0.0.1:0"
	s.watch = func(ctx context.Context) error {
		return errors.New("too many open files")
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Run(testContext(t))
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too many open files")
	case <-time.After(10 * time.Second):
		t.Fatal("Run kept serving after the watcher failed")
	}
}
