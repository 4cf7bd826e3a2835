// Package devserver rebuilds a project whenever its sources change and pushes the result to
// connected browsers.
package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"

	"github.com/kelly/gopack/pkg/bundler"
	"github.com/kelly/gopack/pkg/plugins"
)

// Options configures a dev server
type Options struct {
	ConfigFile  string
	ProjectRoot string
	// ScriptOptions are passed to option() declarations of the build script
	ScriptOptions map[string]string
	// Address overrides the address declared with dev_server()
	Address string
	Cache   bundler.TransformCache
	// Write also writes every successful build to the output directory
	Write bool
}

type Server struct {
	opts  Options
	hub   *Hub
	log   *zerolog.Logger
	watch func(context.Context) error

	mu      sync.Mutex
	cfg     *bundler.Config
	plugins []bundler.Plugin
	current *bundler.Compilation
	lastErr error
	updates map[string][]byte
}

// New loads the build script; a broken script is fatal here, unlike during later rebuilds
func New(ctx context.Context, opts Options) (*Server, error) {
	s := &Server{
		opts:    opts,
		log:     Log(ctx),
		updates: map[string][]byte{},
	}
	s.hub = NewHub(s.greeting)
	s.watch = s.Watch

	if err := s.loadConfig(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) loadConfig(ctx context.Context) error {
	cfg, err := bundler.LoadConfigWithRoot(ctx, s.opts.ConfigFile, s.opts.ProjectRoot, s.opts.ScriptOptions)
	if err != nil {
		return err
	}

	list, err := plugins.FromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.plugins = list
	s.mu.Unlock()
	return nil
}

// Config returns the currently active build configuration
func (s *Server) Config() *bundler.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Hub returns the hot client hub
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) greeting() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []Message{}
	if s.current != nil {
		result = append(result, Message{Type: "hash", Hash: s.current.BuildID})
	}
	if s.lastErr != nil {
		result = append(result, Message{Type: "error", Message: s.lastErr.Error()})
	}
	return result
}

// Current returns the last successful compilation and the error of the last build, if it failed
func (s *Server) Current() (*bundler.Compilation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.lastErr
}

// Rebuild compiles the project again and tells every client what changed. Build errors are
// reported to the clients and returned, but never stop the server.
func (s *Server) Rebuild(ctx context.Context, reloadConfig bool) error {
	if reloadConfig {
		if err := s.loadConfig(ctx); err != nil {
			s.fail(ctx, err)
			return err
		}
	}

	s.mu.Lock()
	cfg, list := s.cfg, s.plugins
	s.mu.Unlock()

	compiler := bundler.NewCompiler(cfg,
		bundler.WithCache(s.opts.Cache),
		bundler.WithPlugins(list...),
		bundler.WithHot(cfg.DevServer.Hot),
	)

	comp, err := compiler.Run(ctx, !s.opts.Write)
	if err != nil {
		s.fail(ctx, err)
		return err
	}

	s.mu.Lock()
	prev := s.current
	s.current = comp
	s.lastErr = nil
	s.mu.Unlock()

	s.publish(ctx, prev, comp, reloadConfig)
	return nil
}

func (s *Server) fail(ctx context.Context, err error) {
	if bundler.IsConfigurationError(err) {
		Log(ctx).Error().Err(err).Msg("Keeping the previous configuration")
	}

	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	s.hub.Broadcast(Message{Type: "error", Message: err.Error()})
}

func (s *Server) publish(ctx context.Context, prev, comp *bundler.Compilation, reloadConfig bool) {
	if prev == nil {
		return
	}

	if !comp.Config.DevServer.Hot || reloadConfig {
		s.hub.Broadcast(Message{Type: "reload"})
		return
	}

	update, ok := comp.HotUpdateFrom(prev)
	if !ok {
		Log(ctx).Info().Msg("Layout changed, reloading clients")
		s.hub.Broadcast(Message{Type: "reload"})
		return
	}

	if len(update.Modules) == 0 {
		s.hub.Broadcast(Message{Type: "ok"})
		return
	}

	s.mu.Lock()
	s.updates[update.Hash] = update.Script
	s.mu.Unlock()

	Log(ctx).Info().Strs("modules", update.Modules).Msg("Sending hot update")
	s.hub.Broadcast(Message{
		Type:    "update",
		Hash:    update.Hash,
		Modules: update.Modules,
		URL:     bundler.HotUpdatePrefix + update.Hash + ".js",
	})
}

// Handler returns the HTTP handler serving the in-memory build, static files and hot updates
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle(bundler.HotSocketPath, s.hub)
	r.HandleFunc(bundler.HotUpdatePrefix+"{hash}.js", s.serveUpdate).Methods(http.MethodGet)
	r.HandleFunc("/__gopack/status", s.serveStatus).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(s.serveArtifact).Methods(http.MethodGet, http.MethodHead)

	sm := secure.New(secure.Options{
		IsDevelopment:      true,
		BrowserXssFilter:   true,
		ContentTypeNosniff: true,
		FrameDeny:          true,
	})

	return sm.Handler(MakeLogMiddleware(s.log)(r))
}

func (s *Server) serveUpdate(rw http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]

	s.mu.Lock()
	script, ok := s.updates[hash]
	s.mu.Unlock()

	if !ok {
		http.NotFound(rw, r)
		return
	}

	rw.Header().Set("Content-Type", "application/javascript")
	rw.Header().Set("Cache-Control", "no-store")
	_, _ = rw.Write(script)
}

type status struct {
	BuildID   string            `json:"buildId,omitempty"`
	Error     string            `json:"error,omitempty"`
	Clients   int               `json:"clients"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

func (s *Server) serveStatus(rw http.ResponseWriter, r *http.Request) {
	comp, err := s.Current()
	result := status{Clients: s.hub.Clients()}
	if comp != nil {
		result.BuildID = comp.BuildID
		result.Artifacts = comp.Manifest()
	}
	if err != nil {
		result.Error = err.Error()
	}

	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(result); err != nil {
		Log(r.Context()).Error().Err(err).Msg("Failed to encode status")
	}
}

func (s *Server) serveArtifact(rw http.ResponseWriter, r *http.Request) {
	comp, _ := s.Current()
	if comp != nil {
		publicPath := comp.Config.Output.PublicPath
		if publicPath == "" {
			publicPath = "/"
		}

		if strings.HasPrefix(r.URL.Path, publicPath) {
			name := strings.TrimPrefix(r.URL.Path, publicPath)
			if name == "" || strings.HasSuffix(name, "/") {
				name = path.Join(name, "index.html")
			}

			if a, ok := comp.Artifact(name); ok {
				rw.Header().Set("Content-Type", a.Type)
				rw.Header().Set("Cache-Control", "no-cache")
				http.ServeContent(rw, r, a.Path, time.Time{}, bytes.NewReader(a.Data))
				return
			}
		}
	}

	http.FileServer(http.Dir(s.Config().DevServer.Static)).ServeHTTP(rw, r)
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	address := s.opts.Address
	if address == "" {
		address = s.Config().DevServer.Address
	}

	srv := &http.Server{
		Handler:     s.Handler(),
		Addr:        address,
		ReadTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	Log(ctx).Info().Str("address", "http://"+address).Msg("Dev server listening")

	select {
	case err := <-errCh:
		return eris.Wrap(err, "dev server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "failed to shut down the dev server")
	}
	return nil
}

// Run builds once, then serves and rebuilds on every change until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	if err := s.Rebuild(ctx, false); err != nil && bundler.IsConfigurationError(err) {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- s.watch(ctx)
	}()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.ListenAndServe(ctx)
	}()

	var err error
	select {
	case err = <-serveErr:
		cancel()
		if wErr := <-watchErr; err == nil {
			err = wErr
		}
	case err = <-watchErr:
		cancel()
		<-serveErr
	}
	return err
}
