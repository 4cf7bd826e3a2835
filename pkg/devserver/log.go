package devserver

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/kelly/gopack/pkg/bundler"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets WebSocket upgrades pass through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, eris.New("the response writer doesn't support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// MakeLogMiddleware attaches a logger with a request ID to every request and logs the response
// status once the handler is done
func MakeLogMiddleware(base *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := base.With().Str("req", nanoid.New()).Logger()
			r = r.WithContext(bundler.WithLogger(r.Context(), &logger))

			rec := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("Request")
		})
	}
}

// Log returns a zerolog Logger with additional context information (i.e. request ID)
func Log(ctx context.Context) *zerolog.Logger {
	return bundler.Log(ctx)
}
