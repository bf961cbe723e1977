// Package logging builds the process logger and the HTTP request logging
// middleware.
package logging

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/auroraid/apiserver/config"
)

// New returns a logger writing to w. Format "console" gives human-readable
// output; anything else is JSON.
func New(cfg config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "auroraid").Logger(), nil
}

// Middleware attaches a request-scoped logger to each request context and
// writes one access line per request. Mount it after chi's RequestID.
func Middleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{
		hlog.NewHandler(logger),
		requestIDHandler,
		hlog.RemoteAddrHandler("ip"),
		hlog.UserAgentHandler("user_agent"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			event := hlog.FromRequest(r).Info()
			if status >= http.StatusInternalServerError {
				event = hlog.FromRequest(r).Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
	}

	return func(next http.Handler) http.Handler {
		for i := len(chain) - 1; i >= 0; i-- {
			next = chain[i](next)
		}
		return next
	}
}

func requestIDHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			logger := zerolog.Ctx(r.Context())
			logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}
