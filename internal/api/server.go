// Package api exposes the librarian over HTTP: a server-sent-events query
// endpoint plus health probes, behind per-IP rate limiting and the usual
// middleware stack.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/libris/librarian/internal/librarian"
)

// Asker runs one query as an event stream. *librarian.Librarian satisfies it.
type Asker interface {
	Ask(ctx context.Context, req librarian.Request) (<-chan librarian.Event, error)
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Logger     *slog.Logger
	Librarian  Asker         // Required
	Pool       *pgxpool.Pool // Optional: nil disables pool stats in /ready
	TrustProxy bool          // Trust X-Real-IP/X-Forwarded-For headers
	RateRPS    float64       // Token refill per second per IP (0 = default 1)
	RateBurst  int           // Rate limiter burst size per IP (0 = default 30)
}

// Server is the librarian HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Librarian == nil {
		return nil, errors.New("librarian is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	qh := &queryHandler{librarian: cfg.Librarian, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/query", qh.query)

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 1.0
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 30
	}
	rl := newRateLimiter(rps, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → RateLimit → Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
