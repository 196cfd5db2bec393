package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harun/agui-bridge/internal/observability"
	"github.com/harun/agui-bridge/pkg/mcpregistry"
	"github.com/rs/zerolog"
)

// Options configures the HTTP server.
type Options struct {
	Host string
	Port int
	Path string // run endpoint, defaults to /agent

	RateLimitPerMinute int // per client, 0 disables
	ShutdownTimeout    time.Duration

	Logger zerolog.Logger
}

// Server is the bridge's HTTP surface.
type Server struct {
	options     Options
	driver      http.Handler
	registry    *mcpregistry.Registry
	rateLimiter *RateLimiter
	server      *http.Server
	logger      zerolog.Logger
	startTime   time.Time

	// runCtx is the base of every request context; cancelRuns ends
	// streams that outlive the shutdown timeout.
	runCtx     context.Context
	cancelRuns context.CancelFunc

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// forceCloseGrace is how long cancelled runs get to unwind before the
// listener is closed under them.
const forceCloseGrace = 5 * time.Second

// New creates a server around driver. registry may be nil, in which case
// health and tool listings report no providers.
func New(options Options, driver http.Handler, registry *mcpregistry.Registry) (*Server, error) {
	if driver == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	if options.Port == 0 {
		options.Port = 3000
	}
	if options.Path == "" {
		options.Path = "/agent"
	}
	if !strings.HasPrefix(options.Path, "/") {
		return nil, fmt.Errorf("path must start with /: %s", options.Path)
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		options:   options,
		driver:    driver,
		registry:  registry,
		logger:    options.Logger.With().Str("component", "server").Logger(),
		startTime: time.Now(),
	}
	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())
	if options.RateLimitPerMinute > 0 {
		s.rateLimiter = NewRateLimiter(options.RateLimitPerMinute)
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.options.Path, s.track(s.limit(s.driver)))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	return mux
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port))
}

// Start listens on the configured address and blocks until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and blocks until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.shutdownMu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.runCtx },
	}
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("path", s.options.Path).
		Msg("Starting AG-UI server")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop refuses new runs and waits for in-flight streams up to the shutdown
// timeout. Streams still open after that have their request context
// cancelled before the listener is shut down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down AG-UI server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	forced := false
	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, cancelling open streams")
		forced = true
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown cancelled, cancelling open streams")
		forced = true
	}
	s.cancelRuns()

	if forced {
		select {
		case <-done:
			s.logger.Info().Msg("Cancelled streams finished")
		case <-time.After(forceCloseGrace):
			s.logger.Warn().Msg("Streams ignored cancellation, closing connections")
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), forceCloseGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close() //nolint:errcheck
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("AG-UI server stopped")
	return nil
}

// IsShuttingDown reports whether Stop has been called.
func (s *Server) IsShuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// track counts in-flight runs and refuses new ones during shutdown.
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()

		defer s.inFlightReqs.Done()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ok, retryAfter := s.rateLimiter.Allow(ip); !ok {
			seconds := int((retryAfter + time.Second - 1) / time.Second)
			s.logger.Warn().
				Str("ip", ip).
				Int("retry_after", seconds).
				Msg("Rate limit exceeded")

			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) providers() []string {
	if s.registry == nil {
		return []string{}
	}
	return s.registry.Providers()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.IsShuttingDown() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"uptime":    time.Since(s.startTime).Seconds(),
		"providers": s.providers(),
		"timestamp": time.Now().UnixMilli(),
	})
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type providerTools struct {
	Tools []toolInfo `json:"tools"`
	Error string     `json:"error,omitempty"`
}

// handleTools lists the tools of every connected provider. A provider that
// fails to answer is reported with its error rather than failing the listing.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	out := map[string]providerTools{}
	if s.registry == nil {
		writeJSON(w, http.StatusOK, out)
		return
	}

	tools, err := s.registry.ListAllTools(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Some providers failed to list tools")
	}

	for _, id := range s.registry.Providers() {
		entry := providerTools{Tools: []toolInfo{}}
		listed, ok := tools[id]
		if !ok {
			entry.Error = "tool listing failed"
		}
		for _, t := range listed {
			entry.Tools = append(entry.Tools, toolInfo{Name: t.Name, Description: t.Description})
		}
		out[id] = entry
	}

	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
