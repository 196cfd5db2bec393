package daemon

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/harun/agui-bridge/internal/config"
	"github.com/harun/agui-bridge/internal/logger"
	"github.com/harun/agui-bridge/internal/observability"
	"github.com/harun/agui-bridge/internal/tracing"
	"github.com/harun/agui-bridge/pkg/agent"
	"github.com/harun/agui-bridge/pkg/mcpregistry"
	"github.com/harun/agui-bridge/pkg/server"
	"github.com/harun/agui-bridge/pkg/session"
	"github.com/rs/zerolog"
)

// Daemon owns every long-lived component of the bridge.
type Daemon struct {
	config     *config.Config
	configPath string
	logger     *logger.Logger
	log        zerolog.Logger

	registry *mcpregistry.Registry
	tools    *agent.ToolSet
	sessions session.Store
	cleanup  *session.Cleanup
	driver   *server.Driver
	server   *server.Server
	watcher  *ConfigWatcher

	lifecycle *LifecycleManager

	specsMu sync.Mutex
	specs   map[string]mcpregistry.LaunchSpec

	listener net.Listener
	serveErr chan error

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Version is reported in trace resources.
var Version = "0.1.0"

// Status describes a running daemon
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
	Addr      string
	Providers []string
}

// newDialer builds the dialer used for MCP providers. Tests swap it for an
// in-process one.
var newDialer = func(cfg *config.Config, log zerolog.Logger) mcpregistry.Dialer {
	return mcpregistry.NewStdioDialer(mcpregistry.StdioDialerOptions{
		InheritEnv: cfg.MCP.InheritEnv,
		Logger:     log.With().Str("component", "mcp_stdio").Logger(),
	})
}

// New builds the daemon from cfg. configPath is only used to watch for
// changes when mcp.watch_config is set.
func New(cfg *config.Config, configPath string, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		log:        log.Component("daemon"),
		serveErr:   make(chan error, 1),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.Options{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: Version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		}); err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.log.Info().Msg("Tracing initialized successfully")
		}
	}

	if err := d.initialize(); err != nil {
		d.shutdownTracing()
		return nil, err
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initialize() error {
	cfg := d.config

	d.registry = mcpregistry.New(mcpregistry.Options{
		Dialer:         newDialer(cfg, d.logger.Zerolog()),
		CallTimeout:    cfg.CallTimeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
		Logger:         d.logger.Zerolog(),
	})

	d.specs = LaunchSpecs(cfg)
	d.tools = agent.NewToolSet(d.registry, d.specs, d.logger.Zerolog())

	sessions, err := session.Open(session.Options{
		Backend:     cfg.Sessions.Backend,
		Dir:         cfg.Sessions.Dir,
		Path:        cfg.Sessions.Path,
		MaxMessages: cfg.Sessions.MaxMessages,
		Logger:      d.logger.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	d.sessions = sessions

	if cfg.Sessions.TTL > 0 {
		d.cleanup = session.NewCleanup(sessions, cfg.SessionTTL(), cfg.Sessions.CleanupSchedule, d.logger.Zerolog())
	}

	factory, err := agent.NewFactory(agent.Config{
		Provider:     cfg.Agent.Provider,
		Model:        cfg.Agent.Model,
		APIKey:       cfg.Agent.APIKey,
		BaseURL:      cfg.Agent.BaseURL,
		SystemPrompt: cfg.Agent.SystemPrompt,
		MaxTokens:    cfg.Agent.MaxTokens,
		Temperature:  cfg.Agent.Temperature,
		MaxTurns:     cfg.Agent.MaxTurns,
		MaxRetries:   cfg.Agent.MaxRetries,
		EchoDelay:    cfg.EchoDelay(),
	}, d.tools, d.logger.Zerolog())
	if err != nil {
		sessions.Close()
		return fmt.Errorf("failed to create agent factory: %w", err)
	}

	d.driver, err = server.NewDriver(server.DriverOptions{
		Sessions:           sessions,
		Agents:             factory,
		Retry:              cfg.SSERetry(),
		StrictClientErrors: cfg.Server.StrictClientErrors,
		Logger:             d.logger.Zerolog(),
	})
	if err != nil {
		sessions.Close()
		return fmt.Errorf("failed to create driver: %w", err)
	}

	d.server, err = server.New(server.Options{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		Path:               cfg.Server.Path,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		ShutdownTimeout:    cfg.ShutdownTimeout(),
		Logger:             d.logger.Zerolog(),
	}, d.driver, d.registry)
	if err != nil {
		sessions.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}

	return nil
}

// LaunchSpecs converts the enabled servers in cfg into launch specs.
func LaunchSpecs(cfg *config.Config) map[string]mcpregistry.LaunchSpec {
	specs := make(map[string]mcpregistry.LaunchSpec, len(cfg.MCP.Servers))
	for id, srv := range cfg.MCP.Servers {
		if srv.Disabled {
			continue
		}
		specs[id] = mcpregistry.LaunchSpec{
			Command: srv.Command,
			Args:    slices.Clone(srv.Args),
			Env:     slices.Clone(srv.Env),
		}
	}
	return specs
}

func autoconnectIDs(cfg *config.Config) []string {
	var ids []string
	for id, srv := range cfg.MCP.Servers {
		if srv.Autoconnect && !srv.Disabled {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Start connects autoconnect providers and begins serving.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	ctx := tracing.WithTraceID(context.Background(), traceID)
	log := d.log.With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Starting AG-UI bridge")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if ids := autoconnectIDs(d.config); len(ids) > 0 {
		if err := d.tools.ConnectAll(ctx, ids); err != nil {
			log.Warn().Err(err).Msg("Some MCP servers failed to connect")
		}
		log.Info().Strs("providers", d.registry.Providers()).Msg("MCP servers connected")
	}

	if d.cleanup != nil {
		if err := d.cleanup.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start session cleanup")
		} else {
			log.Info().Msg("Session cleanup started")
		}
	}

	ln, err := net.Listen("tcp", d.config.Addr())
	if err != nil {
		d.lifecycle.Stop() //nolint:errcheck
		d.setStopped()
		return fmt.Errorf("failed to listen on %s: %w", d.config.Addr(), err)
	}
	d.mu.Lock()
	d.listener = ln
	d.mu.Unlock()

	go func() {
		d.serveErr <- d.server.Serve(ln)
	}()

	if d.config.MCP.WatchConfig && d.configPath != "" {
		watcher, err := NewConfigWatcher(d.configPath, d.logger.Zerolog(), d.reload)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to watch config file")
		} else {
			d.watcher = watcher
			log.Info().Str("path", d.configPath).Msg("Watching config for MCP server changes")
		}
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("AG-UI bridge started")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop shuts the bridge down: the HTTP server drains first so no run is
// cut off mid tool call, then providers and stores are released.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	ctx := tracing.WithTraceID(context.Background(), traceID)
	log := d.log.With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Stopping AG-UI bridge")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if err := d.server.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop server")
	}

	d.registry.DisconnectAll(ctx)

	if d.cleanup != nil && d.cleanup.IsRunning() {
		if err := d.cleanup.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop session cleanup")
		}
	}

	if err := d.sessions.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close session store")
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.shutdownTracing()

	log.Info().Msg("AG-UI bridge stopped")
	return nil
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		d.log.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// reload re-reads the config file and applies MCP server changes. Other
// sections need a restart.
func (d *Daemon) reload() {
	cfg, err := config.Load(d.configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		d.log.Error().Err(err).Msg("Ignoring invalid config change")
		return
	}

	d.ApplyServers(context.Background(), cfg)
}

// ApplyServers swaps in the MCP servers of cfg. Providers whose launch spec
// changed or that were removed are disconnected; new autoconnect providers
// are connected.
func (d *Daemon) ApplyServers(ctx context.Context, cfg *config.Config) {
	next := LaunchSpecs(cfg)

	d.specsMu.Lock()
	prev := d.specs
	d.specs = next
	d.specsMu.Unlock()

	d.tools.SetSpecs(next)

	var stale []string
	for id, spec := range prev {
		if updated, ok := next[id]; !ok || !sameSpec(spec, updated) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		if err := d.registry.Disconnect(ctx, id); err != nil {
			d.log.Warn().Err(err).Str("provider_id", id).Msg("Error disconnecting changed MCP server")
		}
	}

	if err := d.tools.ConnectAll(ctx, autoconnectIDs(cfg)); err != nil {
		d.log.Warn().Err(err).Msg("Some MCP servers failed to connect")
	}

	d.log.Info().
		Strs("configured", d.tools.Providers()).
		Strs("restarted", stale).
		Msg("MCP servers reloaded")
}

func sameSpec(a, b mcpregistry.LaunchSpec) bool {
	return a.Command == b.Command && slices.Equal(a.Args, b.Args) && slices.Equal(a.Env, b.Env)
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:   d.running,
		Providers: d.registry.Providers(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		if d.listener != nil {
			status.Addr = d.listener.Addr().String()
		}
	}

	return status
}

// Wait blocks until SIGINT, SIGTERM or a server failure, then stops the
// daemon.
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		d.log.Info().Str("signal", sig.String()).Msg("Received signal")
	case serveErr = <-d.serveErr:
		if serveErr != nil {
			d.log.Error().Err(serveErr).Msg("Server failed")
		}
	}

	if err := d.Stop(); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// Specs returns a copy of the launch specs currently in effect.
func (d *Daemon) Specs() map[string]mcpregistry.LaunchSpec {
	d.specsMu.Lock()
	defer d.specsMu.Unlock()
	return maps.Clone(d.specs)
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetRegistry returns the MCP connection registry
func (d *Daemon) GetRegistry() *mcpregistry.Registry {
	return d.registry
}

// GetSessions returns the session store
func (d *Daemon) GetSessions() session.Store {
	return d.sessions
}
