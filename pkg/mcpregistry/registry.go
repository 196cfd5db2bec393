package mcpregistry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/harun/agui-bridge/internal/observability"
	"github.com/harun/agui-bridge/internal/tracing"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const tracerName = "mcpregistry"

// State is the lifecycle state of a provider connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

type connection struct {
	id          string
	spec        LaunchSpec
	session     Session
	connectedAt time.Time
}

// Options configures a Registry.
type Options struct {
	Dialer         Dialer
	CallTimeout    time.Duration // 0 means no deadline beyond the caller's
	ConnectTimeout time.Duration // bounds launch plus initialize; 0 means the caller's deadline only
	Logger         zerolog.Logger
}

// Registry tracks one connection per provider id.
type Registry struct {
	dialer         Dialer
	callTimeout    time.Duration
	connectTimeout time.Duration
	logger         zerolog.Logger

	mu      sync.RWMutex
	conns   map[string]*connection
	pending map[string]State // Connecting or Disconnecting

	locksMu sync.Mutex
	locks   map[string]*idLock
}

// idLock serializes connect and disconnect for one id. It stays in the map
// only while someone holds or waits for it.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty registry. A nil Dialer launches providers over stdio.
func New(opts Options) *Registry {
	if opts.Dialer == nil {
		opts.Dialer = NewStdioDialer(StdioDialerOptions{InheritEnv: true, Logger: opts.Logger})
	}
	return &Registry{
		dialer:         opts.Dialer,
		callTimeout:    opts.CallTimeout,
		connectTimeout: opts.ConnectTimeout,
		logger:         opts.Logger.With().Str("component", "mcp_registry").Logger(),
		conns:          make(map[string]*connection),
		pending:        make(map[string]State),
		locks:          make(map[string]*idLock),
	}
}

// acquire locks id, creating its lock entry on first use
func (r *Registry) acquire(id string) *idLock {
	r.locksMu.Lock()
	lock, exists := r.locks[id]
	if !exists {
		lock = &idLock{}
		r.locks[id] = lock
	}
	lock.refs++
	r.locksMu.Unlock()

	lock.mu.Lock()
	return lock
}

// release unlocks id and drops the entry once nobody else is waiting on it
func (r *Registry) release(id string, lock *idLock) {
	lock.mu.Unlock()

	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(r.locks, id)
	}
}

func (r *Registry) lookup(id string) *connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

func (r *Registry) setPending(id string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == StateDisconnected {
		delete(r.pending, id)
		return
	}
	r.pending[id] = s
}

// Connect launches the provider and registers it under id. Calling Connect
// for an id that is already connected does nothing, even if spec differs.
func (r *Registry) Connect(ctx context.Context, id string, spec LaunchSpec) error {
	if strings.TrimSpace(id) == "" {
		return &ConnectFailedError{ProviderID: id, Err: fmt.Errorf("%w: empty provider id", ErrInvalidLaunchSpec)}
	}
	if strings.TrimSpace(spec.Command) == "" {
		return &ConnectFailedError{ProviderID: id, Err: fmt.Errorf("%w: empty command", ErrInvalidLaunchSpec)}
	}

	lock := r.acquire(id)
	defer r.release(id, lock)

	ctx = tracing.WithProviderID(ctx, id)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	if r.lookup(id) != nil {
		logger.Debug().Msg("MCP server already connected")
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "mcp.connect",
		attribute.String("mcp.provider_id", id),
		attribute.String("mcp.command", spec.Command),
	)
	defer span.End()

	r.setPending(id, StateConnecting)
	defer r.setPending(id, StateDisconnected)

	logger.Info().
		Str("command", spec.Command).
		Strs("args", spec.Args).
		Msg("Connecting to MCP server")

	dialCtx := ctx
	if r.connectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, r.connectTimeout)
		defer cancel()
	}

	session, err := r.dialer(dialCtx, id, spec)
	if err != nil {
		observability.RecordConnect(false)
		tracing.FailSpan(span, err)
		logger.Error().Err(err).Msg("Failed to connect to MCP server")
		return &ConnectFailedError{ProviderID: id, Err: err}
	}

	r.mu.Lock()
	r.conns[id] = &connection{
		id:          id,
		spec:        spec,
		session:     session,
		connectedAt: time.Now(),
	}
	active := len(r.conns)
	r.mu.Unlock()

	observability.RecordConnect(true)
	observability.SetActiveConnections(active)
	logger.Info().Msg("Connected to MCP server")
	return nil
}

// CallTool invokes tool on the provider registered under id. A result whose
// IsError flag is set is returned as is; only transport and protocol failures
// produce an error.
func (r *Registry) CallTool(ctx context.Context, id, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	conn := r.lookup(id)
	if conn == nil {
		return nil, &NotConnectedError{ProviderID: id}
	}

	ctx = tracing.WithProviderID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, tracerName, "mcp.call_tool",
		attribute.String("mcp.provider_id", id),
		attribute.String("mcp.tool", tool),
	)
	defer span.End()

	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	start := time.Now()
	result, err := conn.session.CallTool(ctx, req)
	duration := time.Since(start)

	if err != nil {
		observability.RecordToolCall(id, duration, false)
		tracing.FailSpan(span, err)
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Warn().
			Err(err).
			Str("tool", tool).
			Dur("duration", duration).
			Msg("MCP tool call failed")
		return nil, &ToolCallFailedError{ProviderID: id, Tool: tool, Err: err}
	}
	if result == nil {
		result = &mcp.CallToolResult{}
	}

	observability.RecordToolCall(id, duration, !result.IsError)
	span.SetAttributes(attribute.Bool("mcp.is_error", result.IsError))
	return result, nil
}

// ListTools returns the provider's tool descriptors. The slice is never nil.
func (r *Registry) ListTools(ctx context.Context, id string) ([]mcp.Tool, error) {
	conn := r.lookup(id)
	if conn == nil {
		return nil, &NotConnectedError{ProviderID: id}
	}

	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	result, err := conn.session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, &ToolCallFailedError{ProviderID: id, Err: err}
	}
	if result == nil || result.Tools == nil {
		return []mcp.Tool{}, nil
	}
	return result.Tools, nil
}

// IsConnected reports whether id has a live connection.
func (r *Registry) IsConnected(id string) bool {
	return r.lookup(id) != nil
}

// State returns the lifecycle state of id.
func (r *Registry) State(id string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.pending[id]; ok {
		return s
	}
	if _, ok := r.conns[id]; ok {
		return StateConnected
	}
	return StateDisconnected
}

// Providers returns the connected provider ids in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Disconnect closes the connection for id and removes it. Unknown ids are a
// no-op. The entry is removed even when closing fails; the failure is logged
// and returned as a DisconnectError.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	lock := r.acquire(id)
	defer r.release(id, lock)

	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		r.pending[id] = StateDisconnecting
	}
	active := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	defer r.setPending(id, StateDisconnected)

	observability.SetActiveConnections(active)
	ctx = tracing.WithProviderID(ctx, id)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	if err := conn.session.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close MCP server connection")
		return &DisconnectError{ProviderID: id, Err: err}
	}

	logger.Info().
		Dur("connected_for", time.Since(conn.connectedAt)).
		Msg("Disconnected from MCP server")
	return nil
}

// DisconnectAll disconnects every provider concurrently and waits for all of
// them. Individual failures are logged and never stop the others.
func (r *Registry) DisconnectAll(ctx context.Context) {
	ids := r.Providers()
	if len(ids) == 0 {
		return
	}

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := r.Disconnect(ctx, id); err != nil {
				r.logger.Warn().Err(err).Str("provider_id", id).Msg("Error during disconnect")
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info().Int("count", len(ids)).Msg("Disconnected all MCP servers")
}

// ListAllTools lists tools on every connected provider concurrently. Providers
// that fail are left out of the map and reported in the joined error.
func (r *Registry) ListAllTools(ctx context.Context) (map[string][]mcp.Tool, error) {
	ids := r.Providers()
	result := make(map[string][]mcp.Tool, len(ids))

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, id := range ids {
		g.Go(func() error {
			tools, err := r.ListTools(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			result[id] = tools
			return nil
		})
	}
	_ = g.Wait()

	return result, errors.Join(errs...)
}
