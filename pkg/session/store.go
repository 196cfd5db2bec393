package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agui-bridge/internal/observability"
	"github.com/harun/agui-bridge/internal/tracing"
	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "session"

var (
	ErrInvalidThreadID = errors.New("invalid thread id")
	ErrNotFound        = errors.New("session not found")
)

// Session is the stored state of one thread.
type Session struct {
	ThreadID  string         `json:"threadId"`
	Messages  []agui.Message `json:"messages"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Info summarizes a session without its messages.
type Info struct {
	ThreadID     string    `json:"threadId"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists sessions keyed by thread id.
type Store interface {
	GetOrCreate(ctx context.Context, threadID string) (*Session, error)
	UpdateMessages(ctx context.Context, threadID string, messages []agui.Message) error
	Get(ctx context.Context, threadID string) (*Session, error)
	Delete(ctx context.Context, threadID string) error
	List(ctx context.Context) ([]Info, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend     string // memory, file, sqlite
	Dir         string // file backend
	Path        string // sqlite backend
	MaxMessages int    // 0 keeps everything
	Logger      zerolog.Logger
}

// Open builds the store named by opts.Backend.
func Open(opts Options) (Store, error) {
	observability.EnsureRegistered()

	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(opts), nil
	case "file":
		return NewFileStore(opts)
	case "sqlite":
		return NewSQLiteStore(opts)
	default:
		return nil, fmt.Errorf("unknown session backend %q", opts.Backend)
	}
}

// ValidateThreadID rejects empty ids.
func ValidateThreadID(threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return fmt.Errorf("%w: thread id cannot be empty", ErrInvalidThreadID)
	}
	return nil
}

// trimMessages keeps the newest max messages and always returns a fresh slice.
func trimMessages(messages []agui.Message, max int) []agui.Message {
	if max > 0 && len(messages) > max {
		messages = messages[len(messages)-max:]
	}
	out := make([]agui.Message, len(messages))
	copy(out, messages)
	return out
}

// startUpdate opens the span and logger shared by every backend's UpdateMessages.
func startUpdate(ctx context.Context, backend, threadID string, count int, base zerolog.Logger) (context.Context, trace.Span, zerolog.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithThreadID(ctx, threadID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.update",
		attribute.String("session.backend", backend),
		attribute.String("thread_id", threadID),
		attribute.Int("message_count", count),
	)
	return ctx, span, tracing.LoggerFromContext(ctx, base)
}
