package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/harun/agui-bridge/internal/observability"
	"github.com/harun/agui-bridge/internal/tracing"
	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/rs/zerolog"
)

// MemoryStore keeps sessions in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxMessages int
	logger      zerolog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		maxMessages: opts.MaxMessages,
		logger:      opts.Logger.With().Str("component", "session_store").Str("backend", "memory").Logger(),
	}
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, threadID string) (*Session, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[threadID]; ok {
		return cloneSession(sess), nil
	}

	now := time.Now()
	sess := &Session{
		ThreadID:  threadID,
		Messages:  []agui.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[threadID] = sess
	observability.SetActiveSessions(len(s.sessions))

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().Str("thread_id", threadID).Msg("Session created")
	return cloneSession(sess), nil
}

func (s *MemoryStore) UpdateMessages(ctx context.Context, threadID string, messages []agui.Message) error {
	ctx, span, logger := startUpdate(ctx, "memory", threadID, len(messages), s.logger)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateThreadID(threadID); err != nil {
		tracing.FailSpan(span, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sess, ok := s.sessions[threadID]
	if !ok {
		sess = &Session{ThreadID: threadID, CreatedAt: now}
		s.sessions[threadID] = sess
		observability.SetActiveSessions(len(s.sessions))
	}
	sess.Messages = trimMessages(messages, s.maxMessages)
	sess.UpdatedAt = now

	logger.Debug().Int("messages", len(sess.Messages)).Msg("Session messages updated")
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, threadID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, threadID)
	observability.SetActiveSessions(len(s.sessions))
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Info, error) {
	s.mu.RLock()
	infos := make([]Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, Info{
			ThreadID:     sess.ThreadID,
			MessageCount: len(sess.Messages),
			UpdatedAt:    sess.UpdatedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ThreadID < infos[j].ThreadID })
	return infos, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneSession(sess *Session) *Session {
	out := *sess
	out.Messages = trimMessages(sess.Messages, 0)
	return &out
}
