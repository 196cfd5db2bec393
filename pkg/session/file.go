package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/agui-bridge/internal/observability"
	"github.com/harun/agui-bridge/internal/tracing"
	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/rs/zerolog"
)

const maxLineSize = 16 * 1024 * 1024

// entry is one line of a session file. The first line is a header carrying
// CreatedAt; every following line carries one message.
type entry struct {
	ThreadID  string        `json:"threadId"`
	CreatedAt time.Time     `json:"createdAt,omitzero"`
	Message   *agui.Message `json:"message,omitempty"`
}

// FileStore keeps one JSONL file per thread.
type FileStore struct {
	dir         string
	maxMessages int
	logger      zerolog.Logger
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.Mutex
}

// NewFileStore creates the sessions directory if needed.
func NewFileStore(opts Options) (*FileStore, error) {
	dir := opts.Dir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".agui-bridge", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	s := &FileStore{
		dir:         dir,
		maxMessages: opts.MaxMessages,
		logger:      opts.Logger.With().Str("component", "session_store").Str("backend", "file").Logger(),
		writeLocks:  make(map[string]*sync.Mutex),
	}

	s.logger.Info().Str("dir", dir).Msg("Session store initialized")
	s.updateActiveSessionsMetric()

	return s, nil
}

// validateThreadID rejects ids that could escape the sessions directory
func (s *FileStore) validateThreadID(threadID string) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	if strings.Contains(threadID, "..") {
		return fmt.Errorf("%w: thread id cannot contain '..'", ErrInvalidThreadID)
	}
	if strings.ContainsAny(threadID, "/\\") {
		return fmt.Errorf("%w: thread id cannot contain path separators", ErrInvalidThreadID)
	}
	if strings.Contains(threadID, "\x00") {
		return fmt.Errorf("%w: thread id cannot contain null bytes", ErrInvalidThreadID)
	}
	return nil
}

func (s *FileStore) path(threadID string) string {
	return filepath.Join(s.dir, threadID+".jsonl")
}

// getWriteLock gets or creates a write lock for a thread
func (s *FileStore) getWriteLock(threadID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[threadID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.writeLocks[threadID] = lock
	return lock
}

func (s *FileStore) updateActiveSessionsMetric() {
	infos, err := s.List(context.Background())
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(infos))
}

func (s *FileStore) GetOrCreate(ctx context.Context, threadID string) (*Session, error) {
	if err := s.validateThreadID(threadID); err != nil {
		return nil, err
	}

	lock := s.getWriteLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.load(ctx, threadID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	sess = &Session{ThreadID: threadID, Messages: []agui.Message{}, CreatedAt: now, UpdatedAt: now}
	if err := s.write(sess); err != nil {
		return nil, err
	}

	s.updateActiveSessionsMetric()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("thread_id", threadID).Msg("Session created")
	return sess, nil
}

func (s *FileStore) UpdateMessages(ctx context.Context, threadID string, messages []agui.Message) error {
	ctx, span, logger := startUpdate(ctx, "file", threadID, len(messages), s.logger)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := s.validateThreadID(threadID); err != nil {
		tracing.FailSpan(span, err)
		return err
	}

	lock := s.getWriteLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	createdAt := time.Now()
	if existing, err := s.load(ctx, threadID); err == nil {
		createdAt = existing.CreatedAt
	} else if !errors.Is(err, ErrNotFound) {
		tracing.FailSpan(span, err)
		return err
	}

	sess := &Session{
		ThreadID:  threadID,
		Messages:  trimMessages(messages, s.maxMessages),
		CreatedAt: createdAt,
	}
	if err := s.write(sess); err != nil {
		tracing.FailSpan(span, err)
		return err
	}

	logger.Debug().Int("messages", len(sess.Messages)).Msg("Session messages updated")
	return nil
}

// write replaces the session file atomically via a temp file and rename
func (s *FileStore) write(sess *Session) error {
	sessionPath := s.path(sess.ThreadID)
	tempPath := sessionPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	fail := func(err error) error {
		file.Close()
		os.Remove(tempPath)
		return err
	}

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	if err := enc.Encode(entry{ThreadID: sess.ThreadID, CreatedAt: sess.CreatedAt}); err != nil {
		return fail(fmt.Errorf("failed to write session header: %w", err))
	}
	for i := range sess.Messages {
		if err := enc.Encode(entry{ThreadID: sess.ThreadID, Message: &sess.Messages[i]}); err != nil {
			return fail(fmt.Errorf("failed to write message: %w", err))
		}
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("failed to flush session file: %w", err))
	}
	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync file: %w", err))
	}
	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// load reads a session file, skipping lines that fail to parse
func (s *FileStore) load(ctx context.Context, threadID string) (*Session, error) {
	sessionPath := s.path(threadID)

	file, err := os.Open(sessionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	sess := &Session{ThreadID: threadID, Messages: []agui.Message{}, UpdatedAt: info.ModTime()}
	logger := tracing.LoggerFromContext(ctx, s.logger)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			logger.Warn().
				Str("thread_id", threadID).
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}

		if e.Message == nil {
			if !e.CreatedAt.IsZero() {
				sess.CreatedAt = e.CreatedAt
			}
			continue
		}
		sess.Messages = append(sess.Messages, *e.Message)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	return sess, nil
}

func (s *FileStore) Get(ctx context.Context, threadID string) (*Session, error) {
	if err := s.validateThreadID(threadID); err != nil {
		return nil, err
	}
	return s.load(ctx, threadID)
}

func (s *FileStore) Delete(ctx context.Context, threadID string) error {
	if err := s.validateThreadID(threadID); err != nil {
		return err
	}

	lock := s.getWriteLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(threadID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	s.updateActiveSessionsMetric()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("thread_id", threadID).Msg("Session deleted")
	return nil
}

// List counts messages by line rather than decoding them.
func (s *FileStore) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		fi, err := de.Info()
		if err != nil {
			continue
		}

		threadID := strings.TrimSuffix(name, ".jsonl")
		count, err := countLines(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		if count > 0 {
			count-- // header
		}

		infos = append(infos, Info{ThreadID: threadID, MessageCount: count, UpdatedAt: fi.ModTime()})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ThreadID < infos[j].ThreadID })
	return infos, nil
}

func countLines(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	return n, scanner.Err()
}

// Close clears the write locks.
func (s *FileStore) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()

	s.logger.Info().Msg("Session store closed")
	return nil
}
