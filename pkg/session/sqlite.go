package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/agui-bridge/internal/observability"
	"github.com/harun/agui-bridge/internal/tracing"
	"github.com/harun/agui-bridge/pkg/agui"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		thread_id TEXT PRIMARY KEY,
		messages TEXT NOT NULL DEFAULT '[]',
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
`

// SQLiteStore keeps sessions in a single SQLite database.
type SQLiteStore struct {
	db          *sql.DB
	maxMessages int
	logger      zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database at opts.Path.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	if opts.Path == "" {
		return nil, errors.New("database path is required")
	}
	if opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{
		db:          db,
		maxMessages: opts.MaxMessages,
		logger:      opts.Logger.With().Str("component", "session_store").Str("backend", "sqlite").Logger(),
	}
	s.logger.Info().Str("path", opts.Path).Msg("Session store initialized")
	s.updateActiveSessionsMetric(context.Background())

	return s, nil
}

func (s *SQLiteStore) updateActiveSessionsMetric(ctx context.Context) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return
	}
	observability.SetActiveSessions(n)
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, threadID string) (*Session, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (thread_id, created_at, updated_at) VALUES (?, ?, ?)",
		threadID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.updateActiveSessionsMetric(ctx)
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Info().Str("thread_id", threadID).Msg("Session created")
	}

	return s.Get(ctx, threadID)
}

func (s *SQLiteStore) UpdateMessages(ctx context.Context, threadID string, messages []agui.Message) error {
	ctx, span, logger := startUpdate(ctx, "sqlite", threadID, len(messages), s.logger)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateThreadID(threadID); err != nil {
		tracing.FailSpan(span, err)
		return err
	}

	kept := trimMessages(messages, s.maxMessages)
	data, err := json.Marshal(kept)
	if err != nil {
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (thread_id, messages, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			messages = excluded.messages,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at`,
		threadID, string(data), len(kept), now, now,
	)
	if err != nil {
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to update session: %w", err)
	}

	logger.Debug().Int("messages", len(kept)).Msg("Session messages updated")
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, threadID string) (*Session, error) {
	var (
		raw                  string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT messages, created_at, updated_at FROM sessions WHERE thread_id = ?",
		threadID,
	).Scan(&raw, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	messages := []agui.Message{}
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("failed to decode session messages: %w", err)
	}

	return &Session{
		ThreadID:  threadID,
		Messages:  messages,
		CreatedAt: time.UnixMilli(createdAt),
		UpdatedAt: time.UnixMilli(updatedAt),
	}, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.updateActiveSessionsMetric(ctx)
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT thread_id, message_count, updated_at FROM sessions ORDER BY thread_id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		var (
			info      Info
			updatedAt int64
		)
		if err := rows.Scan(&info.ThreadID, &info.MessageCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		info.UpdatedAt = time.UnixMilli(updatedAt)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
