package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultCleanupAge      = 7 * 24 * time.Hour
	DefaultCleanupSchedule = "@hourly"
)

// Cleanup deletes sessions that have been idle longer than the cleanup age,
// on a cron schedule.
type Cleanup struct {
	store      Store
	cleanupAge time.Duration
	schedule   string
	logger     zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	now     func() time.Time
}

// NewCleanup creates a cleanup job. Zero values fall back to the defaults.
func NewCleanup(store Store, cleanupAge time.Duration, schedule string, logger zerolog.Logger) *Cleanup {
	if cleanupAge == 0 {
		cleanupAge = DefaultCleanupAge
	}
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}

	return &Cleanup{
		store:      store,
		cleanupAge: cleanupAge,
		schedule:   schedule,
		logger:     logger.With().Str("component", "session_cleanup").Logger(),
		now:        time.Now,
	}
}

// Start schedules the job.
func (c *Cleanup) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	cr := cron.New()
	if _, err := cr.AddFunc(c.schedule, func() {
		if _, err := c.CleanupNow(context.Background()); err != nil {
			c.logger.Error().Err(err).Msg("Failed to cleanup old sessions")
		}
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.schedule, err)
	}
	cr.Start()

	c.cron = cr
	c.running = true

	c.logger.Info().
		Dur("cleanup_age", c.cleanupAge).
		Str("schedule", c.schedule).
		Msg("Session cleanup started")

	return nil
}

// Stop unschedules the job and waits for a run in progress.
func (c *Cleanup) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("cleanup is not running")
	}
	cr := c.cron
	c.cron = nil
	c.running = false
	c.mu.Unlock()

	<-cr.Stop().Done()
	c.logger.Info().Msg("Session cleanup stopped")
	return nil
}

// IsRunning returns whether the job is scheduled
func (c *Cleanup) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// CleanupNow deletes every session idle for at least the cleanup age and
// returns how many were removed.
func (c *Cleanup) CleanupNow(ctx context.Context) (int, error) {
	infos, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := c.now()
	deleted := 0

	for _, info := range infos {
		age := now.Sub(info.UpdatedAt)
		if age < c.cleanupAge {
			continue
		}

		if err := c.store.Delete(ctx, info.ThreadID); err != nil {
			c.logger.Error().
				Str("thread_id", info.ThreadID).
				Err(err).
				Msg("Failed to delete session")
			continue
		}
		deleted++

		c.logger.Debug().
			Str("thread_id", info.ThreadID).
			Dur("age", age).
			Msg("Session deleted")
	}

	if deleted > 0 {
		c.logger.Info().Int("deleted", deleted).Msg("Cleaned up old sessions")
	}

	return deleted, nil
}
