// Package scheduler delivers the daily scheduled_cleanup dispatch at a
// configured wall-clock time. Missed fires are not backfilled.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// CleanupFunc is the provisioner entry point invoked on schedule.
type CleanupFunc func(ctx context.Context) error

// Scheduler wraps robfig/cron/v3 to dispatch CleanupFunc once daily at a
// configured HH:MM. cron.SkipIfStillRunning gives single-process
// non-overlap; an optional Redis lock extends that across a multi-process
// deployment sharing one database.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

// New builds a Scheduler that calls fn at the given "HH:MM" wall-clock time
// daily. locker may be nil, in which case only single-process non-overlap
// (via SkipIfStillRunning) applies.
func New(clockTime string, fn CleanupFunc, locker *RedisLocker, log *slog.Logger) (*Scheduler, error) {
	spec, err := cronSpec(clockTime)
	if err != nil {
		return nil, err
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	job := func() {
		ctx := context.Background()
		if locker != nil {
			acquired, err := locker.Acquire(ctx)
			if err != nil {
				log.Error("scheduler lock acquisition failed", "error", err)
				return
			}
			if !acquired {
				log.Info("scheduled cleanup skipped, lock held by another process")
				return
			}
			defer locker.Release(ctx)
		}

		log.Info("running scheduled cleanup")
		if err := fn(ctx); err != nil {
			log.Error("scheduled cleanup failed", "error", err)
		}
	}

	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("scheduling cleanup job: %w", err)
	}

	return &Scheduler{cron: c, log: log}, nil
}

// Start begins running the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight job to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// cronSpec converts "HH:MM" into a 5-field cron expression firing once a day.
func cronSpec(clockTime string) (string, error) {
	parts := strings.SplitN(clockTime, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid scheduled cleanup time %q, want HH:MM", clockTime)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in scheduled cleanup time %q", clockTime)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in scheduled cleanup time %q", clockTime)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// RedisLocker provides a cross-process mutual-exclusion lock for
// scheduled_cleanup, using SETNX with a TTL so a crashed holder doesn't wedge
// future runs.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker builds a RedisLocker. ttl should comfortably exceed the
// expected cleanup cycle duration.
func NewRedisLocker(client *redis.Client, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

// Acquire attempts to take the lock, returning false if another process
// already holds it.
func (l *RedisLocker) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring scheduler lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock early, once the cleanup cycle finishes.
func (l *RedisLocker) Release(ctx context.Context) {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		// best-effort: the TTL reclaims it regardless.
		_ = err
	}
}
