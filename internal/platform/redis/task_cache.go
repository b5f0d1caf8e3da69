package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
	"github.com/phrazzld/scry-quests/internal/platform/logger"
	"github.com/phrazzld/scry-quests/internal/store"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "quests:task:"

// DefaultTTL is used when a non-positive TTL is configured. It bounds how
// long a disabled or unpublished task can still be served from the cache.
const DefaultTTL = 15 * time.Second

// CachedTaskStore decorates a store.TaskStore with a Redis cache for GetByID.
type CachedTaskStore struct {
	next   store.TaskStore
	client goredis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

var _ store.TaskStore = (*CachedTaskStore)(nil)

// NewClient creates a client for addr and verifies it with a PING.
func NewClient(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewCachedTaskStore wraps next. If logger is nil, a default logger will be used.
func NewCachedTaskStore(
	next store.TaskStore,
	client goredis.UniversalClient,
	ttl time.Duration,
	logger *slog.Logger,
) *CachedTaskStore {
	if next == nil || client == nil {
		panic("task store and redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedTaskStore{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "task_cache")),
	}
}

// GetByID returns the cached definition, loading and caching it on a miss.
func (c *CachedTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, c.logger)
	key := cacheKey(id)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var task domain.Task
		if err := json.Unmarshal(raw, &task); err == nil {
			return &task, nil
		}
		log.Warn("discarding undecodable cached task", slog.String("task_id", id.String()))
	case errors.Is(err, goredis.Nil):
	default:
		log.Warn("task cache read failed", slog.String("error", err.Error()))
	}

	task, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(task)
	if err != nil {
		return task, nil
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Warn("task cache write failed", slog.String("error", err.Error()))
	}
	return task, nil
}

// ListAvailable implements store.TaskStore.ListAvailable.
func (c *CachedTaskStore) ListAvailable(
	ctx context.Context,
	q store.TaskQuery,
	now time.Time,
) ([]*domain.Task, int, error) {
	return c.next.ListAvailable(ctx, q, now)
}

// ListEligibleAutoTasks implements store.TaskStore.ListEligibleAutoTasks.
func (c *CachedTaskStore) ListEligibleAutoTasks(ctx context.Context, now time.Time) ([]*domain.Task, error) {
	return c.next.ListEligibleAutoTasks(ctx, now)
}

// Invalidate drops the cached definition of a task.
func (c *CachedTaskStore) Invalidate(ctx context.Context, id uuid.UUID) error {
	if err := c.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate task %s: %w", id, err)
	}
	return nil
}

func cacheKey(id uuid.UUID) string {
	return keyPrefix + id.String()
}
