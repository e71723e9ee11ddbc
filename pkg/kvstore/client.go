package kvstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config holds the coordination store's connection and key-prefix settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Client is a typed wrapper over Redis exposing the coordination primitives
// the orchestrator relies on.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New dials the configured Redis instance.
func New(cfg Config) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
	}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping probes the store with a trivial round-trip, suitable for a health check.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) lockKey() string           { return c.prefix + ":lock" }
func (c *Client) inProgressKey() string     { return c.prefix + ":deployments:in-progress" }
func (c *Client) pausedKey() string         { return c.prefix + ":deployments:paused" }
func (c *Client) awaitingPauseKey() string  { return c.prefix + ":deployments:awaiting-pause" }
func (c *Client) awaitingCancelKey() string { return c.prefix + ":deployments:awaiting-cancel" }

// Locked reports whether the global intake lock is currently held.
func (c *Client) Locked(ctx context.Context) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.lockKey()).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: check lock: %w", err)
	}
	return n > 0, nil
}

// SetLock installs the global intake lock. Operator-initiated; the
// orchestrator only reads the lock, at intake.
func (c *Client) SetLock(ctx context.Context) error {
	if err := c.rdb.Set(ctx, c.lockKey(), "1", 0).Err(); err != nil {
		return fmt.Errorf("kvstore: set lock: %w", err)
	}
	return nil
}

// ClearLock removes the global intake lock.
func (c *Client) ClearLock(ctx context.Context) error {
	if err := c.rdb.Del(ctx, c.lockKey()).Err(); err != nil {
		return fmt.Errorf("kvstore: clear lock: %w", err)
	}
	return nil
}

// RegisterInProgress atomically installs the in-progress mapping for key iff
// absent. Returns true iff it installed the mapping, the return the
// mutual-exclusion invariant is built on.
func (c *Client) RegisterInProgress(ctx context.Context, key, deploymentID string) (bool, error) {
	ok, err := c.rdb.HSetNX(ctx, c.inProgressKey(), key, deploymentID).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: register in-progress: %w", err)
	}
	return ok, nil
}

// InProgressID returns the deployment id currently registered for key, if any.
func (c *Client) InProgressID(ctx context.Context, key string) (string, bool, error) {
	id, err := c.rdb.HGet(ctx, c.inProgressKey(), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore: get in-progress: %w", err)
	}
	return id, true, nil
}

// RemoveInProgress clears the in-progress mapping for key.
func (c *Client) RemoveInProgress(ctx context.Context, key string) error {
	if err := c.rdb.HDel(ctx, c.inProgressKey(), key).Err(); err != nil {
		return fmt.Errorf("kvstore: remove in-progress: %w", err)
	}
	return nil
}

// AllInProgress returns the full in-progress hash, keyed by "app-env-region".
func (c *Client) AllInProgress(ctx context.Context) (map[string]string, error) {
	m, err := c.rdb.HGetAll(ctx, c.inProgressKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: list in-progress: %w", err)
	}
	return m, nil
}

// RegisterPaused records that key's deployment is paused, storing its id.
func (c *Client) RegisterPaused(ctx context.Context, key, deploymentID string) error {
	if err := c.rdb.HSet(ctx, c.pausedKey(), key, deploymentID).Err(); err != nil {
		return fmt.Errorf("kvstore: register paused: %w", err)
	}
	return nil
}

// Paused reports whether key currently has a paused deployment.
func (c *Client) Paused(ctx context.Context, key string) (bool, error) {
	ok, err := c.rdb.HExists(ctx, c.pausedKey(), key).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: check paused: %w", err)
	}
	return ok, nil
}

// PausedID returns the deployment id paused at key, if any.
func (c *Client) PausedID(ctx context.Context, key string) (string, bool, error) {
	id, err := c.rdb.HGet(ctx, c.pausedKey(), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore: get paused: %w", err)
	}
	return id, true, nil
}

// RemovePaused clears key's paused entry.
func (c *Client) RemovePaused(ctx context.Context, key string) error {
	if err := c.rdb.HDel(ctx, c.pausedKey(), key).Err(); err != nil {
		return fmt.Errorf("kvstore: remove paused: %w", err)
	}
	return nil
}

// RegisterAwaitingPause requests that the in-flight deployment at key pause
// at its next task boundary. Returns true iff the set was modified.
func (c *Client) RegisterAwaitingPause(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.SAdd(ctx, c.awaitingPauseKey(), key).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: register awaiting-pause: %w", err)
	}
	return n > 0, nil
}

// AwaitingPause reports whether key is requesting a pause.
func (c *Client) AwaitingPause(ctx context.Context, key string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, c.awaitingPauseKey(), key).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: check awaiting-pause: %w", err)
	}
	return ok, nil
}

// RemoveAwaitingPause clears key's pause request.
func (c *Client) RemoveAwaitingPause(ctx context.Context, key string) error {
	if err := c.rdb.SRem(ctx, c.awaitingPauseKey(), key).Err(); err != nil {
		return fmt.Errorf("kvstore: remove awaiting-pause: %w", err)
	}
	return nil
}

// RegisterAwaitingCancel requests that the in-flight deployment at key cancel
// at its next task boundary. Returns true iff the set was modified.
func (c *Client) RegisterAwaitingCancel(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.SAdd(ctx, c.awaitingCancelKey(), key).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: register awaiting-cancel: %w", err)
	}
	return n > 0, nil
}

// AwaitingCancel reports whether key is requesting cancellation.
func (c *Client) AwaitingCancel(ctx context.Context, key string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, c.awaitingCancelKey(), key).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: check awaiting-cancel: %w", err)
	}
	return ok, nil
}

// RemoveAwaitingCancel clears key's cancel request.
func (c *Client) RemoveAwaitingCancel(ctx context.Context, key string) error {
	if err := c.rdb.SRem(ctx, c.awaitingCancelKey(), key).Err(); err != nil {
		return fmt.Errorf("kvstore: remove awaiting-cancel: %w", err)
	}
	return nil
}

// EndDeployment clears every coordination entry tied to a finalized
// deployment: the in-progress mapping plus any pending pause/cancel requests.
func (c *Client) EndDeployment(ctx context.Context, key string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HDel(ctx, c.inProgressKey(), key)
	pipe.SRem(ctx, c.awaitingPauseKey(), key)
	pipe.SRem(ctx, c.awaitingCancelKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kvstore: end deployment: %w", err)
	}
	return nil
}

// Resume clears key's paused entry and any pending cancel request, leaving
// the caller to restart the next task.
func (c *Client) Resume(ctx context.Context, key string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HDel(ctx, c.pausedKey(), key)
	pipe.SRem(ctx, c.awaitingCancelKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kvstore: resume: %w", err)
	}
	return nil
}

// resetForTest drops every coordination key. No test currently calls it.
func (c *Client) resetForTest(ctx context.Context) error {
	return c.rdb.Del(ctx, c.lockKey(), c.inProgressKey(), c.pausedKey(),
		c.awaitingPauseKey(), c.awaitingCancelKey()).Err()
}
