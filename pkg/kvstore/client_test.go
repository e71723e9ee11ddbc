package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	c := &Client{
		rdb:    redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		prefix: "relay-test",
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	locked, err := c.Locked(ctx)
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, c.SetLock(ctx))
	locked, err = c.Locked(ctx)
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, c.ClearLock(ctx))
	locked, err = c.Locked(ctx)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestRegisterInProgressIsMutuallyExclusive(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "app-env-region"

	ok, err := c.RegisterInProgress(ctx, key, "deployment-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.RegisterInProgress(ctx, key, "deployment-2")
	require.NoError(t, err)
	assert.False(t, ok, "a second concurrent registration for the same key must be rejected")

	id, found, err := c.InProgressID(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "deployment-1", id)

	require.NoError(t, c.RemoveInProgress(ctx, key))
	_, found, err = c.InProgressID(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAllInProgress(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.RegisterInProgress(ctx, "a-staging-us-east-1", "d1")
	require.NoError(t, err)
	_, err = c.RegisterInProgress(ctx, "b-prod-us-west-2", "d2")
	require.NoError(t, err)

	all, err := c.AllInProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"a-staging-us-east-1": "d1",
		"b-prod-us-west-2":    "d2",
	}, all)
}

func TestPausedRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "app-env-region"

	paused, err := c.Paused(ctx, key)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, c.RegisterPaused(ctx, key, "deployment-1"))
	paused, err = c.Paused(ctx, key)
	require.NoError(t, err)
	assert.True(t, paused)

	id, found, err := c.PausedID(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "deployment-1", id)

	require.NoError(t, c.RemovePaused(ctx, key))
	paused, err = c.Paused(ctx, key)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestAwaitingPauseSetSemantics(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "app-env-region"

	added, err := c.RegisterAwaitingPause(ctx, key)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = c.RegisterAwaitingPause(ctx, key)
	require.NoError(t, err)
	assert.False(t, added, "re-adding an existing member reports no modification")

	member, err := c.AwaitingPause(ctx, key)
	require.NoError(t, err)
	assert.True(t, member)

	require.NoError(t, c.RemoveAwaitingPause(ctx, key))
	member, err = c.AwaitingPause(ctx, key)
	require.NoError(t, err)
	assert.False(t, member)
}

func TestAwaitingCancelSetSemantics(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "app-env-region"

	added, err := c.RegisterAwaitingCancel(ctx, key)
	require.NoError(t, err)
	assert.True(t, added)

	member, err := c.AwaitingCancel(ctx, key)
	require.NoError(t, err)
	assert.True(t, member)

	require.NoError(t, c.RemoveAwaitingCancel(ctx, key))
	member, err = c.AwaitingCancel(ctx, key)
	require.NoError(t, err)
	assert.False(t, member)
}

func TestEndDeploymentClearsEverything(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "app-env-region"

	_, err := c.RegisterInProgress(ctx, key, "deployment-1")
	require.NoError(t, err)
	_, err = c.RegisterAwaitingPause(ctx, key)
	require.NoError(t, err)
	_, err = c.RegisterAwaitingCancel(ctx, key)
	require.NoError(t, err)

	require.NoError(t, c.EndDeployment(ctx, key))

	_, found, err := c.InProgressID(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	member, err := c.AwaitingPause(ctx, key)
	require.NoError(t, err)
	assert.False(t, member)

	member, err = c.AwaitingCancel(ctx, key)
	require.NoError(t, err)
	assert.False(t, member)
}

func TestResumeClearsPausedAndCancel(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "app-env-region"

	require.NoError(t, c.RegisterPaused(ctx, key, "deployment-1"))
	_, err := c.RegisterAwaitingCancel(ctx, key)
	require.NoError(t, err)

	require.NoError(t, c.Resume(ctx, key))

	paused, err := c.Paused(ctx, key)
	require.NoError(t, err)
	assert.False(t, paused)

	member, err := c.AwaitingCancel(ctx, key)
	require.NoError(t, err)
	assert.False(t, member)
}

func TestPing(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, c.Ping(ctx))
}
