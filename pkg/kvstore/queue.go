package kvstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cuemby/relay/pkg/log"
)

// QueueOptions configures a work-queue consumer.
type QueueOptions struct {
	// Threads is the worker pool size.
	Threads int
	// LockMS is the per-message invisibility lease, in milliseconds.
	LockMS int
	// BackoffMS is the sleep applied after a transient pop error.
	BackoffMS int
	// ThrottleMS bounds how long a single blocking pop waits before the
	// worker re-checks for a stop request.
	ThrottleMS int
}

// DefaultQueueOptions matches the documented environment/config defaults.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		Threads:    1,
		LockMS:     60000,
		BackoffMS:  200,
		ThrottleMS: 200,
	}
}

type queueMessage struct {
	ID   string `json:"id"`
	Body []byte `json:"body"`
}

func (c *Client) queueKey() string      { return c.prefix + ":deployments:queue" }
func (c *Client) processingKey() string { return c.prefix + ":deployments:queue:processing" }
func (c *Client) leaseKey(id string) string {
	return c.prefix + ":deployments:queue:lease:" + id
}

// Enqueue appends a serialized deployment request payload to the work queue.
func (c *Client) Enqueue(ctx context.Context, payload []byte) error {
	msg := queueMessage{ID: uuid.New().String(), Body: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.rdb.LPush(ctx, c.queueKey(), data).Err()
}

// QueueDepth reports the approximate number of messages waiting to be picked up.
func (c *Client) QueueDepth(ctx context.Context) (int64, error) {
	return c.rdb.LLen(ctx, c.queueKey()).Result()
}

// Handler processes one dequeued payload.
type Handler func(ctx context.Context, payload []byte) error

// Consumer is a worker pool draining the work queue via a reliable
// pop-into-processing-list pattern, with a heartbeated per-message lease
// guarding against duplicate pickup within the visibility window.
type Consumer struct {
	client  *Client
	opts    QueueOptions
	handler Handler
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer builds a consumer bound to this client; call Start to launch
// its worker pool.
func (c *Client) NewConsumer(opts QueueOptions, handler Handler) *Consumer {
	return &Consumer{
		client:  c,
		opts:    opts,
		handler: handler,
		stopCh:  make(chan struct{}),
	}
}

// Start launches opts.Threads worker goroutines.
func (co *Consumer) Start() {
	for i := 0; i < co.opts.Threads; i++ {
		co.wg.Add(1)
		go co.run()
	}
}

// Stop signals every worker to finish its current message and exit, then
// waits for them.
func (co *Consumer) Stop() {
	close(co.stopCh)
	co.wg.Wait()
}

func (co *Consumer) run() {
	defer co.wg.Done()
	throttle := time.Duration(co.opts.ThrottleMS) * time.Millisecond
	for {
		select {
		case <-co.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), throttle)
		data, err := co.client.rdb.BRPopLPush(ctx, co.client.queueKey(), co.client.processingKey(), throttle).Result()
		cancel()

		switch {
		case err == redis.Nil:
			continue
		case err != nil:
			log.Logger.Warn().Err(err).Msg("queue pop failed, backing off")
			time.Sleep(time.Duration(co.opts.BackoffMS) * time.Millisecond)
			continue
		}

		co.process(data)
	}
}

func (co *Consumer) process(data string) {
	ctx := context.Background()

	var msg queueMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		log.Logger.Error().Err(err).Msg("dropping unparseable queue message")
		co.client.rdb.LRem(ctx, co.client.processingKey(), 1, data)
		return
	}

	leaseKey := co.client.leaseKey(msg.ID)
	ttl := time.Duration(co.opts.LockMS) * time.Millisecond
	acquired, err := co.client.rdb.SetNX(ctx, leaseKey, "1", ttl).Result()
	if err != nil || !acquired {
		co.client.rdb.LRem(ctx, co.client.processingKey(), 1, data)
		return
	}

	heartbeatStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				co.client.rdb.Expire(ctx, leaseKey, ttl)
			case <-heartbeatStop:
				return
			}
		}
	}()

	handlerErr := co.handler(ctx, msg.Body)
	close(heartbeatStop)

	co.client.rdb.Del(ctx, leaseKey)
	co.client.rdb.LRem(ctx, co.client.processingKey(), 1, data)

	if handlerErr != nil {
		log.Logger.Error().Err(handlerErr).Str("message_id", msg.ID).Msg("queue handler failed")
	}
}
