package metrics

import (
	"context"
	"time"

	"github.com/cuemby/relay/pkg/kvstore"
	"github.com/cuemby/relay/pkg/store"
)

// Collector periodically samples the coordination store's queue depth and
// in-progress count into gauges, following the ticker/stopCh shape the
// teacher uses for its own background collectors. It holds the deployment
// store but does not sample it.
type Collector struct {
	kv     *kvstore.Client
	store  *store.Store
	stopCh chan struct{}
}

// NewCollector builds a Collector sampling kv and st.
func NewCollector(kv *kvstore.Client, st *store.Store) *Collector {
	return &Collector{
		kv:     kv,
		store:  st,
		stopCh: make(chan struct{}),
	}
}

// Start begins sampling every 15 seconds, with an immediate first sample.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts sampling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectQueueDepth(ctx)
	c.collectInProgress(ctx)
}

func (c *Collector) collectQueueDepth(ctx context.Context) {
	depth, err := c.kv.QueueDepth(ctx)
	if err != nil {
		return
	}
	QueueDepth.Set(float64(depth))
}

func (c *Collector) collectInProgress(ctx context.Context) {
	inProgress, err := c.kv.AllInProgress(ctx)
	if err != nil {
		return
	}
	InProgressDeployments.Set(float64(len(inProgress)))
}
