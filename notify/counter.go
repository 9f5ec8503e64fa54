// Package notify keeps the unread notification count fresh in the
// background.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/logger"
)

// Source fetches the unread count.
type Source interface {
	UnreadCount(ctx context.Context) (int, error)
}

var _ Source = (*tutorhub.APIClient)(nil)

// DefaultInterval is the refresh period used by Run when none is given.
const DefaultInterval = 30 * time.Second

// Counter caches the unread count. A failed refresh keeps the last good
// value.
type Counter struct {
	src      Source
	interval time.Duration
	log      *logger.Logger

	mu       sync.RWMutex
	value    int
	loaded   bool
	onChange func(int)
}

// NewCounter creates a counter polling src every interval.
func NewCounter(src Source, interval time.Duration, log *logger.Logger) *Counter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Counter{
		src:      src,
		interval: interval,
		log:      logger.OrNop(log).Named("notify"),
	}
}

// OnChange registers a hook run when the count changes.
func (c *Counter) OnChange(h func(int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = h
}

// Refresh fetches the count once.
func (c *Counter) Refresh(ctx context.Context) error {
	n, err := c.src.UnreadCount(ctx)
	if err != nil {
		c.log.Warn("unread count refresh failed, keeping last value", zap.Error(err))
		return err
	}

	c.mu.Lock()
	changed := !c.loaded || n != c.value
	c.value = n
	c.loaded = true
	h := c.onChange
	c.mu.Unlock()

	if changed && h != nil {
		h(n)
	}
	return nil
}

// Run refreshes immediately and then every interval until ctx ends.
func (c *Counter) Run(ctx context.Context) {
	c.Refresh(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Value returns the last good count.
func (c *Counter) Value() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}
