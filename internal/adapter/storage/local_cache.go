package storage

import (
	"context"
	"sync"
	"time"
)

// LocalCache is the single-process stand-in for RedisAdapter when no Redis address is configured.
type LocalCache struct {
	mu   sync.Mutex
	keys map[string]time.Time
	subs map[chan int64]struct{}
	now  func() time.Time
}

func NewLocalCache() *LocalCache {
	return &LocalCache{
		keys: make(map[string]time.Time),
		subs: make(map[chan int64]struct{}),
		now:  time.Now,
	}
}

func (c *LocalCache) SetIdempotency(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expires, ok := c.keys[key]; ok && now.Before(expires) {
		return false, nil
	}
	c.keys[key] = now.Add(idempotencyKeyTTL)
	return true, nil
}

func (c *LocalCache) ReleaseIdempotency(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
	return nil
}

func (c *LocalCache) PublishConfirmed(_ context.Context, orderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ch := range c.subs {
		select {
		case ch <- orderID:
		default:
		}
	}
	return nil
}

func (c *LocalCache) SubscribeConfirmed(ctx context.Context) (<-chan int64, error) {
	ch := make(chan int64, 16)

	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, ch)
		close(ch)
		c.mu.Unlock()
	}()
	return ch, nil
}
