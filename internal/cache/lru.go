package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store caches serialized results by key. Implementations treat every
// failure as a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

type entry struct {
	value   []byte
	expires time.Time
}

// Local is a bounded in-process cache whose entries expire after ttl as
// measured by the injected clock.
type Local struct {
	mu  sync.Mutex
	c   *lru.Cache[string, entry]
	ttl time.Duration
	now func() time.Time
}

func NewLocal(size int, ttl time.Duration, now func() time.Time) (*Local, error) {
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Local{c: c, ttl: ttl, now: now}, nil
}

func (l *Local) Get(_ context.Context, key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.c.Get(key)
	if !ok {
		return nil, false
	}
	if !l.now().Before(e.expires) {
		l.c.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (l *Local) Set(_ context.Context, key string, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(key, entry{value: value, expires: l.now().Add(l.ttl)})
}
