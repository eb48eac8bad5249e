package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"pasties/pkg/domain"
)

// LRU holds recently read paste views in process. Entries expire after their ttl.
type LRU struct {
	c   *lru.Cache[string, item]
	mu  sync.Mutex
	now func() time.Time
}
type item struct {
	view domain.PasteView
	exp  time.Time
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c, now: time.Now}, nil
}

// Get returns a copy of the cached view, or nil on a miss.
func (l *LRU) Get(ctx context.Context, url string) *domain.PasteView {
	if ctx.Err() != nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(url)
	if !ok {
		return nil
	}
	if l.now().After(it.exp) {
		l.c.Remove(url)
		return nil
	}
	v := it.view
	return &v
}

func (l *LRU) Set(v *domain.PasteView, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(v.URL, item{
		view: *v,
		exp:  l.now().Add(ttl),
	})
}

func (l *LRU) Delete(urls ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range urls {
		l.c.Remove(u)
	}
}

func (l *LRU) Len() int {
	return l.c.Len()
}
