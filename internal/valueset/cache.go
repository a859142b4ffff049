package valueset

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ehr/formimport/internal/form"
)

// State of a cache key.
type State int

const (
	StateAbsent State = iota
	StatePending
	StateResolved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	default:
		return "absent"
	}
}

// Store is a persistent tier behind the in-memory cache. Only resolved lists
// are ever written to it.
type Store interface {
	Get(ctx context.Context, key string) ([]*form.Answer, bool, error)
	Put(ctx context.Context, key string, answers []*form.Answer) error
	Clear(ctx context.Context) error
}

// StartFunc fetches the answer list of one key.
type StartFunc func(ctx context.Context) ([]*form.Answer, error)

// Cache holds resolved answer lists by resolution key. Concurrent requests for
// a key share one underlying call; a failed call leaves nothing behind, so the
// next request starts afresh.
type Cache struct {
	group    singleflight.Group
	resolved *lru.Cache[string, []*form.Answer]
	store    Store
	logger   zerolog.Logger

	// writeMu orders Clear against writes of finished calls.
	writeMu sync.RWMutex

	mu       sync.Mutex
	inflight map[string]int
	gen      uint64
}

// NewCache creates a cache holding at most size resolved lists. store may be
// nil.
func NewCache(size int, store Store, logger zerolog.Logger) (*Cache, error) {
	resolved, err := lru.New[string, []*form.Answer](size)
	if err != nil {
		return nil, fmt.Errorf("creating value set cache: %w", err)
	}
	return &Cache{
		resolved: resolved,
		store:    store,
		logger:   logger,
		inflight: make(map[string]int),
	}, nil
}

// Resolve returns the list for key, joining an in-flight call for the same key
// or starting one with start. The call itself is not cancelled when ctx ends;
// the caller just stops waiting for it.
func (c *Cache) Resolve(ctx context.Context, key string, start StartFunc) ([]*form.Answer, error) {
	if answers, ok := c.resolved.Get(key); ok {
		c.logger.Debug().Str("key", key).Msg("value set cache hit")
		return answers, nil
	}

	callCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.run(callCtx, key, start)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*form.Answer), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) run(ctx context.Context, key string, start StartFunc) ([]*form.Answer, error) {
	c.mu.Lock()
	c.inflight[key]++
	gen := c.gen
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inflight[key]--
		if c.inflight[key] <= 0 {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
	}()

	if answers, ok := c.resolved.Get(key); ok {
		return answers, nil
	}

	if c.store != nil {
		answers, ok, err := c.store.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Str("key", key).Msg("value set store lookup failed")
		case ok:
			c.keep(ctx, key, answers, gen, false)
			return answers, nil
		}
	}

	answers, err := start(ctx)
	if err != nil {
		return nil, err
	}
	c.keep(ctx, key, answers, gen, true)
	return answers, nil
}

// keep records answers for key, and writes them to the store when persist is
// set. Nothing is kept when Clear ran after the call for key began.
func (c *Cache) keep(ctx context.Context, key string, answers []*form.Answer, gen uint64, persist bool) {
	c.writeMu.RLock()
	defer c.writeMu.RUnlock()

	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		c.logger.Debug().Str("key", key).Msg("cache cleared during expansion, result not kept")
		return
	}

	c.resolved.Add(key, answers)
	if persist && c.store != nil {
		if err := c.store.Put(ctx, key, answers); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("value set store write failed")
		}
	}
}

// State reports the state of key.
func (c *Cache) State(key string) State {
	if c.resolved.Contains(key) {
		return StateResolved
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[key]; ok {
		return StatePending
	}
	return StateAbsent
}

// Len returns the number of resolved lists held in memory.
func (c *Cache) Len() int {
	return c.resolved.Len()
}

// Clear drops every resolved list, including those in the store. Calls in
// flight are not interrupted, but their results are no longer kept and later
// requests for their keys start new calls.
func (c *Cache) Clear(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.gen++
	for key := range c.inflight {
		c.group.Forget(key)
	}
	c.mu.Unlock()

	c.resolved.Purge()
	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			return fmt.Errorf("clearing value set store: %w", err)
		}
	}
	return nil
}
