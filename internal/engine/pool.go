package engine

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Pool scopes engines per session. The empty session id maps to a shared
// engine that is never evicted; other sessions are kept in an LRU, and an
// evicted session simply starts over with an empty cache.
type Pool struct {
	mu      sync.Mutex
	shared  *Engine
	cache   *lru.Cache[string, *Engine]
	factory func(session string) *Engine
}

// NewPool creates a pool holding at most size session engines.
func NewPool(size int, factory func(session string) *Engine) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("engine factory is nil")
	}
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, *Engine](size)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	return &Pool{
		shared:  factory(""),
		cache:   cache,
		factory: factory,
	}, nil
}

// Get returns the engine for session, creating it on first use.
func (p *Pool) Get(session string) *Engine {
	if session == "" {
		return p.shared
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.cache.Get(session); ok {
		return e
	}
	e := p.factory(session)
	p.cache.Add(session, e)
	return e
}

// Sessions returns the number of live session engines.
func (p *Pool) Sessions() int {
	return p.cache.Len()
}
