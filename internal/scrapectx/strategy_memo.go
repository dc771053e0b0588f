package scrapectx

import (
	"sync"

	"github.com/waltagan/scraper-api/internal/fetch"
)

// strategyMemo remembers, per host, the last fetch.Strategy that
// succeeded for the lifetime of this process (spec.md §4.10: "A
// successful strategy is remembered on the DomainState for future
// requests within this process lifetime").
type strategyMemo struct {
	mu   sync.RWMutex
	byHost map[string]fetch.Strategy
}

func newStrategyMemo() *strategyMemo {
	return &strategyMemo{byHost: make(map[string]fetch.Strategy)}
}

// Get returns the remembered strategy for host, if any.
func (s *strategyMemo) Get(host string) (fetch.Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byHost[host]
	return st, ok
}

// Remember records the strategy that last succeeded for host.
func (s *strategyMemo) Remember(host string, st fetch.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHost[host] = st
}
