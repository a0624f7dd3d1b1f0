package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSourceUnavailable is wrapped by every Store fetch failure. Callers decide
// whether to degrade; the store never silently serves stale data past an
// explicit forced reload.
var ErrSourceUnavailable = errors.New("rule source unavailable")

// ErrArtifactNotFound is returned by sources when a namespace has never been
// published.
var ErrArtifactNotFound = errors.New("rule artifact not found")

// ArtifactSource fetches the published artifact for a namespace.
type ArtifactSource interface {
	Fetch(ctx context.Context, namespace string) (*CompiledRuleSet, error)
}

// Store serves compiled rule sets with one cache slot per namespace. The
// cache has no TTL: it is replaced only by a forced reload or a first load.
// Concurrent forced reloads race benignly; one fetched version wins whole.
type Store struct {
	src   ArtifactSource
	mu    sync.RWMutex
	cache map[string]*CompiledRuleSet
}

func NewStore(src ArtifactSource) *Store {
	return &Store{src: src, cache: make(map[string]*CompiledRuleSet)}
}

// Get returns the rule set for namespace, fetching from the source when the
// slot is empty or forceReload is set. Inactive rules are filtered out before
// the set is cached, so the engines only ever see active rules.
func (s *Store) Get(ctx context.Context, namespace string, forceReload bool) (*CompiledRuleSet, error) {
	if !forceReload {
		s.mu.RLock()
		rs, ok := s.cache[namespace]
		s.mu.RUnlock()
		if ok {
			return rs, nil
		}
	}

	fetched, err := s.src.Fetch(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: namespace %q: %v", ErrSourceUnavailable, namespace, err)
	}

	rs := filterActive(fetched)
	s.mu.Lock()
	s.cache[namespace] = rs
	s.mu.Unlock()
	return rs, nil
}

// Invalidate drops the cache slot for a namespace. The next Get fetches fresh.
func (s *Store) Invalidate(namespace string) {
	s.mu.Lock()
	delete(s.cache, namespace)
	s.mu.Unlock()
}

func filterActive(in *CompiledRuleSet) *CompiledRuleSet {
	out := &CompiledRuleSet{
		Namespace:   in.Namespace,
		GeneratedAt: in.GeneratedAt,
		Rules:       make([]Rule, 0, len(in.Rules)),
	}
	for _, r := range in.Rules {
		if r.Active {
			out.Rules = append(out.Rules, r)
		}
	}
	return out
}
