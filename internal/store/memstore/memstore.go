// Package memstore is an in-memory store.Client with an injectable clock.
// It backs unit tests across the codebase and is good enough to demo the full
// protocol in a single process.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/musudik/iquiz/internal/store"
)

type watcher struct {
	path string
	ch   chan store.Event
}

// Store holds a single document tree guarded by one mutex. Every mutation is
// applied under the lock, so a batch is atomic by construction.
type Store struct {
	mu       sync.RWMutex
	root     map[string]any
	watchers map[*watcher]struct{}
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the commit-timestamp clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		root:     make(map[string]any),
		watchers: make(map[*watcher]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(_ context.Context, path string, dest any) error {
	s.mu.RLock()
	node, ok := lookup(s.root, store.Split(path))
	var raw []byte
	var err error
	if ok {
		raw, err = json.Marshal(node)
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("memstore: marshal %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("memstore: decode %s: %w", path, err)
	}
	return nil
}

func (s *Store) Apply(_ context.Context, writes ...store.Write) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now().UnixMilli()

	// Normalize every value up front so a bad payload fails the whole batch
	// before any write lands.
	values := make([]any, len(writes))
	for i, w := range writes {
		if w.Op == store.OpDelete {
			continue
		}
		v, err := normalize(w.Value, ms)
		if err != nil {
			return 0, fmt.Errorf("memstore: write %s: %w", w.Path, err)
		}
		values[i] = v
	}

	for i, w := range writes {
		segs := store.Split(w.Path)
		if len(segs) == 0 {
			return 0, fmt.Errorf("memstore: write with empty path")
		}
		switch w.Op {
		case store.OpDelete:
			deleteAt(s.root, segs)
		case store.OpMerge:
			node := ensure(s.root, segs)
			fields, ok := values[i].(map[string]any)
			if !ok {
				return 0, fmt.Errorf("memstore: merge at %s requires an object", w.Path)
			}
			for k, v := range fields {
				node[k] = v
			}
		default:
			parent := ensure(s.root, segs[:len(segs)-1])
			parent[segs[len(segs)-1]] = values[i]
		}
	}

	for _, w := range writes {
		s.notifyLocked(w.Path)
	}
	return ms, nil
}

func (s *Store) Watch(_ context.Context, path string) (<-chan store.Event, func(), error) {
	w := &watcher{path: path, ch: make(chan store.Event, 8)}

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
			close(w.ch)
		})
	}
	return w.ch, cancel, nil
}

func (s *Store) notifyLocked(changed string) {
	for w := range s.watchers {
		if !store.Within(w.path, changed) {
			continue
		}
		ev := store.Event{Path: changed}
		select {
		case w.ch <- ev:
		default:
			// Drop the oldest pending event; watchers re-read full state so
			// only the fact of a change matters, not every intermediate one.
			select {
			case <-w.ch:
			default:
			}
			w.ch <- ev
		}
	}
}

// normalize round-trips a value through JSON into generic form and replaces
// timestamp sentinels with the commit-time milliseconds.
func normalize(v any, ms int64) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return stamp(out, ms), nil
}

func stamp(v any, ms int64) any {
	switch t := v.(type) {
	case string:
		if t == store.TimestampSentinel {
			return ms
		}
	case map[string]any:
		for k, e := range t {
			t[k] = stamp(e, ms)
		}
	case []any:
		for i, e := range t {
			t[i] = stamp(e, ms)
		}
	}
	return v
}

func lookup(root map[string]any, segs []string) (any, bool) {
	var node any = root
	for _, s := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// ensure walks to the object at segs, creating intermediate objects.
func ensure(root map[string]any, segs []string) map[string]any {
	node := root
	for _, s := range segs {
		next, ok := node[s].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[s] = next
		}
		node = next
	}
	return node
}

func deleteAt(root map[string]any, segs []string) {
	node := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := node[s].(map[string]any)
		if !ok {
			return
		}
		node = next
	}
	delete(node, segs[len(segs)-1])
}
