// Package store defines the path-addressable realtime document client that
// every quiz component depends on. Components receive a Client by injection
// and never reach for a concrete implementation, so the Redis-backed store and
// the in-memory fake are interchangeable.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when no document exists at the path.
var ErrNotFound = errors.New("store: path not found")

// IsNotFound reports whether err is a missing-path error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// TimestampSentinel is the JSON string value an implementation replaces with
// its own clock, in unix milliseconds, at commit time. Using the store's clock
// for question start instants is what neutralizes client clock skew.
const TimestampSentinel = "__SERVER_TIMESTAMP__"

// ServerTimestamp marks a field for commit-time stamping inside a Write value.
func ServerTimestamp() any { return TimestampSentinel }

// Op selects how a Write lands at its path.
type Op int

const (
	// OpSet replaces the node at the path.
	OpSet Op = iota
	// OpMerge updates the listed fields of the node, leaving siblings alone.
	OpMerge
	// OpDelete removes the node.
	OpDelete
)

// Write is one mutation at a path. A batch passed to Apply commits atomically:
// no reader observes some writes of the batch without the others.
type Write struct {
	Path  string
	Op    Op
	Value any
}

// Set replaces the node at path with value.
func Set(path string, value any) Write {
	return Write{Path: path, Op: OpSet, Value: value}
}

// Merge applies the fields map onto the node at path.
func Merge(path string, fields map[string]any) Write {
	return Write{Path: path, Op: OpMerge, Value: fields}
}

// Delete removes the node at path.
func Delete(path string) Write {
	return Write{Path: path, Op: OpDelete}
}

// Event signals that the subtree at Path changed. Watchers re-read their path
// on every event instead of decoding deltas: derived values are always
// recomputed from absolute state, so missed events are harmless.
type Event struct {
	Path string
}

// Client is the store capability.
//
// Get unmarshals the subtree at path into dest (a JSON-decodable pointer) and
// returns ErrNotFound when the path has no value.
//
// Apply commits the batch atomically and returns the commit timestamp in unix
// milliseconds.
//
// Watch delivers an Event on every change at or under path, including changes
// made by other clients. The returned cancel detaches the watcher; it is safe
// to call more than once.
type Client interface {
	Get(ctx context.Context, path string, dest any) error
	Apply(ctx context.Context, writes ...Write) (int64, error)
	Watch(ctx context.Context, path string) (<-chan Event, func(), error)
}

// Split breaks a path into its segments, ignoring empty ones.
func Split(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// Join composes path segments.
func Join(segs ...string) string {
	return strings.Join(segs, "/")
}

// Within reports whether one path is an ancestor of the other or they are
// equal. A watcher at either path must fire for a change at the other.
func Within(a, b string) bool {
	as, bs := Split(a), Split(b)
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
