package kstate

import (
	"context"
	"iter"

	"github.com/flowbase/kstreams/kprocessor"
)

// EventSlot is implemented by a per-worker processor context (see
// internal/async) to let an AsyncKeyValueStore defer a write against
// whatever event that worker currently has in flight.
type EventSlot interface {
	// AppendWrite defers apply to be replayed during finalization and
	// reports true if it did so. Returns false when there is no active
	// event, in which case the caller should apply the write immediately.
	AppendWrite(apply func() error) bool
}

// EventSlotOf extracts an EventSlot from ctx if ctx exposes one, for use as
// the slot argument to NewAsyncKeyValueStore. Returns nil (a valid, inert
// slot — writes fall through immediately) if ctx does not.
func EventSlotOf(ctx any) EventSlot {
	if p, ok := ctx.(interface{ EventSlot() EventSlot }); ok {
		return p.EventSlot()
	}
	return nil
}

// AsyncKeyValueStore wraps a KeyValueStore so that Set and Delete calls made
// while an async event is installed on slot are deferred until that event's
// finalization instead of applied immediately. Get always reads the
// underlying store directly: this runtime does not implement read-your-write
// visibility for an event's own pending writes.
type AsyncKeyValueStore[K comparable, V any] struct {
	inner KeyValueStore[K, V]
	slot  EventSlot
}

// NewAsyncKeyValueStore wraps inner. slot may be nil, in which case writes
// are always applied immediately (a synchronous fallback, e.g. in tests).
func NewAsyncKeyValueStore[K comparable, V any](inner KeyValueStore[K, V], slot EventSlot) *AsyncKeyValueStore[K, V] {
	return &AsyncKeyValueStore[K, V]{inner: inner, slot: slot}
}

func (s *AsyncKeyValueStore[K, V]) Name() string     { return s.inner.Name() }
func (s *AsyncKeyValueStore[K, V]) Persistent() bool { return s.inner.Persistent() }
func (s *AsyncKeyValueStore[K, V]) Close() error     { return s.inner.Close() }

// Init is a no-op: the underlying store is already initialized by the state
// manager before a processor's Init wraps it into an AsyncKeyValueStore.
func (s *AsyncKeyValueStore[K, V]) Init(ctx kprocessor.ProcessorContextInternal) error {
	return nil
}

func (s *AsyncKeyValueStore[K, V]) Flush(ctx context.Context) error {
	return s.inner.Flush(ctx)
}

func (s *AsyncKeyValueStore[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	return s.inner.Get(ctx, key)
}

func (s *AsyncKeyValueStore[K, V]) Set(ctx context.Context, key K, value V) error {
	if s.slot != nil && s.slot.AppendWrite(func() error { return s.inner.Set(ctx, key, value) }) {
		return nil
	}
	return s.inner.Set(ctx, key, value)
}

func (s *AsyncKeyValueStore[K, V]) Delete(ctx context.Context, key K) error {
	if s.slot != nil && s.slot.AppendWrite(func() error { return s.inner.Delete(ctx, key) }) {
		return nil
	}
	return s.inner.Delete(ctx, key)
}

func (s *AsyncKeyValueStore[K, V]) Range(ctx context.Context, from, to K) iter.Seq2[K, V] {
	return s.inner.Range(ctx, from, to)
}

func (s *AsyncKeyValueStore[K, V]) All(ctx context.Context) iter.Seq2[K, V] {
	return s.inner.All(ctx)
}

var _ KeyValueStore[string, any] = (*AsyncKeyValueStore[string, any])(nil)
