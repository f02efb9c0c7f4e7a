// Package reactive implements the two primitives the reactive Table is
// built from: Dynamic (a snapshot + delta stream with fork/disconnect) and
// partitionByKey (stream-of-events → per-key substreams + a key-change
// stream). Both are callback-based rather than channel-based so that
// publish delivers to every direct subscriber synchronously, before the
// publishing call returns — a single-threaded-cooperative design point
// generalized from the refcounted subscriber-map idiom in this module's
// live-query registry, which fanned WAL-derived refresh events out to
// per-query client sets the same way.
package reactive

import "sync"

// Bus is a synchronous multi-subscriber broadcast source: Publish calls
// every live subscriber's onItem before returning. It is the event bus a
// reactive Table publishes TableEvents onto, and the upstream that
// partitionByKey consumes.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[int]busSub[T]
	nextID int
	closed bool
}

type busSub[T any] struct {
	onItem     func(T)
	onError    func(error)
	onComplete func()
}

// NewBus constructs an empty, open Bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: map[int]busSub[T]{}}
}

// Subscribe registers a listener. Any of onItem/onError/onComplete may be
// nil. If the bus is already closed, onComplete fires synchronously and
// the returned unsubscribe is a no-op.
func (b *Bus[T]) Subscribe(onItem func(T), onError func(error), onComplete func()) (unsubscribe func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		if onComplete != nil {
			onComplete()
		}
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = busSub[T]{onItem: onItem, onError: onError, onComplete: onComplete}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers item to every current subscriber synchronously.
func (b *Bus[T]) Publish(item T) {
	for _, s := range b.snapshot() {
		if s.onItem != nil {
			s.onItem(item)
		}
	}
}

// Error terminates the bus with a failure, notifying every subscriber's
// onError exactly once, then clearing them.
func (b *Bus[T]) Error(err error) {
	subs := b.closeAndDrain()
	for _, s := range subs {
		if s.onError != nil {
			s.onError(err)
		}
	}
}

// Close terminates the bus gracefully, notifying every subscriber's
// onComplete exactly once.
func (b *Bus[T]) Close() {
	subs := b.closeAndDrain()
	for _, s := range subs {
		if s.onComplete != nil {
			s.onComplete()
		}
	}
}

func (b *Bus[T]) snapshot() []busSub[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]busSub[T], 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	return out
}

func (b *Bus[T]) closeAndDrain() []busSub[T] {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	out := make([]busSub[T], 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	b.subs = map[int]busSub[T]{}
	b.mu.Unlock()
	return out
}
