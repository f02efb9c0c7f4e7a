package reactive

import "sync"

// KeyChangeKind distinguishes bulk/incremental add and remove notices on
// a Partition's key-change stream.
type KeyChangeKind string

const (
	KeyAdded   KeyChangeKind = "add"
	KeyRemoved KeyChangeKind = "remove"
)

// KeyChange is one item of a Partition's key-change stream.
type KeyChange[K comparable] struct {
	Kind KeyChangeKind
	Keys []K
}

type group[T any] struct {
	bus      *Bus[T]
	last     T
	hasLast  bool
	alive    bool
	refcount int
}

// Partition is the result of PartitionByKey: a per-key substream registry
// plus a key-change stream, all fed by exactly one subscription to the
// shared upstream Bus.
type Partition[T any, K comparable] struct {
	keyFn func(T) K

	mu           sync.Mutex
	groups       map[K]*group[T]
	keyChangeBus *Bus[KeyChange[K]]
	unsubscribe  func()
	closed       bool
}

// PartitionByKey subscribes once to upstream and returns a Partition
// routing each item to the substream named by keyFn(item). get_substream
// replays the most recent item to late subscribers; the key-change stream
// replays every currently-alive key as one bulk add on first subscription,
// then emits incremental add/remove notices as keys come alive or their
// projection completes.
func PartitionByKey[T any, K comparable](upstream *Bus[T], keyFn func(T) K) *Partition[T, K] {
	p := &Partition[T, K]{
		keyFn:        keyFn,
		groups:       map[K]*group[T]{},
		keyChangeBus: NewBus[KeyChange[K]](),
	}
	p.unsubscribe = upstream.Subscribe(p.onItem, p.onError, p.onComplete)
	return p
}

func (p *Partition[T, K]) onItem(item T) {
	k := p.keyFn(item)
	g, justAdded := p.groupFor(k)
	p.mu.Lock()
	g.last = item
	g.hasLast = true
	p.mu.Unlock()
	if justAdded {
		p.keyChangeBus.Publish(KeyChange[K]{Kind: KeyAdded, Keys: []K{k}})
	}
	g.bus.Publish(item)
}

func (p *Partition[T, K]) groupFor(k K) (*group[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.groups[k]
	justAdded := false
	if !ok {
		g = &group[T]{bus: NewBus[T]()}
		p.groups[k] = g
	}
	if !g.alive {
		g.alive = true
		justAdded = true
	}
	return g, justAdded
}

func (p *Partition[T, K]) onError(err error) {
	for k, g := range p.snapshotAliveGroups() {
		p.keyChangeBus.Publish(KeyChange[K]{Kind: KeyRemoved, Keys: []K{k}})
		g.bus.Error(err)
	}
	p.mu.Lock()
	p.closed = true
	p.groups = map[K]*group[T]{}
	p.mu.Unlock()
	p.keyChangeBus.Error(err)
}

func (p *Partition[T, K]) onComplete() {
	for k, g := range p.snapshotAliveGroups() {
		p.keyChangeBus.Publish(KeyChange[K]{Kind: KeyRemoved, Keys: []K{k}})
		g.bus.Close()
	}
	p.mu.Lock()
	p.closed = true
	p.groups = map[K]*group[T]{}
	p.mu.Unlock()
	p.keyChangeBus.Close()
}

func (p *Partition[T, K]) snapshotAliveGroups() map[K]*group[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[K]*group[T], len(p.groups))
	for k, g := range p.groups {
		if g.alive {
			out[k] = g
		}
	}
	return out
}

// Substream subscribes to the per-key stream for k: onItem fires
// immediately with the last published value for k (replay-1) if one
// exists, then for every subsequent item; onError/onComplete fire on
// upstream termination. Returns an unsubscribe releasing this group
// reference; a group with no references left that is not alive is dropped.
// Releasing references does not tear down the shared upstream
// subscription: it stays in place, even at zero references, until Close.
func (p *Partition[T, K]) Substream(k K, onItem func(T), onError func(error), onComplete func()) (unsubscribe func()) {
	p.mu.Lock()
	g, ok := p.groups[k]
	if !ok {
		g = &group[T]{bus: NewBus[T]()}
		p.groups[k] = g
	}
	g.refcount++
	hasLast, last := g.hasLast, g.last
	p.mu.Unlock()

	wrappedOnItem := func(item T) {
		p.mu.Lock()
		g.hasLast = true
		g.last = item
		p.mu.Unlock()
		if onItem != nil {
			onItem(item)
		}
	}
	inner := g.bus.Subscribe(wrappedOnItem, onError, onComplete)
	if hasLast && onItem != nil {
		onItem(last)
	}
	return func() {
		inner()
		p.mu.Lock()
		g.refcount--
		empty := g.refcount <= 0 && !g.alive
		if empty {
			delete(p.groups, k)
		}
		p.mu.Unlock()
	}
}

// KeyChanges subscribes to the key-change stream. On first subscription
// it synchronously replays every currently-alive key as one bulk add.
func (p *Partition[T, K]) KeyChanges(onChange func(KeyChange[K]), onError func(error), onComplete func()) (unsubscribe func()) {
	alive := p.snapshotAliveGroups()
	keys := make([]K, 0, len(alive))
	for k := range alive {
		keys = append(keys, k)
	}
	unsub := p.keyChangeBus.Subscribe(onChange, onError, onComplete)
	if len(keys) > 0 && onChange != nil {
		onChange(KeyChange[K]{Kind: KeyAdded, Keys: keys})
	}
	return unsub
}

// Close tears down the Partition's subscription to its upstream.
func (p *Partition[T, K]) Close() {
	p.mu.Lock()
	unsub := p.unsubscribe
	p.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
