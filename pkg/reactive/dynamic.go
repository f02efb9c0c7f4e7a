package reactive

import (
	"sync"

	"github.com/zoravur/reactable/pkg/relerr"
)

// Update is one item from a Dynamic's upstream: the delta plus the
// resulting snapshot.
type Update[V any, Δ any] struct {
	Delta Δ
	Next  V
}

// UpstreamFunc subscribes a callback to receive upstream Updates and
// returns an unsubscribe function; it is how a Dynamic and every one of
// its forks share a single underlying subscription.
type UpstreamFunc[V any, Δ any] func(onUpdate func(Update[V, Δ])) (unsubscribe func())

type subscriber[Δ any] struct {
	onDelta    func(Δ)
	onComplete func()
}

// hub is shared among a Dynamic and all of its forks: exactly one
// subscription to the upstream source, fanned out to every live node.
type hub[V any, Δ any] struct {
	mu          sync.Mutex
	nodes       map[int]*Dynamic[V, Δ]
	nextID      int
	unsubscribe func()
}

func (h *hub[V, Δ]) broadcast(u Update[V, Δ]) {
	for _, n := range h.snapshotNodes() {
		n.apply(u)
	}
}

func (h *hub[V, Δ]) snapshotNodes() []*Dynamic[V, Δ] {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Dynamic[V, Δ], 0, len(h.nodes))
	for _, n := range h.nodes {
		out = append(out, n)
	}
	return out
}

func (h *hub[V, Δ]) removeNode(id int) {
	h.mu.Lock()
	delete(h.nodes, id)
	empty := len(h.nodes) == 0
	unsub := h.unsubscribe
	h.mu.Unlock()
	if empty && unsub != nil {
		unsub()
	}
}

// Dynamic holds a current snapshot and a delta stream derived from an
// upstream source, with fork and disconnect (spec's Dynamic<V, Δ>).
type Dynamic[V any, Δ any] struct {
	hub *hub[V, Δ]
	id  int

	mu           sync.Mutex
	value        V
	subs         map[int]subscriber[Δ]
	nextSubID    int
	disconnected bool
}

// New constructs a Dynamic from an initial value and an upstream source.
func New[V any, Δ any](initial V, upstream UpstreamFunc[V, Δ]) *Dynamic[V, Δ] {
	h := &hub[V, Δ]{nodes: map[int]*Dynamic[V, Δ]{}}
	root := &Dynamic[V, Δ]{hub: h, id: 0, value: initial, subs: map[int]subscriber[Δ]{}}
	h.nodes[0] = root
	h.nextID = 1
	h.unsubscribe = upstream(h.broadcast)
	return root
}

func (d *Dynamic[V, Δ]) apply(u Update[V, Δ]) {
	d.mu.Lock()
	if d.disconnected {
		d.mu.Unlock()
		return
	}
	d.value = u.Next
	subs := make([]subscriber[Δ], 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.Unlock()
	for _, s := range subs {
		if s.onDelta != nil {
			s.onDelta(u.Delta)
		}
	}
}

// Read returns the latest folded value, or DynamicDisconnected if this
// handle has been disconnected.
func (d *Dynamic[V, Δ]) Read() (V, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disconnected {
		var zero V
		return zero, relerr.DynamicDisconnected()
	}
	return d.value, nil
}

// Updated registers onDelta to be called synchronously for every future
// delta, and onComplete when this handle disconnects. Returns an
// unsubscribe function, or DynamicDisconnected if already disconnected.
func (d *Dynamic[V, Δ]) Updated(onDelta func(Δ), onComplete func()) (unsubscribe func(), err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disconnected {
		return nil, relerr.DynamicDisconnected()
	}
	id := d.nextSubID
	d.nextSubID++
	d.subs[id] = subscriber[Δ]{onDelta: onDelta, onComplete: onComplete}
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}, nil
}

// Fork builds a new Dynamic sharing this one's upstream, seeded with the
// current snapshot. Raises DynamicDisconnected if this handle is already
// disconnected.
func (d *Dynamic[V, Δ]) Fork() (*Dynamic[V, Δ], error) {
	d.mu.Lock()
	if d.disconnected {
		d.mu.Unlock()
		return nil, relerr.DynamicDisconnected()
	}
	value := d.value
	d.mu.Unlock()

	h := d.hub
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	fork := &Dynamic[V, Δ]{hub: h, id: id, value: value, subs: map[int]subscriber[Δ]{}}
	h.nodes[id] = fork
	h.mu.Unlock()
	return fork, nil
}

// Disconnect cancels this handle's share of the upstream subscription and
// completes Updated for its own listeners. When the last fork of a Dynamic
// disconnects, the shared upstream subscription is torn down.
func (d *Dynamic[V, Δ]) Disconnect() {
	d.mu.Lock()
	if d.disconnected {
		d.mu.Unlock()
		return
	}
	d.disconnected = true
	subs := make([]subscriber[Δ], 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.subs = map[int]subscriber[Δ]{}
	d.mu.Unlock()
	for _, s := range subs {
		if s.onComplete != nil {
			s.onComplete()
		}
	}
	d.hub.removeNode(d.id)
}
