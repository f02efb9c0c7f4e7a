// Package reltable is the reactive Table sitting atop pkg/storage: writes
// go through prepared mutations and also publish synthetic TableEvents;
// reads return Dynamics whose deltas are derived from those events. It
// generalizes this module's live-query registry and partial-refresh
// dispatch — originally a multi-table, WHERE-pushdown design keyed by
// arbitrary affected-PK predicates — into a single-table, per-key Dynamic
// cache with the same refcounted-eviction idiom.
package reltable

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zoravur/reactable/pkg/cursorkey"
	"github.com/zoravur/reactable/pkg/reactive"
	"github.com/zoravur/reactable/pkg/relexpr"
	"github.com/zoravur/reactable/pkg/schema"
	"github.com/zoravur/reactable/pkg/storage"
)

// evictionGrace is the delay between a cached Dynamic's refcount dropping
// to zero and the cache entry actually being torn down.
const evictionGrace = 10 * time.Second

// TableEventKind distinguishes the three mutation shapes a Table publishes.
type TableEventKind string

const (
	EventInsert TableEventKind = "insert"
	EventUpdate TableEventKind = "update"
	EventDelete TableEventKind = "delete"
)

// TableEvent is published once per mutation, in mutation order.
type TableEvent struct {
	Kind TableEventKind
	Key  schema.PrimaryKeyRecord
	// Row carries the full row for Insert, and — best-effort — the
	// pre-mutation row for Delete, so filtered live pages can decide
	// whether the deleted row used to match without a second query.
	Row schema.Row
	// Partial carries the changed columns for Update.
	Partial schema.Row
}

// PageDeltaKind distinguishes add/remove entries on a findMany delta.
type PageDeltaKind string

const (
	PageAdd    PageDeltaKind = "add"
	PageRemove PageDeltaKind = "remove"
)

// PageDelta is one add/remove entry derived from a TableEvent against a
// live findMany page.
type PageDelta struct {
	Kind PageDeltaKind
	Row  schema.Row
	Key  schema.PrimaryKeyRecord
}

type cacheEntry struct {
	root       *reactive.Dynamic[schema.Row, struct{}]
	refcount   int
	evictTimer *time.Timer
}

// Table exclusively owns its storage adapter, its event bus, and its
// per-key Dynamic cache.
type Table struct {
	schema  *schema.Table
	storage *storage.Adapter
	bus     *reactive.Bus[TableEvent]
	parts   *reactive.Partition[TableEvent, string]
	log     *zap.Logger

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// New constructs a reactive Table atop adapter for the given schema.
func New(table *schema.Table, adapter *storage.Adapter, log *zap.Logger) *Table {
	if log == nil {
		log = zap.NewNop()
	}
	bus := reactive.NewBus[TableEvent]()
	t := &Table{
		schema:  table,
		storage: adapter,
		bus:     bus,
		log:     log,
		cache:   map[string]*cacheEntry{},
	}
	t.parts = reactive.PartitionByKey(bus, func(ev TableEvent) string { return keyOf(ev.Key) })
	return t
}

// Schema returns the table's declared shape, e.g. for a caller building a
// PageInit's OrderBy from the primary key without hardcoding column names.
func (t *Table) Schema() *schema.Table {
	return t.schema
}

func keyOf(key map[string]any) string {
	return cursorkey.Encode(cursorkey.Cursor(key))
}

func (t *Table) publish(ev TableEvent) {
	t.log.Debug("publishing table event",
		zap.String("table", t.schema.Name),
		zap.String("kind", string(ev.Kind)))
	t.bus.Publish(ev)
}

// Insert writes a complete row and publishes an Insert event.
func (t *Table) Insert(ctx context.Context, row schema.Row) error {
	if err := t.storage.Insert(ctx, row); err != nil {
		return err
	}
	t.publish(TableEvent{Kind: EventInsert, Row: row, Key: t.schema.ExtractPrimaryKey(row)})
	return nil
}

// Upsert writes row and publishes an Insert event (a full-row replace
// folds the same way an insert does on the per-key Dynamic cache).
func (t *Table) Upsert(ctx context.Context, row schema.Row) error {
	if err := t.storage.Upsert(ctx, row); err != nil {
		return err
	}
	t.publish(TableEvent{Kind: EventInsert, Row: row, Key: t.schema.ExtractPrimaryKey(row)})
	return nil
}

// Update changes partial's columns on the row identified by key and
// publishes an Update event. An empty partial is a silent no-op.
func (t *Table) Update(ctx context.Context, key schema.PrimaryKeyRecord, partial schema.Row) error {
	if len(partial) == 0 {
		return nil
	}
	if err := t.storage.Update(ctx, key, partial); err != nil {
		return err
	}
	t.publish(TableEvent{Kind: EventUpdate, Key: key, Partial: partial})
	return nil
}

// Delete removes the row identified by key and publishes a Delete event.
func (t *Table) Delete(ctx context.Context, key schema.PrimaryKeyRecord) error {
	// Best-effort pre-image for filtered live pages; a lookup failure here
	// is not fatal to the delete itself, it only means a filtered findMany
	// page can't tell whether the removed row used to match.
	oldRow, found, _ := t.storage.FindUnique(ctx, key)
	if err := t.storage.Delete(ctx, key); err != nil {
		return err
	}
	ev := TableEvent{Kind: EventDelete, Key: key}
	if found {
		ev.Row = oldRow
	}
	t.publish(ev)
	return nil
}

// FindUnique returns a live handle on the row identified by key. If a
// cached Dynamic already exists for this key, a fork of it is returned;
// otherwise the row is loaded from storage and a new cache entry created.
func (t *Table) FindUnique(ctx context.Context, key schema.PrimaryKeyRecord) (*Handle, error) {
	keyStr := keyOf(key)

	t.mu.Lock()
	entry, ok := t.cache[keyStr]
	if !ok {
		t.mu.Unlock()
		row, _, err := t.storage.FindUnique(ctx, key)
		if err != nil {
			return nil, err
		}
		root := t.newRootDynamic(keyStr, row)
		t.mu.Lock()
		if existing, raced := t.cache[keyStr]; raced {
			// Lost the race to build this key's cache entry: the root just
			// built is redundant, so tear down its subscription immediately
			// rather than leaking a permanent partition group reference.
			root.Disconnect()
			entry = existing
		} else {
			entry = &cacheEntry{root: root}
			t.cache[keyStr] = entry
		}
	}
	if entry.evictTimer != nil {
		entry.evictTimer.Stop()
		entry.evictTimer = nil
	}
	entry.refcount++
	t.mu.Unlock()

	fork, err := entry.root.Fork()
	if err != nil {
		return nil, err
	}
	return &Handle{Dynamic: fork, table: t, keyStr: keyStr}, nil
}

// newRootDynamic builds the Dynamic that backs a cache entry: its
// upstream is this key's partitioned substream of TableEvents, folded
// into row snapshots per spec's Insert/Update/Delete semantics.
func (t *Table) newRootDynamic(keyStr string, initial schema.Row) *reactive.Dynamic[schema.Row, struct{}] {
	current := initial
	return reactive.New[schema.Row, struct{}](initial, func(onUpdate func(reactive.Update[schema.Row, struct{}])) func() {
		return t.parts.Substream(keyStr, func(ev TableEvent) {
			switch ev.Kind {
			case EventInsert:
				current = ev.Row
			case EventUpdate:
				merged := schema.Row{}
				for k, v := range current {
					merged[k] = v
				}
				for k, v := range ev.Partial {
					merged[k] = v
				}
				current = merged
			case EventDelete:
				current = nil
			}
			onUpdate(reactive.Update[schema.Row, struct{}]{Delta: struct{}{}, Next: current})
		}, nil, nil)
	})
}

// release is called by Handle.Disconnect. It decrements the cache entry's
// refcount and, if it reaches zero, schedules eviction after the grace
// window — cancelled if the key is resubscribed before it fires.
func (t *Table) release(keyStr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.cache[keyStr]
	if !ok {
		return
	}
	entry.refcount--
	if entry.refcount > 0 {
		return
	}
	entry.refcount = 0
	entry.evictTimer = time.AfterFunc(evictionGrace, func() {
		t.mu.Lock()
		cur, ok := t.cache[keyStr]
		if !ok || cur != entry || entry.refcount > 0 {
			t.mu.Unlock()
			return
		}
		delete(t.cache, keyStr)
		t.mu.Unlock()
		entry.root.Disconnect()
	})
}

// CleanupOrphans immediately evicts every cache entry whose refcount is
// already zero, bypassing the grace window — an operational sweep for a
// process that wants to reclaim memory ahead of schedule rather than a
// replacement for the grace-window eviction path.
func (t *Table) CleanupOrphans() int {
	t.mu.Lock()
	var orphans []*cacheEntry
	for k, e := range t.cache {
		if e.refcount <= 0 {
			if e.evictTimer != nil {
				e.evictTimer.Stop()
			}
			orphans = append(orphans, e)
			delete(t.cache, k)
		}
	}
	t.mu.Unlock()
	for _, e := range orphans {
		e.root.Disconnect()
	}
	return len(orphans)
}

// Handle is a live, disconnectable view on a single row, returned by
// FindUnique. Disconnect both tears down this fork and releases the
// Table's cache reference counted against it.
type Handle struct {
	*reactive.Dynamic[schema.Row, struct{}]
	table  *Table
	keyStr string
	once   sync.Once
}

// Disconnect releases this handle's fork and the Table's cache reference.
func (h *Handle) Disconnect() {
	h.once.Do(func() {
		h.Dynamic.Disconnect()
		h.table.release(h.keyStr)
	})
}

// Ingest publishes an externally-sourced TableEvent directly onto the bus,
// bypassing storage — used by internal/wal to feed TableEvents derived
// from logical replication, where the mutation already happened outside
// this process.
func (t *Table) Ingest(ev TableEvent) {
	t.publish(ev)
}

// FindMany takes an initial Page from storage and derives a live Dynamic
// whose delta stream evaluates init.Filter against each incoming
// TableEvent's row, emitting add/remove PageDeltas. Update is
// conservatively dropped at this level — it is not possible in general to
// tell, from a partial row, whether the change affects filter membership
// or ordering without re-running the query, and the upstream design this
// generalizes from made the same trade-off.
func (t *Table) FindMany(ctx context.Context, init storage.PageInit) (*reactive.Dynamic[storage.Page, []PageDelta], error) {
	page, err := t.storage.FindMany(ctx, init)
	if err != nil {
		return nil, err
	}
	filter := init.Filter
	return reactive.New[storage.Page, []PageDelta](page, func(onUpdate func(reactive.Update[storage.Page, []PageDelta])) func() {
		current := page
		return t.bus.Subscribe(func(ev TableEvent) {
			deltas, next, changed := applyPageEvent(current, ev, filter)
			if !changed {
				return
			}
			current = next
			onUpdate(reactive.Update[storage.Page, []PageDelta]{Delta: deltas, Next: next})
		}, nil, nil)
	}), nil
}

func applyPageEvent(current storage.Page, ev TableEvent, filter relexpr.Expression) ([]PageDelta, storage.Page, bool) {
	switch ev.Kind {
	case EventInsert:
		if !matchesFilter(filter, ev.Row) {
			return nil, current, false
		}
		next := current
		next.Rows = append(append([]schema.Row(nil), current.Rows...), ev.Row)
		return []PageDelta{{Kind: PageAdd, Row: ev.Row}}, next, true
	case EventDelete:
		if ev.Row == nil || !matchesFilter(filter, ev.Row) {
			return nil, current, false
		}
		next := current
		next.Rows = removeByKey(current.Rows, ev.Key)
		return []PageDelta{{Kind: PageRemove, Key: ev.Key}}, next, true
	default:
		return nil, current, false
	}
}

func matchesFilter(filter relexpr.Expression, row schema.Row) bool {
	if filter == nil {
		return true
	}
	if row == nil {
		return false
	}
	ok, err := relexpr.EvalBool(filter, row)
	if err != nil {
		return false
	}
	return ok
}

func removeByKey(rows []schema.Row, key schema.PrimaryKeyRecord) []schema.Row {
	out := make([]schema.Row, 0, len(rows))
	for _, r := range rows {
		match := true
		for k, v := range key {
			if r[k] != v {
				match = false
				break
			}
		}
		if !match {
			out = append(out, r)
		}
	}
	return out
}

// TxTable is the mutation surface exposed inside MutateMany: every
// mutation runs against a transaction-scoped storage.Adapter, and the
// corresponding TableEvents are buffered until the transaction commits.
type TxTable struct {
	adapter *storage.Adapter
	schema  *schema.Table
	record  func(TableEvent)
}

func (tx *TxTable) Insert(ctx context.Context, row schema.Row) error {
	if err := tx.adapter.Insert(ctx, row); err != nil {
		return err
	}
	tx.record(TableEvent{Kind: EventInsert, Row: row, Key: tx.schema.ExtractPrimaryKey(row)})
	return nil
}

func (tx *TxTable) Update(ctx context.Context, key schema.PrimaryKeyRecord, partial schema.Row) error {
	if len(partial) == 0 {
		return nil
	}
	if err := tx.adapter.Update(ctx, key, partial); err != nil {
		return err
	}
	tx.record(TableEvent{Kind: EventUpdate, Key: key, Partial: partial})
	return nil
}

func (tx *TxTable) Delete(ctx context.Context, key schema.PrimaryKeyRecord) error {
	oldRow, found, _ := tx.adapter.FindUnique(ctx, key)
	if err := tx.adapter.Delete(ctx, key); err != nil {
		return err
	}
	ev := TableEvent{Kind: EventDelete, Key: key}
	if found {
		ev.Row = oldRow
	}
	tx.record(ev)
	return nil
}

// MutateMany runs fn inside a single backend transaction (via
// storage.Adapter.MutateMany) and publishes every event fn recorded only
// after the transaction commits — so that either all of its mutations
// become visible to subscribers or none do.
func (t *Table) MutateMany(ctx context.Context, fn func(ctx context.Context, tx *TxTable) error) error {
	var pending []TableEvent
	err := t.storage.MutateMany(ctx, func(ctx context.Context, txAdapter *storage.Adapter) error {
		tx := &TxTable{
			adapter: txAdapter,
			schema:  t.schema,
			record:  func(ev TableEvent) { pending = append(pending, ev) },
		}
		return fn(ctx, tx)
	})
	if err != nil {
		return err
	}
	for _, ev := range pending {
		t.publish(ev)
	}
	return nil
}
