// Package wal decodes logical-replication change envelopes and feeds them
// into the reactive layer as externally-sourced TableEvents. The JSON wire
// shape matches wal2json's row-change output: one Envelope per committed
// transaction, one Change per affected row.
package wal

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/zoravur/reactable/pkg/reltable"
	"github.com/zoravur/reactable/pkg/schema"
)

// Keys is the keynames/keyvalues pair wal2json attaches to a Change,
// identifying the row by primary key (oldkeys) or, for inserts, by the
// values just written (newkeys).
type Keys struct {
	KeyNames  []string      `json:"keynames"`
	KeyValues []interface{} `json:"keyvalues"`
}

// Change describes one row-level effect of a committed transaction.
type Change struct {
	Schema       string        `json:"schema"`
	Table        string        `json:"table"`
	Kind         string        `json:"kind"` // "insert" | "update" | "delete"
	ColumnNames  []string      `json:"columnnames"`
	ColumnValues []interface{} `json:"columnvalues"`
	OldKeys      Keys          `json:"oldkeys"`
	NewKeys      Keys          `json:"newkeys"`
}

// Envelope wraps the Changes committed together in one transaction.
type Envelope struct {
	Change []Change `json:"change"`
}

// Consumer routes decoded Changes to the Table registered under the
// change's table name, publishing them as externally-sourced TableEvents.
// It performs no storage write of its own — the write already happened
// via the replication connection, not this process.
type Consumer struct {
	Tables *reltable.Registry
	Log    *zap.Logger
}

// OnMessage decodes one Envelope and dispatches each of its Changes.
// Malformed input and changes naming an unregistered table are logged and
// skipped rather than treated as fatal: one bad or unmonitored row should
// not stall the rest of the stream.
func (c *Consumer) OnMessage(line []byte) {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		log.Error("wal: malformed envelope", zap.Error(err))
		return
	}

	for i, ch := range env.Change {
		chlog := log.With(
			zap.Int("change", i),
			zap.String("schema", ch.Schema),
			zap.String("table", ch.Table),
			zap.String("kind", ch.Kind),
		)

		t, ok := c.Tables.Get(ch.Table)
		if !ok {
			chlog.Debug("wal: no table registered for change, skipping")
			continue
		}

		ev, ok := toTableEvent(ch)
		if !ok {
			chlog.Warn("wal: unrecognized change kind")
			continue
		}

		chlog.Debug("wal: dispatching externally sourced event")
		t.Ingest(ev)
	}
}

func toTableEvent(ch Change) (reltable.TableEvent, bool) {
	switch ch.Kind {
	case "insert":
		return reltable.TableEvent{
			Kind: reltable.EventInsert,
			Key:  keysToPrimaryKey(ch.NewKeys),
			Row:  rowFromColumns(ch.ColumnNames, ch.ColumnValues),
		}, true
	case "update":
		return reltable.TableEvent{
			Kind:    reltable.EventUpdate,
			Key:     keysToPrimaryKey(ch.OldKeys),
			Partial: rowFromColumns(ch.ColumnNames, ch.ColumnValues),
		}, true
	case "delete":
		return reltable.TableEvent{
			Kind: reltable.EventDelete,
			Key:  keysToPrimaryKey(ch.OldKeys),
			Row:  rowFromColumns(ch.OldKeys.KeyNames, ch.OldKeys.KeyValues),
		}, true
	default:
		return reltable.TableEvent{}, false
	}
}

func keysToPrimaryKey(k Keys) schema.PrimaryKeyRecord {
	out := make(schema.PrimaryKeyRecord, len(k.KeyNames))
	for i, name := range k.KeyNames {
		if i < len(k.KeyValues) {
			out[name] = k.KeyValues[i]
		}
	}
	return out
}

func rowFromColumns(names []string, values []interface{}) schema.Row {
	out := make(schema.Row, len(names))
	for i, name := range names {
		if i < len(values) {
			out[name] = values[i]
		}
	}
	return out
}
