package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zoravur/reactable/pkg/cursorkey"
	"github.com/zoravur/reactable/pkg/relexpr"
	"github.com/zoravur/reactable/pkg/relstmt"
	"github.com/zoravur/reactable/pkg/reltable"
	"github.com/zoravur/reactable/pkg/schema"
	"github.com/zoravur/reactable/pkg/storage"
)

// Handlers exposes each registered Table's findMany/findUnique/mutations as
// one-shot REST endpoints; the WebSocket route in ws.go is what turns a
// findMany/findUnique call into a live subscription.
type Handlers struct {
	Tables *reltable.Registry
	Log    *zap.Logger
}

func (h *Handlers) table(w http.ResponseWriter, r *http.Request) (*reltable.Table, bool) {
	name := chi.URLParam(r, "table")
	t, ok := h.Tables.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "no such table: "+name)
		return nil, false
	}
	return t, true
}

// HandleFindMany serves one page of rows. Query params: first/last (page
// size), after/before (cursor tokens in cursorkey.Encode form; the page
// response carries its start/end cursors as plain JSON objects, not as
// tokens), desc (reverse the primary-key order), and eq.<col>=v
// repeated for each equality filter to AND together.
func (h *Handlers) HandleFindMany(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	init := storage.PageInit{
		Forward: q.Get("before") == "" && q.Get("last") == "",
		OrderBy: primaryKeyOrder(t.Schema(), q.Get("desc") == "true"),
		Filter:  equalityFilter(q),
	}

	if init.Forward {
		init.First = intOr(q.Get("first"), 20)
		if tok := q.Get("after"); tok != "" {
			cur, err := cursorkey.Decode(tok)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad cursor: "+err.Error())
				return
			}
			init.After = cur
		}
	} else {
		init.Last = intOr(q.Get("last"), 20)
		if tok := q.Get("before"); tok != "" {
			cur, err := cursorkey.Decode(tok)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad cursor: "+err.Error())
				return
			}
			init.Before = cur
		}
	}

	dyn, err := t.FindMany(r.Context(), init)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	page, err := dyn.Read()
	dyn.Disconnect()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleFindUnique serves one row by primary key, given as repeated
// pk.<col>=v query params.
func (h *Handlers) HandleFindUnique(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	key := primaryKeyFromQuery(r.URL.Query())
	handle, err := t.FindUnique(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	row, err := handle.Read()
	handle.Disconnect()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "no such row")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// HandleInsert inserts the JSON row in the request body.
func (h *Handlers) HandleInsert(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, t *reltable.Table, row schema.Row) error {
		return t.Insert(ctx, row)
	})
}

// HandleUpsert inserts or replaces the JSON row in the request body.
func (h *Handlers) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, t *reltable.Table, row schema.Row) error {
		return t.Upsert(ctx, row)
	})
}

func (h *Handlers) mutate(w http.ResponseWriter, r *http.Request, fn func(context.Context, *reltable.Table, schema.Row) error) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	var row schema.Row
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := fn(r.Context(), t, row); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpdate applies the JSON partial in the request body to the row
// named by pk.<col>=v query params.
func (h *Handlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	var partial schema.Row
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	key := primaryKeyFromQuery(r.URL.Query())
	if err := t.Update(r.Context(), key, partial); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes the row named by pk.<col>=v query params.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	key := primaryKeyFromQuery(r.URL.Query())
	if err := t.Delete(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func primaryKeyFromQuery(q map[string][]string) schema.PrimaryKeyRecord {
	key := schema.PrimaryKeyRecord{}
	for name, vals := range q {
		col, ok := strings.CutPrefix(name, "pk.")
		if !ok || len(vals) == 0 {
			continue
		}
		key[col] = coerceScalar(vals[0])
	}
	return key
}

// equalityFilter ANDs together one relexpr.BinOp(Eq) per eq.<col>=v query
// param, the one filter shape this demo surface exposes over the wire.
func equalityFilter(q map[string][]string) relexpr.Expression {
	var filter relexpr.Expression
	for name, vals := range q {
		col, ok := strings.CutPrefix(name, "eq.")
		if !ok || len(vals) == 0 {
			continue
		}
		clause := relexpr.BinOp{L: relexpr.Col(col), R: relexpr.Const(coerceScalar(vals[0])), Op: relexpr.Eq}
		if filter == nil {
			filter = clause
		} else {
			filter = relexpr.BinOp{L: filter, R: clause, Op: relexpr.And}
		}
	}
	return filter
}

// primaryKeyOrder orders by every primary-key column, honoring the
// pagination planner's requirement that OrderBy cover the full key.
func primaryKeyOrder(table *schema.Table, desc bool) []relstmt.OrderTerm {
	order := make([]relstmt.OrderTerm, len(table.PrimaryKey))
	for i, col := range table.PrimaryKey {
		order[i] = relstmt.OrderTerm{Column: col, Desc: desc}
	}
	return order
}

// coerceScalar tries number, then bool, falling back to the raw string —
// query params arrive untyped and schema-blind at this layer.
func coerceScalar(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func intOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
