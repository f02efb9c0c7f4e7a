package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zoravur/reactable/pkg/cursorkey"
	"github.com/zoravur/reactable/pkg/relexpr"
	"github.com/zoravur/reactable/pkg/reltable"
	"github.com/zoravur/reactable/pkg/schema"
	"github.com/zoravur/reactable/pkg/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades a connection and serves subscribe/unsubscribe
// messages against the registered Tables, pushing every subsequent delta
// for the lifetime of the subscription.
type WSHandler struct {
	Tables *reltable.Registry
	Log    *zap.Logger
}

// subscribeRequest is the client->server message shape. Type selects
// "subscribe_unique" (FindUnique) or "subscribe_many" (FindMany); the
// remaining fields are interpreted accordingly.
type subscribeRequest struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Table string `json:"table"`

	Key map[string]any `json:"key,omitempty"`

	Forward bool           `json:"forward,omitempty"`
	First   int            `json:"first,omitempty"`
	Last    int            `json:"last,omitempty"`
	After   string         `json:"after,omitempty"`
	Before  string         `json:"before,omitempty"`
	Desc    bool           `json:"desc,omitempty"`
	Eq      map[string]any `json:"eq,omitempty"`
}

type subscription struct {
	disconnect func()
}

// HandleWS upgrades the connection and serves subscribe/unsubscribe
// messages until the client disconnects, tearing down every live
// subscription it opened.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(v any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(v); err != nil {
			h.Log.Debug("ws write failed", zap.Error(err))
		}
	}

	var mu sync.Mutex
	subs := map[string]subscription{}
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range subs {
			s.disconnect()
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				h.Log.Info("ws closed", zap.Int("code", ce.Code))
			} else {
				h.Log.Debug("ws read error", zap.Error(err))
			}
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			send(map[string]any{"type": "error", "error": "invalid JSON"})
			continue
		}

		switch req.Type {
		case "subscribe_unique":
			h.subscribeUnique(r, req, send, &mu, subs)
		case "subscribe_many":
			h.subscribeMany(r, req, send, &mu, subs)
		case "unsubscribe":
			mu.Lock()
			if s, ok := subs[req.ID]; ok {
				s.disconnect()
				delete(subs, req.ID)
			}
			mu.Unlock()
			send(map[string]any{"type": "unsubscribed", "id": req.ID})
		default:
			send(map[string]any{"type": "error", "error": "unknown message type: " + req.Type})
		}
	}
}

func (h *WSHandler) subscribeUnique(r *http.Request, req subscribeRequest, send func(any), mu *sync.Mutex, subs map[string]subscription) {
	t, ok := h.Tables.Get(req.Table)
	if !ok {
		send(map[string]any{"type": "error", "id": req.ID, "error": "no such table: " + req.Table})
		return
	}
	handle, err := t.FindUnique(r.Context(), schema.PrimaryKeyRecord(req.Key))
	if err != nil {
		send(map[string]any{"type": "error", "id": req.ID, "error": err.Error()})
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	row, _ := handle.Read()
	send(map[string]any{"type": "subscribed", "id": id, "row": row})

	unsubscribe, err := handle.Updated(func(_ struct{}) {
		row, err := handle.Read()
		if err != nil {
			return
		}
		send(map[string]any{"type": "update", "id": id, "row": row})
	}, func() {
		send(map[string]any{"type": "complete", "id": id})
	})
	if err != nil {
		handle.Disconnect()
		send(map[string]any{"type": "error", "id": id, "error": err.Error()})
		return
	}

	mu.Lock()
	subs[id] = subscription{disconnect: func() {
		unsubscribe()
		handle.Disconnect()
	}}
	mu.Unlock()
}

func (h *WSHandler) subscribeMany(r *http.Request, req subscribeRequest, send func(any), mu *sync.Mutex, subs map[string]subscription) {
	t, ok := h.Tables.Get(req.Table)
	if !ok {
		send(map[string]any{"type": "error", "id": req.ID, "error": "no such table: " + req.Table})
		return
	}

	init := storage.PageInit{
		Forward: req.Forward,
		First:   req.First,
		Last:    req.Last,
		OrderBy: primaryKeyOrder(t.Schema(), req.Desc),
		Filter:  eqFilterFromMap(req.Eq),
	}
	if req.After != "" {
		cur, err := cursorkey.Decode(req.After)
		if err != nil {
			send(map[string]any{"type": "error", "id": req.ID, "error": "bad after cursor: " + err.Error()})
			return
		}
		init.After = cur
	}
	if req.Before != "" {
		cur, err := cursorkey.Decode(req.Before)
		if err != nil {
			send(map[string]any{"type": "error", "id": req.ID, "error": "bad before cursor: " + err.Error()})
			return
		}
		init.Before = cur
	}

	dyn, err := t.FindMany(r.Context(), init)
	if err != nil {
		send(map[string]any{"type": "error", "id": req.ID, "error": err.Error()})
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	page, _ := dyn.Read()
	send(map[string]any{"type": "subscribed", "id": id, "page": page})

	unsubscribe, err := dyn.Updated(func(deltas []reltable.PageDelta) {
		send(map[string]any{"type": "update", "id": id, "deltas": deltas})
	}, func() {
		send(map[string]any{"type": "complete", "id": id})
	})
	if err != nil {
		dyn.Disconnect()
		send(map[string]any{"type": "error", "id": id, "error": err.Error()})
		return
	}

	mu.Lock()
	subs[id] = subscription{disconnect: func() {
		unsubscribe()
		dyn.Disconnect()
	}}
	mu.Unlock()
}

// eqFilterFromMap ANDs together one relexpr.BinOp(Eq) per map entry,
// mirroring handlers.go's equalityFilter for the JSON-object shape the WS
// protocol uses in place of repeated query params.
func eqFilterFromMap(eq map[string]any) relexpr.Expression {
	var filter relexpr.Expression
	for col, val := range eq {
		clause := relexpr.BinOp{L: relexpr.Col(col), R: relexpr.Const(val), Op: relexpr.Eq}
		if filter == nil {
			filter = clause
		} else {
			filter = relexpr.BinOp{L: filter, R: clause, Op: relexpr.And}
		}
	}
	return filter
}
