// Command walbridge reads the Postgres logical replication stream and
// fans each change out to two destinations: an in-process wal.Consumer
// (which turns changes into TableEvents for any registered reltable.Table)
// and a TCP broadcast port, for external processes that want the raw
// wal2json lines without running their own replication connection.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"

	"github.com/zoravur/reactable/internal/wal"
	"github.com/zoravur/reactable/pkg/reltable"
)

// Broadcaster fans a stream of raw wal2json lines out to any number of
// registered listener channels, dropping messages for listeners that
// can't keep up rather than blocking the replication reader on them.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[chan []byte]struct{}
	log       *zap.Logger
}

func NewBroadcaster(log *zap.Logger) *Broadcaster {
	return &Broadcaster{listeners: make(map[chan []byte]struct{}), log: log}
}

func (b *Broadcaster) AddListener(listener chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[listener] = struct{}{}
	b.log.Debug("wal listener added", zap.Int("total", len(b.listeners)))
}

func (b *Broadcaster) RemoveListener(listener chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, listener)
	b.log.Debug("wal listener removed", zap.Int("total", len(b.listeners)))
}

func (b *Broadcaster) Broadcast(msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for listener := range b.listeners {
		select {
		case listener <- msg:
		default:
			b.log.Warn("wal listener channel full, dropping message")
		}
	}
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	tables := reltable.NewRegistry()
	consumer := &wal.Consumer{Tables: tables, Log: log}

	broadcaster := NewBroadcaster(log)

	// Feed the in-process consumer directly off the broadcaster, alongside
	// any external TCP listeners.
	inproc := make(chan []byte, 256)
	broadcaster.AddListener(inproc)
	go func() {
		for msg := range inproc {
			consumer.OnMessage(msg)
		}
	}()

	go mainReplicationReader(broadcaster, log)

	startTCPServer(broadcaster, log)
}

// mainReplicationReader is the single, permanent goroutine that reads from
// Postgres; it reconnects with a fixed backoff on any stream error.
func mainReplicationReader(b *Broadcaster, log *zap.Logger) {
	for {
		err := connectAndReadReplication(b, log)
		if err != nil {
			log.Warn("replication connection error, reconnecting", zap.Error(err), zap.Duration("backoff", 5*time.Second))
			time.Sleep(5 * time.Second)
		}
	}
}

func connectAndReadReplication(b *Broadcaster, log *zap.Logger) error {
	connStr := "host=" + getenv("PGHOST", "postgres") +
		" port=" + getenv("PGPORT", "5432") +
		" user=" + getenv("PGUSER", "postgres") +
		" password=" + getenv("PGPASSWORD", "pass") +
		" dbname=" + getenv("PGDATABASE", "postgres") +
		" replication=database"

	conn, err := pgconn.Connect(context.Background(), connStr)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	sys, err := pglogrepl.IdentifySystem(context.Background(), conn)
	if err != nil {
		return err
	}
	log.Info("replication system identified",
		zap.String("system_id", sys.SystemID),
		zap.Int32("timeline", sys.Timeline),
		zap.String("xlog_pos", sys.XLogPos.String()),
		zap.String("dbname", sys.DBName),
	)

	slotName := getenv("WAL_SLOT", "delta_slot")
	pluginArguments := []string{"\"pretty-print\" 'true'"}

	if err := pglogrepl.StartReplication(context.Background(), conn, slotName, sys.XLogPos,
		pglogrepl.StartReplicationOptions{PluginArgs: pluginArguments}); err != nil {
		return err
	}
	log.Info("logical replication started", zap.String("slot", slotName))

	var lastLSN pglogrepl.LSN
	standbyMessageTimeout := 10 * time.Second
	nextStandbyMessageDeadline := time.Now().Add(standbyMessageTimeout)

	for {
		if time.Now().After(nextStandbyMessageDeadline) && lastLSN != 0 {
			if err := pglogrepl.SendStandbyStatusUpdate(context.Background(), conn,
				pglogrepl.StandbyStatusUpdate{WALWritePosition: lastLSN}); err != nil {
				log.Warn("send standby status failed", zap.Error(err))
				return err
			}
			nextStandbyMessageDeadline = time.Now().Add(standbyMessageTimeout)
		}

		ctx, cancel := context.WithDeadline(context.Background(), nextStandbyMessageDeadline)
		rawMsg, err := conn.ReceiveMessage(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
				continue
			}
			return err
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return errors.New(errMsg.Message)
		}

		msg, ok := rawMsg.(*pgproto3.CopyData)
		if !ok {
			log.Debug("unexpected replication message type", zap.String("type", fmt.Sprintf("%T", rawMsg)))
			continue
		}

		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				log.Warn("failed to parse keepalive", zap.Error(err))
				continue
			}
			if pkm.ReplyRequested {
				nextStandbyMessageDeadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				log.Warn("parse xlog data failed", zap.Error(err))
				continue
			}

			var eventData map[string]interface{}
			if err := json.Unmarshal(xld.WALData, &eventData); err == nil {
				if lsnStr, ok := eventData["lsn"].(string); ok {
					if parsedLSN, err := pglogrepl.ParseLSN(lsnStr); err == nil {
						lastLSN = parsedLSN
					}
				}
			}

			b.Broadcast(xld.WALData)
		}
	}
}

// startTCPServer listens for external clients that want the raw wal2json
// stream without running their own replication connection.
func startTCPServer(b *Broadcaster, log *zap.Logger) {
	addr := ":" + getenv("WALBRIDGE_PORT", "9000")
	l, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal("tcp listen failed", zap.Error(err))
	}
	defer l.Close()

	log.Info("listening for wal bridge clients", zap.String("addr", addr))
	for {
		client, err := l.Accept()
		if err != nil {
			log.Warn("accept failed", zap.Error(err))
			continue
		}
		go handleClient(client, b, log)
	}
}

func handleClient(c net.Conn, b *Broadcaster, log *zap.Logger) {
	defer c.Close()
	log.Info("wal bridge client connected", zap.Stringer("remote", c.RemoteAddr()))

	messages := make(chan []byte, 100)
	b.AddListener(messages)
	defer b.RemoveListener(messages)

	for msg := range messages {
		if _, err := c.Write(append(msg, '\n')); err != nil {
			log.Info("wal bridge client disconnected", zap.Stringer("remote", c.RemoteAddr()), zap.Error(err))
			return
		}
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
