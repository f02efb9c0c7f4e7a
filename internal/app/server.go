package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zoravur/reactable/internal/api"
	"github.com/zoravur/reactable/internal/wal"
	"github.com/zoravur/reactable/pkg/reltable"
)

// Server is the demo HTTP+WebSocket process: a chi router over a Registry
// of reactive Tables, fed live by a WAL bridge connection alongside its
// own mutation endpoints.
type Server struct {
	httpServer *http.Server
	tables     *reltable.Registry
	log        *zap.Logger
	walAddr    string
}

// Config configures NewServer; WALAddr may be empty to run without a live
// replication feed (mutations made through this process's own endpoints
// still publish events normally).
type Config struct {
	Addr    string
	WALAddr string
}

func NewServer(tables *reltable.Registry, log *zap.Logger, cfg Config) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	mux := api.SetupRoutes(tables, log)
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		tables:     tables,
		log:        log,
		walAddr:    cfg.WALAddr,
	}
}

// Run starts the HTTP server and, if configured, the WAL bridge listener,
// blocking until SIGINT/SIGTERM then shutting down gracefully.
func (s *Server) Run() error {
	go func() {
		s.log.Info("listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Fatal("http server error", zap.Error(err))
		}
	}()

	if s.walAddr != "" {
		go s.listenWAL()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	s.log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// listenWAL dials the walbridge TCP port and feeds each decoded line to a
// wal.Consumer over this process's table Registry. A dial failure is
// logged and retried rather than fatal, since the demo process should
// stay up and servable even if the replication bridge isn't running yet.
func (s *Server) listenWAL() {
	consumer := &wal.Consumer{Tables: s.tables, Log: s.log}

	for {
		conn, err := net.Dial("tcp", s.walAddr)
		if err != nil {
			s.log.Warn("wal bridge dial failed, retrying", zap.String("addr", s.walAddr), zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		dec := json.NewDecoder(conn)
		for {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				if err != io.EOF {
					s.log.Warn("wal bridge decode error", zap.Error(err))
				}
				break
			}
			consumer.OnMessage(raw)
		}
		conn.Close()
		time.Sleep(5 * time.Second)
	}
}
