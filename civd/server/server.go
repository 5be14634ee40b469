package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/civ-ci/civ/civd/core"
	"github.com/civ-ci/civ/internals/assert"
	"github.com/civ-ci/civ/internals/jenkins"
	"github.com/civ-ci/civ/internals/timeouts"
)

const stageCacheSize = 256

type Server struct {
	Base   *core.BaseServer
	Logger *slog.Logger
	// stages holds the pipeline nodes of finished builds, keyed by build id.
	stages *lru.Cache[int64, []jenkins.Stage]

	mu         sync.Mutex
	httpServer *http.Server
	stop       context.CancelFunc
}

func New() *Server {
	server, err := NewWithBase(core.New())
	assert.AssertNil(err, "[SERVER] Failed to initialize")
	return server
}

func NewWithBase(base *core.BaseServer) (*Server, error) {
	cache, err := lru.New[int64, []jenkins.Stage](stageCacheSize)
	if err != nil {
		return nil, err
	}
	return &Server{
		Base:   base,
		Logger: base.Logger,
		stages: cache,
	}, nil
}

func (s *Server) ListenAddr() string {
	if addr := s.Base.Config.Server.ListenAddr; addr != "" {
		return addr
	}
	return s.Base.Env.LISTEN_ADDR
}

func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.ListenAddr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve runs the HTTP API and the trigger consumer until ctx is cancelled,
// Shutdown is called or either of them fails.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.stop = cancel
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.Logger.Info("[SERVER] Listening", slog.String("addr", listener.Addr().String()))
		err := httpServer.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return s.Base.RunConsumer(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Logger.Info("[SERVER] Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.ServerShutdown)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) Shutdown() {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop == nil {
		s.Logger.Error("shutdown failed", slog.String("error", "server not started"))
		return
	}
	stop()
}
