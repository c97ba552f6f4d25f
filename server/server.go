// Package server exposes the compiler and VM over Connect RPC and the
// Language Server Protocol.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/h2co3/sparkling/cache"
	"github.com/h2co3/sparkling/vm"
	"github.com/h2co3/sparkling/vm/dist"
)

var log = commonlog.GetLogger("sparkling.server")

// SparklingServer serves the evaluation procedures over Connect. A single
// port accepts the Connect, gRPC and gRPC-Web protocols.
type SparklingServer struct {
	worker   *VMWorker
	handles  *HandleStore
	sessions *SessionStore
	mux      *http.ServeMux
	http     *http.Server

	stopSweeper func()
}

// ServerOption configures a SparklingServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	cache     *cache.Cache
	policy    *dist.CapabilityPolicy
	handleTTL time.Duration
}

// WithCache makes Compile and Execute reuse programs from c.
func WithCache(c *cache.Cache) ServerOption {
	return func(cfg *serverConfig) { cfg.cache = c }
}

// WithPolicy sets the capability policy applied to compiled sources.
// If not set, a permissive policy (allow all) is used.
func WithPolicy(policy *dist.CapabilityPolicy) ServerOption {
	return func(cfg *serverConfig) { cfg.policy = policy }
}

// WithHandleTTL sets how long an unused program handle is kept.
func WithHandleTTL(ttl time.Duration) ServerOption {
	return func(cfg *serverConfig) { cfg.handleTTL = ttl }
}

// New creates a SparklingServer. v is the reference VM used for completion
// outside sessions, normally with the runtime library loaded; sessions and
// one-shot executions get VMs with the same configuration.
func New(v *vm.VM, opts ...ServerOption) *SparklingServer {
	cfg := &serverConfig{
		policy:    dist.NewPermissivePolicy(),
		handleTTL: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewVMWorker(v)
	handles := NewHandleStore()
	sessions := NewSessionStore(handles, v.Config())

	s := &SparklingServer{
		worker:   worker,
		handles:  handles,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	evalSvc := NewEvalService(worker, handles, sessions, cfg.cache, cfg.policy)
	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, evalSvc.Compile))
	s.mux.Handle(ExecuteProcedure, connect.NewUnaryHandler(ExecuteProcedure, evalSvc.Execute))
	s.mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, evalSvc.Disassemble))
	s.mux.Handle(CreateSessionProcedure, connect.NewUnaryHandler(CreateSessionProcedure, evalSvc.CreateSession))
	s.mux.Handle(DestroySessionProcedure, connect.NewUnaryHandler(DestroySessionProcedure, evalSvc.DestroySession))
	s.mux.Handle(CompleteProcedure, connect.NewUnaryHandler(CompleteProcedure, evalSvc.Complete))

	if cfg.handleTTL <= 0 {
		cfg.handleTTL = 30 * time.Minute
	}
	s.stopSweeper = handles.StartSweeper(cfg.handleTTL/6, cfg.handleTTL)

	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *SparklingServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *SparklingServer) ListenAndServe(addr string) error {
	log.Noticef("Sparkling server listening on %s", addr)
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, ExecuteProcedure)
	s.http = &http.Server{Addr: addr, Handler: s.mux}
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts down the server, its sessions and the reference worker.
func (s *SparklingServer) Stop() {
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			log.Warningf("shutting down http server: %v", err)
		}
	}
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.sessions.DestroyAll()
	s.worker.Stop()
}
