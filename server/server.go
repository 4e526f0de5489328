// Package server exposes interpreter sessions over Connect (HTTP/JSON):
// run a program, pause it, snapshot it to the store, and restore and
// resume it later.
package server

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/wang/store"
	"github.com/chazu/wang/vm"
)

var log = commonlog.GetLogger("wang.server")

// Service names, as they appear in procedure paths.
const (
	SessionServiceName   = "wang.v1.SessionService"
	ExecutionServiceName = "wang.v1.ExecutionService"
	SnapshotServiceName  = "wang.v1.SnapshotService"
)

// WangServer serves sessions over HTTP.
type WangServer struct {
	sessions *SessionStore
	store    *store.Store
	mux      *http.ServeMux

	stopSweeper func()
}

// ServerOption configures a WangServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store       *store.Store
	vmOptions   []vm.Option
	sweepEvery  time.Duration
	idleTimeout time.Duration
}

// WithStore sets the snapshot store. Without one the snapshot procedures
// answer Unimplemented.
func WithStore(st *store.Store) ServerOption {
	return func(c *serverConfig) { c.store = st }
}

// WithInterpreterOptions sets the options every session interpreter is
// built and restored with: host functions, resolver and engine config.
func WithInterpreterOptions(opts ...vm.Option) ServerOption {
	return func(c *serverConfig) { c.vmOptions = append(c.vmOptions, opts...) }
}

// WithIdleTimeout sets how long an unused, idle session is kept.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.idleTimeout = d }
}

// New creates a WangServer.
func New(opts ...ServerOption) *WangServer {
	cfg := &serverConfig{
		sweepEvery:  5 * time.Minute,
		idleTimeout: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	sessions := NewSessionStore(cfg.vmOptions...)
	s := &WangServer{
		sessions: sessions,
		store:    cfg.store,
		mux:      http.NewServeMux(),
	}

	sessionSvc := NewSessionService(sessions)
	execSvc := NewExecutionService(sessions)
	snapSvc := NewSnapshotService(sessions, cfg.store)

	handle(s.mux, SessionServiceName, "CreateSession", sessionSvc.CreateSession)
	handle(s.mux, SessionServiceName, "DestroySession", sessionSvc.DestroySession)
	handle(s.mux, SessionServiceName, "ListSessions", sessionSvc.ListSessions)

	handle(s.mux, ExecutionServiceName, "Start", execSvc.Start)
	handle(s.mux, ExecutionServiceName, "Pause", execSvc.Pause)
	handle(s.mux, ExecutionServiceName, "Resume", execSvc.Resume)
	handle(s.mux, ExecutionServiceName, "Abort", execSvc.Abort)
	handle(s.mux, ExecutionServiceName, "Wait", execSvc.Wait)
	handle(s.mux, ExecutionServiceName, "State", execSvc.State)

	handle(s.mux, SnapshotServiceName, "Snapshot", snapSvc.Snapshot)
	handle(s.mux, SnapshotServiceName, "Restore", snapSvc.Restore)
	handle(s.mux, SnapshotServiceName, "ListSnapshots", snapSvc.ListSnapshots)
	handle(s.mux, SnapshotServiceName, "DeleteSnapshot", snapSvc.DeleteSnapshot)

	// Sweep idle sessions periodically
	s.stopSweeper = sessions.StartSweeper(cfg.sweepEvery, cfg.idleTimeout)

	return s
}

// procedure returns the path of a service method.
func procedure(service, method string) string {
	return "/" + service + "/" + method
}

func handle[Req, Res any](
	mux *http.ServeMux,
	service, method string,
	fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error),
) {
	path := procedure(service, method)
	mux.Handle(path, connect.NewUnaryHandler(path, fn, connect.WithCodec(jsonCodec{})))
}

// Handler returns the HTTP handler serving every procedure.
func (s *WangServer) Handler() http.Handler {
	return s.mux
}

// Sessions returns the session store.
func (s *WangServer) Sessions() *SessionStore {
	return s.sessions
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *WangServer) ListenAndServe(addr string) error {
	log.Noticef("wang server listening on %s", addr)
	log.Noticef("  Connect (HTTP/JSON): http://%s%s", addr, procedure(ExecutionServiceName, "Start"))
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the server's sessions.
func (s *WangServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.sessions.DestroyAll()
}
