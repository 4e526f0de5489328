package server

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/wang/ast"
	"github.com/chazu/wang/store"
	"github.com/chazu/wang/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

// hostFunctions are bound into every test interpreter.
var hostFunctions = map[string]vm.HostFunc{
	"double": func(call *vm.Call) (vm.Value, error) {
		n, _ := call.Arg(0).(float64)
		return n * 2, nil
	},
}

// testEnv bundles a server, its store and a client talking to it over HTTP.
type testEnv struct {
	Server *WangServer
	Store  *store.Store
	HTTP   *httptest.Server
	Client *Client
}

// newTestEnv starts an isolated server. Everything is torn down by
// t.Cleanup.
func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	opts = append([]ServerOption{
		WithStore(st),
		WithInterpreterOptions(vm.WithHostFunctions(hostFunctions)),
	}, opts...)
	s := New(opts...)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hs.Close()
		s.Stop()
		st.Close()
	})
	return &testEnv{Server: s, Store: st, HTTP: hs, Client: NewClient(hs.Client(), hs.URL)}
}

// newTestServices builds the services over a fresh session store, without
// HTTP.
func newTestServices(t *testing.T) (*SessionStore, *ExecutionService, *SessionService) {
	t.Helper()
	sessions := NewSessionStore(vm.WithHostFunctions(hostFunctions))
	t.Cleanup(sessions.DestroyAll)
	return sessions, NewExecutionService(sessions), NewSessionService(sessions)
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

func document(t *testing.T, stmts ...ast.Statement) string {
	t.Helper()
	data, err := ast.EncodeJSON(ast.Prog(stmts...))
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	return string(data)
}

// sumProgram adds 0..9 and evaluates to 45.
func sumProgram(t *testing.T) string {
	return document(t,
		ast.Let("total", ast.Num(0)),
		ast.For(ast.Let("i", ast.Num(0)), ast.Bin("<", ast.Ident("i"), ast.Num(10)), ast.Update("++", false, ast.Ident("i")),
			ast.Expr(ast.AssignOp("+=", ast.Ident("total"), ast.Ident("i")))),
		ast.Expr(ast.Ident("total")),
	)
}

// spinProgram never finishes on its own.
func spinProgram(t *testing.T) string {
	return document(t,
		ast.Let("n", ast.Num(0)),
		ast.While(ast.Bool(true), ast.Expr(ast.AssignOp("+=", ast.Ident("n"), ast.Num(1)))),
	)
}

// ---------------------------------------------------------------------------
// Request builder helpers
// ---------------------------------------------------------------------------

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}

// timeout bounds a test step that waits on a run.
func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func wantCode(t *testing.T, err error, code connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", code)
	}
	if got := connect.CodeOf(err); got != code {
		t.Fatalf("error code = %v, want %v (%v)", got, code, err)
	}
}
