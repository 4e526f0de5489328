package server

import (
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/wang/ast"
	"github.com/chazu/wang/vm"
)

// ---------------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------------

func TestStart_RunsToCompletion(t *testing.T) {
	_, svc, _ := newTestServices(t)

	resp, err := svc.Start(timeout(t), connectReq(&StartRequest{Program: sumProgram(t), Wait: true}))
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if resp.Msg.SessionID == "" {
		t.Error("Start should create a session")
	}
	if resp.Msg.Phase != vm.PhaseCompleted {
		t.Fatalf("phase = %s, want completed (%s)", resp.Msg.Phase, resp.Msg.Error)
	}
	if resp.Msg.Result != 45.0 || resp.Msg.Display != "45" {
		t.Errorf("result = %v (%q), want 45", resp.Msg.Result, resp.Msg.Display)
	}
	if resp.Msg.Operations == 0 {
		t.Error("operations should be counted")
	}
}

func TestStart_HostFunctionsAreBound(t *testing.T) {
	_, svc, _ := newTestServices(t)

	prog := document(t, ast.Expr(ast.Call(ast.Ident("double"), ast.Num(21))))
	resp, err := svc.Start(timeout(t), connectReq(&StartRequest{Program: prog, Wait: true}))
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if resp.Msg.Result != 42.0 {
		t.Errorf("result = %v, want 42", resp.Msg.Result)
	}
}

func TestStart_ReusesSession(t *testing.T) {
	sessions, svc, _ := newTestServices(t)
	session := sessions.Create("reuse")

	first := document(t, ast.Var("kept", ast.Num(7)))
	if _, err := svc.Start(timeout(t), connectReq(&StartRequest{SessionID: session.ID, Program: first, Wait: true})); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second := document(t, ast.Expr(ast.Bin("*", ast.Ident("kept"), ast.Num(2))))
	resp, err := svc.Start(timeout(t), connectReq(&StartRequest{SessionID: session.ID, Program: second, Wait: true}))
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if resp.Msg.SessionID != session.ID || resp.Msg.Result != 14.0 {
		t.Errorf("response = %+v, want 14 in session %s", resp.Msg, session.ID)
	}
}

func TestStart_ScriptErrorIsReported(t *testing.T) {
	_, svc, _ := newTestServices(t)

	prog := document(t, ast.Let("total", ast.Num(1)), ast.Expr(ast.Ident("totl")))
	resp, err := svc.Start(timeout(t), connectReq(&StartRequest{Program: prog, Wait: true}))
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if resp.Msg.Phase != vm.PhaseError || resp.Msg.ErrorKind != string(vm.KindUndefinedVariable) {
		t.Errorf("state = %+v, want an UndefinedVariable error", resp.Msg)
	}
	if resp.Msg.Error == "" {
		t.Error("error message should be set")
	}
}

func TestStart_Rejects(t *testing.T) {
	sessions, svc, _ := newTestServices(t)

	_, err := svc.Start(bg(), connectReq(&StartRequest{}))
	wantCode(t, err, connect.CodeInvalidArgument)

	_, err = svc.Start(bg(), connectReq(&StartRequest{Program: `{"type": "Nonsense"}`}))
	wantCode(t, err, connect.CodeInvalidArgument)

	_, err = svc.Start(bg(), connectReq(&StartRequest{SessionID: "missing", Program: sumProgram(t)}))
	wantCode(t, err, connect.CodeNotFound)

	// A paused session must be resumed or aborted first.
	session := sessions.Create("")
	if _, err := svc.Start(timeout(t), connectReq(&StartRequest{SessionID: session.ID, Program: sumProgram(t), PauseAfter: 3, Wait: true})); err != nil {
		t.Fatal(err)
	}
	_, err = svc.Start(bg(), connectReq(&StartRequest{SessionID: session.ID, Program: sumProgram(t)}))
	wantCode(t, err, connect.CodeFailedPrecondition)
}

// ---------------------------------------------------------------------------
// Pause / Resume / Abort
// ---------------------------------------------------------------------------

func TestPauseAfterAndResume(t *testing.T) {
	_, svc, _ := newTestServices(t)

	resp, err := svc.Start(timeout(t), connectReq(&StartRequest{Program: sumProgram(t), PauseAfter: 5, Wait: true}))
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if resp.Msg.Phase != vm.PhasePaused {
		t.Fatalf("phase = %s, want paused", resp.Msg.Phase)
	}
	if len(resp.Msg.CallStack) == 0 {
		t.Error("a paused session should report its call stack")
	}
	if resp.Msg.Operations != 5 {
		t.Errorf("operations = %d, want 5", resp.Msg.Operations)
	}

	id := resp.Msg.SessionID
	resp, err = svc.Resume(timeout(t), connectReq(&ControlRequest{SessionID: id, PauseAfter: 4, Wait: true}))
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if resp.Msg.Phase != vm.PhasePaused || resp.Msg.Operations <= 5 {
		t.Fatalf("state = %+v, want paused again further on", resp.Msg)
	}

	resp, err = svc.Resume(timeout(t), connectReq(&ControlRequest{SessionID: id, Wait: true}))
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if resp.Msg.Phase != vm.PhaseCompleted || resp.Msg.Result != 45.0 {
		t.Errorf("state = %+v, want completed with 45", resp.Msg)
	}

	_, err = svc.Resume(bg(), connectReq(&ControlRequest{SessionID: id}))
	wantCode(t, err, connect.CodeFailedPrecondition)
}

func TestPauseRunningSession(t *testing.T) {
	_, svc, _ := newTestServices(t)

	resp, err := svc.Start(bg(), connectReq(&StartRequest{Program: spinProgram(t)}))
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	id := resp.Msg.SessionID

	state, err := svc.State(bg(), connectReq(&ControlRequest{SessionID: id}))
	if err != nil {
		t.Fatal(err)
	}
	if state.Msg.Phase != vm.PhaseRunning {
		t.Errorf("phase = %s, want running", state.Msg.Phase)
	}

	resp, err = svc.Pause(timeout(t), connectReq(&ControlRequest{SessionID: id, Wait: true}))
	if err != nil {
		t.Fatalf("Pause returned error: %v", err)
	}
	if resp.Msg.Phase != vm.PhasePaused {
		t.Fatalf("phase = %s, want paused", resp.Msg.Phase)
	}
	paused := resp.Msg.Operations

	// Pausing twice is an error: nothing is running.
	_, err = svc.Pause(bg(), connectReq(&ControlRequest{SessionID: id}))
	wantCode(t, err, connect.CodeFailedPrecondition)

	// Resume, let it spin, and abort it.
	if _, err := svc.Resume(bg(), connectReq(&ControlRequest{SessionID: id})); err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	resp, err = svc.Abort(timeout(t), connectReq(&ControlRequest{SessionID: id, Wait: true}))
	if err != nil {
		t.Fatalf("Abort returned error: %v", err)
	}
	if resp.Msg.Phase != vm.PhaseError || resp.Msg.ErrorKind != string(vm.KindAborted) {
		t.Errorf("state = %+v, want aborted", resp.Msg)
	}
	if resp.Msg.Operations < paused {
		t.Errorf("operations went backwards: %d < %d", resp.Msg.Operations, paused)
	}

	_, err = svc.Abort(bg(), connectReq(&ControlRequest{SessionID: id}))
	wantCode(t, err, connect.CodeFailedPrecondition)
}

func TestAbortPausedSession(t *testing.T) {
	_, svc, _ := newTestServices(t)

	resp, err := svc.Start(timeout(t), connectReq(&StartRequest{Program: sumProgram(t), PauseAfter: 2, Wait: true}))
	if err != nil {
		t.Fatal(err)
	}
	resp, err = svc.Abort(bg(), connectReq(&ControlRequest{SessionID: resp.Msg.SessionID}))
	if err != nil {
		t.Fatalf("Abort returned error: %v", err)
	}
	if resp.Msg.Phase != vm.PhaseError || resp.Msg.ErrorKind != string(vm.KindAborted) {
		t.Errorf("state = %+v, want aborted", resp.Msg)
	}
}

func TestWait_IdleSessionReturnsImmediately(t *testing.T) {
	sessions, svc, _ := newTestServices(t)
	session := sessions.Create("")

	resp, err := svc.Wait(timeout(t), connectReq(&ControlRequest{SessionID: session.ID}))
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if resp.Msg.Phase != vm.PhaseIdle {
		t.Errorf("phase = %s, want idle", resp.Msg.Phase)
	}

	_, err = svc.Wait(bg(), connectReq(&ControlRequest{}))
	wantCode(t, err, connect.CodeInvalidArgument)
}
