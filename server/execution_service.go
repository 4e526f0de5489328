package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/wang/ast"
	"github.com/chazu/wang/vm"
)

// ExecutionService runs programs in sessions and drives pause, resume and
// abort.
type ExecutionService struct {
	sessions *SessionStore
}

// NewExecutionService creates an ExecutionService.
func NewExecutionService(sessions *SessionStore) *ExecutionService {
	return &ExecutionService{sessions: sessions}
}

// Start decodes a program document and runs it in a session.
func (s *ExecutionService) Start(
	ctx context.Context,
	req *connect.Request[StartRequest],
) (*connect.Response[StateResponse], error) {
	if req.Msg.Program == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("program is required"))
	}
	path := req.Msg.Path
	if path == "" {
		path = "<request>"
	}
	prog, err := ast.DocumentParser{}.Parse(req.Msg.Program, path)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	var session *Session
	if req.Msg.SessionID == "" {
		session = s.sessions.Create("")
	} else if session, err = lookupSession(s.sessions, req.Msg.SessionID); err != nil {
		return nil, err
	}

	interp := session.Interpreter()
	if interp.ExecutionState().Phase == vm.PhasePaused {
		return nil, connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("session %s is paused; resume or abort it first", session.ID))
	}
	pauseAfter(interp, req.Msg.PauseAfter)
	err = session.start(func(i *vm.Interpreter) (any, error) {
		return i.Execute(context.Background(), prog)
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("session %s: %w", session.ID, err))
	}
	return s.finish(ctx, session, req.Msg.Wait)
}

// Pause requests a pause of a running session.
func (s *ExecutionService) Pause(
	ctx context.Context,
	req *connect.Request[ControlRequest],
) (*connect.Response[StateResponse], error) {
	session, err := lookupSession(s.sessions, req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.running() {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("session %s is not running", session.ID))
	}
	session.Interpreter().Pause()
	return s.finish(ctx, session, req.Msg.Wait)
}

// Resume continues a paused session.
func (s *ExecutionService) Resume(
	ctx context.Context,
	req *connect.Request[ControlRequest],
) (*connect.Response[StateResponse], error) {
	session, err := lookupSession(s.sessions, req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	interp := session.Interpreter()
	if phase := interp.ExecutionState().Phase; phase != vm.PhasePaused {
		return nil, connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("session %s is %s, not paused", session.ID, phase))
	}
	pauseAfter(interp, req.Msg.PauseAfter)
	err = session.start(func(i *vm.Interpreter) (any, error) {
		return i.Resume(context.Background())
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("session %s: %w", session.ID, err))
	}
	return s.finish(ctx, session, req.Msg.Wait)
}

// Abort stops a running or paused session.
func (s *ExecutionService) Abort(
	ctx context.Context,
	req *connect.Request[ControlRequest],
) (*connect.Response[StateResponse], error) {
	session, err := lookupSession(s.sessions, req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	interp := session.Interpreter()
	if !session.running() && interp.ExecutionState().Phase != vm.PhasePaused {
		return nil, connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("session %s has nothing to abort", session.ID))
	}
	interp.Abort()
	return s.finish(ctx, session, req.Msg.Wait)
}

// Wait blocks until the session's current run has finished.
func (s *ExecutionService) Wait(
	ctx context.Context,
	req *connect.Request[ControlRequest],
) (*connect.Response[StateResponse], error) {
	session, err := lookupSession(s.sessions, req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, session, true)
}

// State reports a session's execution state without blocking.
func (s *ExecutionService) State(
	ctx context.Context,
	req *connect.Request[ControlRequest],
) (*connect.Response[StateResponse], error) {
	session, err := lookupSession(s.sessions, req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(stateOf(session)), nil
}

func (s *ExecutionService) finish(ctx context.Context, session *Session, wait bool) (*connect.Response[StateResponse], error) {
	if wait {
		if err := session.wait(ctx); err != nil {
			return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
		}
	}
	return connect.NewResponse(stateOf(session)), nil
}

// pauseAfter arms a pause n operations from now.
func pauseAfter(interp *vm.Interpreter, n int64) {
	if n > 0 {
		interp.PauseAfter(interp.ExecutionState().Operations + n)
	}
}

// stateOf converts a session's execution state into a response.
func stateOf(session *Session) *StateResponse {
	st := session.Interpreter().ExecutionState()
	resp := &StateResponse{
		SessionID:  session.ID,
		Phase:      st.Phase,
		Node:       st.Node,
		Operations: st.Operations,
	}
	if session.running() {
		// Started but not yet picked up by the worker.
		resp.Phase = vm.PhaseRunning
		return resp
	}
	for i := range st.CallStack {
		resp.CallStack = append(resp.CallStack, st.CallStack[i].String())
	}
	switch st.Phase {
	case vm.PhaseCompleted:
		resp.Result = exportResult(st.Result)
		resp.Display = vm.Inspect(st.Result)
	case vm.PhaseError:
		if st.Err != nil {
			resp.Error = st.Err.Error()
			var re *vm.RuntimeError
			if errors.As(st.Err, &re) {
				resp.ErrorKind = string(re.Kind)
			}
		}
	}
	return resp
}

func lookupSession(sessions *SessionStore, id string) (*Session, error) {
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	session, ok := sessions.Get(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return session, nil
}
