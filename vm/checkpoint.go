package vm

import (
	"fmt"

	"github.com/chazu/wang/ast"
)

// ---------------------------------------------------------------------------
// Frames: the captured call stack of a paused execution
// ---------------------------------------------------------------------------

// FrameKind tags a captured frame.
type FrameKind string

const (
	FrameBlock  FrameKind = "block"
	FrameLoop   FrameKind = "loop"
	FrameIf     FrameKind = "if"
	FrameTry    FrameKind = "try"
	FrameSwitch FrameKind = "switch"
	FrameCall   FrameKind = "call"
)

// Loop progress.
const (
	loopFresh  = -1
	loopInBody = 0
	loopAtEnd  = 1
	loopInInit = 2
)

// Try progress.
const (
	tryBlock     = 0
	tryHandler   = 1
	tryFinalizer = 2
)

// Frame is one entry of a paused call stack, outermost first. Every frame
// names the construct that was active (Program and NodeID locate it in the
// program tree), the scope it was running in, and the progress needed to
// continue it.
type Frame struct {
	Kind    FrameKind
	Name    string
	Program string
	NodeID  int
	Node    ast.Node
	Context *Context

	// Index is the next statement of a block, the iteration of a loop, the
	// branch of an if, or the case of a switch.
	Index int
	// Step is the loop phase, the try phase, or the statement within a
	// switch case.
	Step int
	// Pending marks that the statement at Index was suspended part way and
	// must be re-entered rather than started.
	Pending bool

	// Items is the materialized sequence of a for-of or for-in loop.
	Items []Value

	// Callee is the closure running in a call frame.
	Callee *Closure

	// Value is the completion value carried by a block, or the value of
	// the completion a finally block is holding.
	Value Value

	// Completion and Label describe the completion a finally block is
	// holding; Err carries it when it is a throw.
	Completion CompletionType
	Label      string
	Err        *RuntimeError
}

func (f *Frame) String() string {
	s := fmt.Sprintf("%s %s#%d", f.Kind, f.Program, f.NodeID)
	if f.Name != "" {
		s = fmt.Sprintf("%s %s (%s#%d)", f.Kind, f.Name, f.Program, f.NodeID)
	}
	if f.Node != nil {
		if pos := f.Node.Position(); !pos.IsZero() {
			s += fmt.Sprintf(" at %d:%d", pos.Line, pos.Column)
		}
	}
	return s
}

// capture records a frame while a Suspend completion unwinds. Frames arrive
// innermost first; run reverses them once the unwind reaches the top.
func (i *Interpreter) capture(f *Frame) {
	f.Program, f.NodeID = i.locate(f.Node)
	i.captured = append(i.captured, f)
}

func (i *Interpreter) callFrame(a *activation) *Frame {
	return &Frame{
		Kind:    FrameCall,
		Name:    a.name,
		Node:    a.closure.Node,
		Context: a.ctx,
		Callee:  a.closure,
	}
}

// resumeFrame pops the next captured frame when a resume is replaying the
// stack. It returns nil when execution is not resuming.
func (i *Interpreter) resumeFrame(kind FrameKind, node ast.Node) (*Frame, error) {
	if len(i.cursor) == 0 {
		return nil, nil
	}
	f := i.cursor[0]
	if f.Kind != kind || f.Node != node {
		return nil, newError(KindCorruptSnapshot, "expected %s frame for %s, found %s", kind, node.NodeType(), f)
	}
	i.cursor = i.cursor[1:]
	return f, nil
}

func (i *Interpreter) resumingCall() bool {
	return len(i.cursor) > 0 && i.cursor[0].Kind == FrameCall
}

// ---------------------------------------------------------------------------
// Checkpoints
// ---------------------------------------------------------------------------

// checkpoint is called at the end of every statement in a block, at the end
// of every loop iteration and on function entry. It advances the operation
// counter and, every CheckpointInterval operations, polls for abort and
// pause. A pause is only taken when the active frame can be captured;
// otherwise it stays requested.
func (i *Interpreter) checkpoint() error {
	n := i.ops.Add(1)
	if i.unwinding > 0 {
		return nil
	}
	if iv := i.cfg.CheckpointInterval; iv > 1 && n%iv != 0 {
		return nil
	}
	if i.abortRequested.Load() {
		return i.abortError(nil)
	}
	if err := i.ctx.Err(); err != nil {
		return i.abortError(err)
	}
	if at := i.pauseAt.Load(); at > 0 && n >= at {
		i.pauseAt.Store(0)
		i.pauseRequested.Store(true)
	}
	if i.pauseRequested.Load() && i.pausable() {
		i.pauseRequested.Store(false)
		log.Debugf("pause taken at operation %d", n)
		return errSuspended
	}
	return nil
}

// pausable reports whether a pause taken now could be captured and resumed.
func (i *Interpreter) pausable() bool {
	if !i.maySuspend {
		return false
	}
	if len(i.frames) == 0 {
		return true
	}
	return i.frames[len(i.frames)-1].pausable
}

func (i *Interpreter) abortError(cause error) *RuntimeError {
	e := newError(KindAborted, "execution aborted")
	e.Err = cause
	return e
}
