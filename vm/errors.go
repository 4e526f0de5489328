package vm

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/wang/ast"
)

// Sentinel errors, one per error kind. A *RuntimeError matches the sentinel
// of its Kind under errors.Is.
var (
	ErrUndefinedVariable       = errors.New("undefined variable")
	ErrConstReassignment       = errors.New("assignment to constant")
	ErrDuplicateDeclaration    = errors.New("duplicate declaration")
	ErrNullishAccess           = errors.New("member access on null or undefined")
	ErrTypeMismatch            = errors.New("type mismatch")
	ErrModuleNotFound          = errors.New("module not found")
	ErrCircularDependency      = errors.New("circular dependency")
	ErrDivisionByZero          = errors.New("division by zero")
	ErrAborted                 = errors.New("execution aborted")
	ErrCorruptSnapshot         = errors.New("corrupt snapshot")
	ErrScriptThrow             = errors.New("uncaught script exception")
	ErrSuperNotCalled          = errors.New("super constructor not called")
	ErrUnsupportedSyncCallback = errors.New("suspension inside synchronous callback")
	ErrCallDepth               = errors.New("maximum call depth exceeded")
)

// ErrPaused is returned by Execute and Resume when execution stopped at a
// checkpoint because a pause was requested. It is not a failure; the
// interpreter is left in the paused phase.
var ErrPaused = errors.New("vm: execution paused")

// ErrorKind classifies a RuntimeError.
type ErrorKind string

const (
	KindUndefinedVariable       ErrorKind = "UndefinedVariable"
	KindConstReassignment       ErrorKind = "ConstReassignment"
	KindDuplicateDeclaration    ErrorKind = "DuplicateDeclaration"
	KindNullishAccess           ErrorKind = "NullishAccess"
	KindTypeMismatch            ErrorKind = "TypeMismatch"
	KindModuleNotFound          ErrorKind = "ModuleNotFound"
	KindCircularDependency      ErrorKind = "CircularDependency"
	KindDivisionByZero          ErrorKind = "DivisionByZero"
	KindAborted                 ErrorKind = "Aborted"
	KindCorruptSnapshot         ErrorKind = "CorruptSnapshot"
	KindScriptThrow             ErrorKind = "ScriptThrow"
	KindSuperNotCalled          ErrorKind = "SuperNotCalled"
	KindUnsupportedSyncCallback ErrorKind = "UnsupportedSyncCallback"
	KindCallDepth               ErrorKind = "CallDepthExceeded"
)

var kindSentinels = map[ErrorKind]error{
	KindUndefinedVariable:       ErrUndefinedVariable,
	KindConstReassignment:       ErrConstReassignment,
	KindDuplicateDeclaration:    ErrDuplicateDeclaration,
	KindNullishAccess:           ErrNullishAccess,
	KindTypeMismatch:            ErrTypeMismatch,
	KindModuleNotFound:          ErrModuleNotFound,
	KindCircularDependency:      ErrCircularDependency,
	KindDivisionByZero:          ErrDivisionByZero,
	KindAborted:                 ErrAborted,
	KindCorruptSnapshot:         ErrCorruptSnapshot,
	KindScriptThrow:             ErrScriptThrow,
	KindSuperNotCalled:          ErrSuperNotCalled,
	KindUnsupportedSyncCallback: ErrUnsupportedSyncCallback,
	KindCallDepth:               ErrCallDepth,
}

// StackEntry is one line of a script stack trace.
type StackEntry struct {
	Function string  `json:"function"`
	Module   string  `json:"module"`
	Pos      ast.Pos `json:"pos"`
}

func (s StackEntry) String() string {
	name := s.Function
	if name == "" {
		name = "<anonymous>"
	}
	if s.Pos.IsZero() {
		return fmt.Sprintf("at %s (%s)", name, s.Module)
	}
	return fmt.Sprintf("at %s (%s:%d:%d)", name, s.Module, s.Pos.Line, s.Pos.Column)
}

// RuntimeError is the single structured error a host receives when a script
// fails. Errors reaching the host from Execute or Resume are enriched with
// the variables visible at the failure site, a stack trace and, for name
// resolution failures, nearest-name suggestions.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
	Module  string
	Pos     ast.Pos

	// Thrown is the script value carried by a ScriptThrow.
	Thrown Value

	// Name is the unresolved identifier of an UndefinedVariable error.
	Name string

	Variables   map[string]Value
	Stack       []StackEntry
	Suggestions []string

	Err error

	ctx      *Context
	enriched bool
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if !e.Pos.IsZero() {
		fmt.Fprintf(&b, " (%s:%d:%d)", e.Module, e.Pos.Line, e.Pos.Column)
	}
	if len(e.Suggestions) > 0 {
		fmt.Fprintf(&b, "; did you mean %s?", strings.Join(e.Suggestions, ", "))
	}
	return b.String()
}

// Unwrap returns the underlying host error, if any.
func (e *RuntimeError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *RuntimeError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// StackTrace renders the stack one frame per line, innermost first.
func (e *RuntimeError) StackTrace() string {
	lines := make([]string, len(e.Stack))
	for i, s := range e.Stack {
		lines[i] = s.String()
	}
	return strings.Join(lines, "\n")
}

func newError(kind ErrorKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func undefinedVariable(name string) *RuntimeError {
	e := newError(KindUndefinedVariable, "%s is not defined", name)
	e.Name = name
	return e
}

// asRuntimeError converts any error surfacing from evaluation into a
// *RuntimeError. Host errors become catchable script exceptions.
func asRuntimeError(err error) *RuntimeError {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re
	}
	return &RuntimeError{Kind: KindScriptThrow, Message: err.Error(), Err: err}
}

// thrownValue is the value a catch clause binds for err.
func thrownValue(err error) Value {
	re := asRuntimeError(err)
	if re.Kind == KindScriptThrow && re.Thrown != nil {
		return re.Thrown
	}
	name := string(re.Kind)
	if re.Kind == KindScriptThrow {
		name = "Error"
	}
	return NewObject(map[string]Value{"name": name, "message": re.Message})
}

// enrich fills in the diagnostic fields of a top-level error.
func (e *RuntimeError) enrich() {
	if e.enriched {
		return
	}
	e.enriched = true
	if e.ctx == nil {
		return
	}
	e.Variables = e.ctx.Snapshot()
	if e.Kind == KindUndefinedVariable && e.Name != "" {
		e.Suggestions = suggest(e.Name, e.ctx.VisibleNames())
	}
}

func isAbort(err error) bool { return errors.Is(err, ErrAborted) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// scriptThrow wraps a value thrown by a throw statement.
func scriptThrow(v Value) *RuntimeError {
	e := newError(KindScriptThrow, "%s", Inspect(v))
	e.Thrown = normalize(v)
	return e
}
