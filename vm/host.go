package vm

import (
	"context"
	"fmt"
	"sync"
)

// HostFunc is a host-native callable bound into the root scope. It may
// return a plain value or a *Future.
type HostFunc func(call *Call) (Value, error)

// HostFunction is a named host callable.
type HostFunction struct {
	Name string
	Fn   HostFunc
}

// Call carries the arguments of a host function invocation.
type Call struct {
	Context context.Context
	This    Value
	Args    []Value

	interp *Interpreter
}

// Arg returns argument n, or undefined.
func (c *Call) Arg(n int) Value {
	if n < len(c.Args) {
		return normalize(c.Args[n])
	}
	return Undefined
}

// Invoke calls a script function from the host. The call runs on the
// synchronous path: it cannot be paused and fails UnsupportedSyncCallback
// if it waits for a host value that is still pending.
func (c *Call) Invoke(fn Value, args ...Value) (Value, error) {
	return c.interp.invokeSync(fn, Undefined, args)
}

// Interpreter returns the interpreter running the call.
func (c *Call) Interpreter() *Interpreter { return c.interp }

func (i *Interpreter) callHost(f *HostFunction, this Value, args []Value) (Value, error) {
	call := &Call{Context: i.ctx, This: this, Args: args, interp: i}
	v, err := f.Fn(call)
	if err != nil {
		if re, ok := err.(*RuntimeError); ok {
			return nil, re
		}
		return nil, &RuntimeError{Kind: KindScriptThrow, Message: fmt.Sprintf("%s: %v", f.Name, err), Err: err}
	}
	if v == nil {
		return Undefined, nil
	}
	return ToValue(v), nil
}

// missingHost stands in for a host function recorded in a snapshot but not
// supplied at restore.
func missingHost(name string) *HostFunction {
	return &HostFunction{Name: name, Fn: func(*Call) (Value, error) {
		return nil, newError(KindTypeMismatch, "host function %s was not supplied when the snapshot was restored", name)
	}}
}

// ---------------------------------------------------------------------------
// Futures
// ---------------------------------------------------------------------------

// Future is a host asynchronous value. The evaluator waits for it wherever
// the result of a call is used.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value Value
	err   error
}

// NewFuture returns an unsettled future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve settles the future with a value. Later settlements are ignored.
func (f *Future) Resolve(v Value) {
	f.once.Do(func() {
		f.value = ToValue(v)
		close(f.done)
	})
}

// Reject settles the future with an error, which the script sees as a
// thrown exception.
func (f *Future) Reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Settled reports whether the future has a result.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done is closed when the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the settled value or error. It does not block; an
// unsettled future returns undefined.
func (f *Future) Result() (Value, error) {
	if !f.Settled() {
		return Undefined, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return normalize(f.value), nil
}

// Go runs fn on its own goroutine and returns a future for its result.
func Go(ctx context.Context, fn func(context.Context) (Value, error)) *Future {
	f := NewFuture()
	go func() {
		v, err := fn(ctx)
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(v)
	}()
	return f
}
