package server

import (
	"fmt"
	"sync"

	"github.com/chazu/wang/vm"
)

// vmRequest represents a unit of work to be executed on the worker goroutine.
type vmRequest struct {
	fn   func(*vm.Interpreter) (any, error)
	done chan vmResult
}

// vmResult holds the return value from an interpreter operation.
type vmResult struct {
	value any
	err   error
}

// VMWorker serializes access to one interpreter through a single goroutine.
// An interpreter runs one program at a time; Execute, Resume and Serialize
// must go through the worker. Pause, Abort and ExecutionState are safe from
// any goroutine and use Interpreter directly.
type VMWorker struct {
	interp   *vm.Interpreter
	requests chan vmRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(interp *vm.Interpreter) *VMWorker {
	w := &VMWorker{
		interp:   interp,
		requests: make(chan vmRequest, 16),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the interpreter, recovering from panics.
func (w *VMWorker) execute(fn func(*vm.Interpreter) (any, error)) (result vmResult) {
	defer func() {
		if r := recover(); r != nil {
			result.err = fmt.Errorf("%v", r)
		}
	}()
	result.value, result.err = fn(w.interp)
	return result
}

// Do submits a function for execution on the worker goroutine and blocks
// until it completes.
func (w *VMWorker) Do(fn func(*vm.Interpreter) (any, error)) (any, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, errWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, errWorkerStopped
	}
}

// Stop shuts down the worker goroutine.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

// Interpreter returns the underlying interpreter, for the calls that are
// safe while it runs.
func (w *VMWorker) Interpreter() *vm.Interpreter {
	return w.interp
}
