package vm

import (
	"github.com/chazu/wang/ast"
)

// Closure is an interpreted function value: a function node paired with the
// scope it was defined in.
type Closure struct {
	Node ast.Function
	Ctx  *Context
	// Program is the key of the program tree Node belongs to.
	Program string
	// Home is the class a method belongs to.
	Home *Class

	name string
}

// Name returns the declared or inferred name of the function.
func (c *Closure) Name() string { return c.name }

// construction is the instance a constructor call is initializing.
type construction struct {
	class *Class
	inst  *Instance
}

func (i *Interpreter) makeClosure(fn ast.Function, ctx *Context) *Closure {
	c := &Closure{Node: fn, Ctx: ctx, Program: i.currentProgram(), name: fn.FunctionName()}
	if fe, ok := fn.(*ast.FunctionExpression); ok && fe.ID != nil {
		self := NewContext(ctx)
		self.functions[fe.ID.Name] = c
		c.Ctx = self
	}
	return c
}

// callValue calls any callable value.
func (i *Interpreter) callValue(fn, this Value, args []Value, site bool, pos ast.Pos) (Value, error) {
	switch f := fn.(type) {
	case *Closure:
		return i.invoke(f, this, args, site, pos, nil)
	case *HostFunction:
		return i.callHost(f, this, args)
	case *BoundBuiltin:
		return f.fn(i, f.This, args)
	case *Class:
		return nil, newError(KindTypeMismatch, "class constructor %s cannot be invoked without 'new'", f.Name)
	}
	return nil, newError(KindTypeMismatch, "%s is not a function", Inspect(fn))
}

// functionScope builds the scope a call runs in.
func (i *Interpreter) functionScope(c *Closure, this Value, cons *construction) *Context {
	fnCtx := newFunctionContext(c.Ctx)
	if c.Node.IsArrow() {
		return fnCtx
	}
	fnCtx.hasThis = true
	fnCtx.this = normalize(this)
	fnCtx.home = c.Home
	if cons != nil {
		fnCtx.this = cons.inst
		fnCtx.ctorClass = cons.class
		fnCtx.thisPending = cons.class.Super != nil
	}
	return fnCtx
}

// invoke runs a closure. A call in statement position (site) on a frame
// that can itself be captured gets a pausable activation.
func (i *Interpreter) invoke(c *Closure, this Value, args []Value, site bool, pos ast.Pos, cons *construction) (Value, error) {
	if len(i.frames) >= i.cfg.MaxCallDepth {
		return nil, newError(KindCallDepth, "maximum call depth of %d exceeded calling %s", i.cfg.MaxCallDepth, c.Name())
	}
	fnCtx := i.functionScope(c, this, cons)
	a := &activation{
		name:     c.Name(),
		closure:  c,
		program:  c.Program,
		ctx:      fnCtx,
		callPos:  pos,
		pausable: site && i.maySuspend && i.pausable(),
	}
	i.frames = append(i.frames, a)
	defer i.popFrame()

	if err := i.bindParams(c, fnCtx, args); err != nil {
		return nil, err
	}
	if expr := c.Node.ConciseBody(); expr != nil {
		return i.evalExpr(expr, fnCtx)
	}
	body := c.Node.FunctionBody()
	if body == nil {
		return Undefined, nil
	}
	i.hoistVars(body.Body, fnCtx)
	if err := i.hoistFunctions(body.Body, fnCtx); err != nil {
		return nil, err
	}
	if err := i.checkpoint(); err != nil {
		if err == errSuspended {
			i.capture(&Frame{Kind: FrameBlock, Node: body, Context: fnCtx, Value: Undefined})
			i.capture(i.callFrame(a))
		}
		return nil, err
	}
	v, err := i.finishCall(a, i.runBody(body, fnCtx))
	if err != nil {
		return nil, err
	}
	if cons != nil && fnCtx.thisPending {
		return nil, newError(KindSuperNotCalled, "%s must call super constructor before returning", cons.class.Name)
	}
	return v, nil
}

// resumeCall re-enters the call frame at the head of the resume cursor.
func (i *Interpreter) resumeCall() (Value, error) {
	f := i.cursor[0]
	i.cursor = i.cursor[1:]
	if f.Callee == nil || f.Context == nil {
		return nil, newError(KindCorruptSnapshot, "call frame %s has no callee", f)
	}
	body := f.Callee.Node.FunctionBody()
	if body == nil {
		return nil, newError(KindCorruptSnapshot, "call frame %s has no body", f)
	}
	a := &activation{
		name:     f.Name,
		closure:  f.Callee,
		program:  f.Callee.Program,
		ctx:      f.Context,
		pausable: true,
	}
	i.frames = append(i.frames, a)
	defer i.popFrame()
	return i.finishCall(a, i.runBody(body, f.Context))
}

func (i *Interpreter) popFrame() {
	i.frames = i.frames[:len(i.frames)-1]
}

// finishCall turns a body completion into a call result.
func (i *Interpreter) finishCall(a *activation, c Completion) (Value, error) {
	switch c.Type {
	case Suspend:
		i.capture(i.callFrame(a))
		return nil, errSuspended
	case Throw:
		return nil, c.Err
	case Return:
		return normalize(c.Value), nil
	}
	return Undefined, nil
}

func (i *Interpreter) bindParams(c *Closure, fnCtx *Context, args []Value) error {
	for k, p := range c.Node.FunctionParams() {
		if p.Rest {
			rest := NewArray()
			if k < len(args) {
				rest.Elems = append(rest.Elems, args[k:]...)
			}
			return fnCtx.Declare(p.Name, MutableBlock, rest)
		}
		var v Value = Undefined
		if k < len(args) {
			v = normalize(args[k])
		}
		if v == Undefined && p.Default != nil {
			var err error
			if v, err = i.evalExpr(p.Default, fnCtx); err != nil {
				return err
			}
		}
		if err := fnCtx.Declare(p.Name, MutableBlock, v); err != nil {
			return i.annotate(err, p, fnCtx)
		}
	}
	return nil
}

// await settles a host future. On the synchronous path a future that is
// still pending cannot be waited for.
func (i *Interpreter) await(v Value) (Value, error) {
	f, ok := v.(*Future)
	if !ok {
		return v, nil
	}
	if !f.Settled() && !i.maySuspend {
		return nil, newError(KindUnsupportedSyncCallback, "cannot wait for a pending host value inside a synchronous callback")
	}
	select {
	case <-f.done:
	case <-i.ctx.Done():
		return nil, i.abortError(i.ctx.Err())
	case <-i.abortCh:
		return nil, i.abortError(nil)
	}
	r, err := f.Result()
	if err != nil {
		return nil, asRuntimeError(err)
	}
	return r, nil
}

// invokeSync calls fn on the synchronous path used by host callbacks and
// intrinsics: pauses are deferred and pending futures fail.
func (i *Interpreter) invokeSync(fn, this Value, args []Value) (Value, error) {
	saved := i.maySuspend
	i.maySuspend = false
	defer func() { i.maySuspend = saved }()
	if !isCallable(fn) {
		return nil, newError(KindTypeMismatch, "%s is not a function", Inspect(fn))
	}
	var pos ast.Pos
	if i.current != nil {
		pos = i.current.Position()
	}
	v, err := i.callValue(fn, this, args, false, pos)
	if err != nil {
		return nil, err
	}
	return i.await(v)
}
