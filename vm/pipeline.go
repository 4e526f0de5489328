package vm

import (
	"github.com/chazu/wang/ast"
)

// evalPipeline evaluates x |> stage and x -> sink. Every stage runs, left to
// right, and a stage returning a host future is waited for before the next.
func (i *Interpreter) evalPipeline(n *ast.PipelineExpression, ctx *Context) (Value, error) {
	x, err := i.evalExpr(n.Left, ctx)
	if err != nil {
		return nil, err
	}
	switch n.Operator {
	case ast.PipeForward:
		return i.pipeForward(x, n.Right, ctx)
	case ast.PipeSink:
		return i.pipeSink(x, n.Right, ctx)
	}
	return nil, newError(KindTypeMismatch, "unknown pipeline operator %s", n.Operator)
}

// pipeForward feeds x into a call. A placeholder among the arguments takes
// the value; otherwise it becomes the first argument. A stage that is not a
// call is called with x alone, unless it uses the placeholder itself.
func (i *Interpreter) pipeForward(x Value, stage ast.Expression, ctx *Context) (Value, error) {
	i.pipe = append(i.pipe, x)
	defer func() { i.pipe = i.pipe[:len(i.pipe)-1] }()

	switch s := stage.(type) {
	case *ast.CallExpression:
		var lead []Value
		if !hasPlaceholderArg(s.Arguments) {
			lead = []Value{x}
		}
		v, short, err := i.evalCallWith(s, ctx, false, lead)
		if err != nil {
			return nil, i.annotate(err, s, ctx)
		}
		if short {
			return Undefined, nil
		}
		return v, nil
	case *ast.Identifier, *ast.MemberExpression:
		return i.callStage(x, stage, ctx)
	}
	if usesPlaceholder(stage) {
		return i.evalExpr(stage, ctx)
	}
	fn, err := i.evalExpr(stage, ctx)
	if err != nil {
		return nil, err
	}
	return i.applyStage(fn, Undefined, x, stage, ctx)
}

// pipeSink feeds x into a receiving expression. A name or member that does
// not hold a function receives x by assignment; a function is called with
// x; any other expression is evaluated with the placeholder bound to x.
func (i *Interpreter) pipeSink(x Value, stage ast.Expression, ctx *Context) (Value, error) {
	i.pipe = append(i.pipe, x)
	defer func() { i.pipe = i.pipe[:len(i.pipe)-1] }()

	switch stage.(type) {
	case *ast.Identifier, *ast.MemberExpression:
		ref, err := i.resolveRef(stage, ctx)
		if err != nil {
			return nil, i.annotate(err, stage, ctx)
		}
		cur, err := i.getRef(ref)
		if err != nil {
			return nil, i.annotate(err, stage, ctx)
		}
		if isCallable(cur) {
			this := Value(Undefined)
			if ref.ctx == nil {
				this = ref.obj
			}
			return i.applyStage(cur, this, x, stage, ctx)
		}
		if err := i.setRef(ref, x); err != nil {
			return nil, i.annotate(err, stage, ctx)
		}
		return x, nil
	}
	v, err := i.evalExpr(stage, ctx)
	if err != nil {
		return nil, err
	}
	if isCallable(v) {
		return i.applyStage(v, Undefined, x, stage, ctx)
	}
	return v, nil
}

func (i *Interpreter) callStage(x Value, stage ast.Expression, ctx *Context) (Value, error) {
	fn, this, short, err := i.resolveCallee(stage, ctx)
	if err != nil {
		return nil, i.annotate(err, stage, ctx)
	}
	if short {
		return Undefined, nil
	}
	return i.applyStage(fn, this, x, stage, ctx)
}

func (i *Interpreter) applyStage(fn, this, x Value, stage ast.Expression, ctx *Context) (Value, error) {
	if !isCallable(fn) {
		return nil, i.annotate(newError(KindTypeMismatch, "pipeline stage %s is not a function", calleeName(stage)), stage, ctx)
	}
	v, err := i.callValue(fn, this, []Value{x}, false, stage.Position())
	if err != nil {
		return nil, i.annotate(err, stage, ctx)
	}
	return i.await(v)
}

// placeholder is the value of _ inside the innermost pipeline stage.
func (i *Interpreter) placeholder() (Value, error) {
	if len(i.pipe) == 0 {
		return nil, newError(KindTypeMismatch, "placeholder used outside of a pipeline")
	}
	return i.pipe[len(i.pipe)-1], nil
}

func hasPlaceholderArg(args []ast.Expression) bool {
	for _, a := range args {
		if _, ok := a.(*ast.Placeholder); ok {
			return true
		}
	}
	return false
}

// usesPlaceholder reports whether e refers to the piped value outside of
// nested functions and nested pipelines.
func usesPlaceholder(e ast.Expression) bool {
	found := false
	ast.Walk(e, func(n ast.Node) bool {
		if found {
			return false
		}
		switch n.(type) {
		case *ast.Placeholder:
			found = true
			return false
		case *ast.PipelineExpression, *ast.FunctionExpression, *ast.ArrowFunctionExpression:
			return n == ast.Node(e)
		}
		return true
	})
	return found
}
