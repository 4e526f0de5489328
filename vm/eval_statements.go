package vm

import (
	"github.com/chazu/wang/ast"
)

// listPos is where a statement list stopped.
type listPos struct {
	next    int
	pending bool
	last    Value
}

// runList executes stmts[start:] in ctx, taking a checkpoint after every
// statement. When pending is set, the statement at start is being resumed.
func (i *Interpreter) runList(stmts []ast.Statement, ctx *Context, start int, pending bool, last Value) (Completion, listPos) {
	for k := start; k < len(stmts); k++ {
		resumed := pending && k == start
		c := i.execStmt(stmts[k], ctx, nil)
		if resumed && c.Type != Suspend && len(i.cursor) > 0 {
			return Completion{Type: Throw, Err: newError(KindCorruptSnapshot, "statement %d did not consume its captured frames", k)}, listPos{next: k}
		}
		switch c.Type {
		case Normal:
		case Suspend:
			return c, listPos{next: k, pending: true, last: last}
		default:
			return c, listPos{next: k, last: last}
		}
		if _, ok := stmts[k].(*ast.ExpressionStatement); ok {
			last = normalize(c.Value)
		} else {
			last = Undefined
		}
		if err := i.checkpoint(); err != nil {
			if err == errSuspended {
				return Completion{Type: Suspend}, listPos{next: k + 1, last: last}
			}
			return fromError(err), listPos{next: k + 1, last: last}
		}
	}
	return Completion{Type: Normal, Value: last}, listPos{next: len(stmts), last: last}
}

func (i *Interpreter) execStmt(s ast.Statement, ctx *Context, labels []string) Completion {
	i.current = s
	ctx.node = s
	switch n := s.(type) {
	case *ast.ExpressionStatement:
		v, err := i.evalSite(n.Expression, ctx)
		if err != nil {
			return fromError(err)
		}
		return Completion{Type: Normal, Value: v}
	case *ast.VariableDeclaration:
		return i.execDeclaration(n, ctx)
	case *ast.FunctionDeclaration:
		return normal
	case *ast.ClassDeclaration:
		if _, err := i.declareClass(n, ctx); err != nil {
			return fromError(err)
		}
		return normal
	case *ast.ReturnStatement:
		var v Value = Undefined
		if n.Argument != nil {
			var err error
			if v, err = i.evalSite(n.Argument, ctx); err != nil {
				return fromError(err)
			}
		}
		return Completion{Type: Return, Value: v}
	case *ast.IfStatement:
		return i.execIf(n, ctx)
	case *ast.ForStatement:
		return i.execFor(n, ctx, labels)
	case *ast.ForOfStatement:
		return i.execForEach(n, n.Kind, n.Left, n.Right, n.Body, false, ctx, labels)
	case *ast.ForInStatement:
		return i.execForEach(n, n.Kind, n.Left, n.Right, n.Body, true, ctx, labels)
	case *ast.WhileStatement:
		return i.execWhile(n, ctx, labels)
	case *ast.DoWhileStatement:
		return i.execDoWhile(n, ctx, labels)
	case *ast.BreakStatement:
		return Completion{Type: Break, Label: n.Label}
	case *ast.ContinueStatement:
		return Completion{Type: Continue, Label: n.Label}
	case *ast.LabeledStatement:
		inner := append(labels[:len(labels):len(labels)], n.Label)
		c := i.execStmt(n.Body, ctx, inner)
		if c.Type == Break && c.Label == n.Label {
			return normal
		}
		return c
	case *ast.SwitchStatement:
		return i.execSwitch(n, ctx, labels)
	case *ast.TryStatement:
		return i.execTry(n, ctx)
	case *ast.ThrowStatement:
		v, err := i.evalExpr(n.Argument, ctx)
		if err != nil {
			return fromError(err)
		}
		return Completion{Type: Throw, Err: i.annotate(scriptThrow(v), n, ctx)}
	case *ast.BlockStatement:
		return i.execBlock(n, ctx)
	case *ast.EmptyStatement:
		return normal
	case *ast.ImportDeclaration:
		if err := i.execImport(n, ctx); err != nil {
			return fromError(i.annotate(err, n, ctx))
		}
		return normal
	case *ast.ExportNamedDeclaration:
		return i.execExportNamed(n, ctx)
	case *ast.ExportDefaultDeclaration:
		if err := i.execExportDefault(n, ctx); err != nil {
			return fromError(err)
		}
		return normal
	}
	return fromError(i.annotate(newError(KindTypeMismatch, "unsupported statement %s", s.NodeType()), s, ctx))
}

// ---------------------------------------------------------------------------
// Declarations and hoisting
// ---------------------------------------------------------------------------

func (i *Interpreter) execDeclaration(n *ast.VariableDeclaration, ctx *Context) Completion {
	site := len(n.Declarations) == 1
	for _, d := range n.Declarations {
		var v Value = Undefined
		if d.Init != nil {
			var err error
			if site {
				v, err = i.evalSite(d.Init, ctx)
			} else {
				v, err = i.evalExpr(d.Init, ctx)
			}
			if err != nil {
				return fromError(err)
			}
			if c, ok := v.(*Closure); ok && c.Name() == "" {
				c.name = d.ID.Name
			}
		} else if n.Kind == ast.KindConst {
			return fromError(i.annotate(newError(KindTypeMismatch, "missing initializer in const declaration %s", d.ID.Name), d, ctx))
		}
		if err := i.bind(n.Kind, d.ID.Name, v, ctx); err != nil {
			return fromError(i.annotate(err, d, ctx))
		}
	}
	return normal
}

// bind introduces name with a declaration kind.
func (i *Interpreter) bind(kind, name string, v Value, ctx *Context) error {
	switch kind {
	case ast.KindVar:
		ctx.initializeHoisted(name, v)
		return nil
	case ast.KindLet:
		return ctx.Declare(name, MutableBlock, v)
	case ast.KindConst:
		return ctx.Declare(name, Immutable, v)
	case "":
		return ctx.Assign(name, v)
	}
	return newError(KindTypeMismatch, "unknown declaration kind %q", kind)
}

// hoistVars declares every var of a function or module body as
// Uninitialized in fnCtx. Nested functions are not entered.
func (i *Interpreter) hoistVars(stmts []ast.Statement, fnCtx *Context) {
	declare := func(name string) {
		if _, ok := fnCtx.vars[name]; !ok {
			fnCtx.vars[name] = &binding{kind: MutableHoisted, value: Uninitialized}
		}
	}
	var visit func(s ast.Statement)
	visit = func(s ast.Statement) {
		switch n := s.(type) {
		case *ast.VariableDeclaration:
			if n.Kind == ast.KindVar {
				for _, d := range n.Declarations {
					declare(d.ID.Name)
				}
			}
		case *ast.ExportNamedDeclaration:
			if n.Declaration != nil {
				visit(n.Declaration)
			}
		case *ast.BlockStatement:
			for _, c := range n.Body {
				visit(c)
			}
		case *ast.IfStatement:
			visit(n.Consequent)
			if n.Alternate != nil {
				visit(n.Alternate)
			}
		case *ast.ForStatement:
			if n.Init != nil {
				visit(n.Init)
			}
			visit(n.Body)
		case *ast.ForOfStatement:
			if n.Kind == ast.KindVar {
				declare(n.Left.Name)
			}
			visit(n.Body)
		case *ast.ForInStatement:
			if n.Kind == ast.KindVar {
				declare(n.Left.Name)
			}
			visit(n.Body)
		case *ast.WhileStatement:
			visit(n.Body)
		case *ast.DoWhileStatement:
			visit(n.Body)
		case *ast.LabeledStatement:
			visit(n.Body)
		case *ast.SwitchStatement:
			for _, c := range n.Cases {
				for _, st := range c.Consequent {
					visit(st)
				}
			}
		case *ast.TryStatement:
			visit(n.Block)
			if n.Handler != nil {
				visit(n.Handler)
			}
			if n.Finalizer != nil {
				visit(n.Finalizer)
			}
		}
	}
	for _, s := range stmts {
		visit(s)
	}
}

// hoistFunctions creates closures for the function declarations of a
// statement list so they can be called before their statement.
func (i *Interpreter) hoistFunctions(stmts []ast.Statement, ctx *Context) error {
	for _, s := range stmts {
		var (
			fn       *ast.FunctionDeclaration
			exported string
		)
		switch n := s.(type) {
		case *ast.FunctionDeclaration:
			fn = n
		case *ast.ExportNamedDeclaration:
			if d, ok := n.Declaration.(*ast.FunctionDeclaration); ok {
				fn, exported = d, d.ID.Name
			}
		case *ast.ExportDefaultDeclaration:
			if d, ok := n.Declaration.(*ast.FunctionDeclaration); ok && d.ID != nil {
				fn, exported = d, "default"
			}
		}
		if fn == nil || fn.ID == nil {
			continue
		}
		if err := ctx.DeclareFunction(fn.ID.Name, i.makeClosure(fn, ctx)); err != nil {
			return i.annotate(err, fn, ctx)
		}
		if exported != "" {
			ctx.addExport(exported, fn.ID.Name)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Blocks and branches
// ---------------------------------------------------------------------------

func (i *Interpreter) execBlock(n *ast.BlockStatement, ctx *Context) Completion {
	f, err := i.resumeFrame(FrameBlock, n)
	if err != nil {
		return fromError(err)
	}
	var (
		bctx    *Context
		start   int
		pending bool
		last    Value = Undefined
	)
	if f != nil {
		bctx, start, pending, last = f.Context, f.Index, f.Pending, f.Value
	} else {
		bctx = NewContext(ctx)
		if err := i.hoistFunctions(n.Body, bctx); err != nil {
			return fromError(err)
		}
	}
	c, pos := i.runList(n.Body, bctx, start, pending, last)
	if c.Type == Suspend {
		i.capture(&Frame{Kind: FrameBlock, Node: n, Context: bctx, Index: pos.next, Pending: pos.pending, Value: pos.last})
	}
	return c
}

// runBody executes a function body directly in the function scope.
func (i *Interpreter) runBody(body *ast.BlockStatement, fnCtx *Context) Completion {
	f, err := i.resumeFrame(FrameBlock, body)
	if err != nil {
		return fromError(err)
	}
	start, pending := 0, false
	var last Value = Undefined
	if f != nil {
		start, pending, last = f.Index, f.Pending, f.Value
	}
	c, pos := i.runList(body.Body, fnCtx, start, pending, last)
	if c.Type == Suspend {
		i.capture(&Frame{Kind: FrameBlock, Node: body, Context: fnCtx, Index: pos.next, Pending: pos.pending, Value: pos.last})
	}
	return c
}

func (i *Interpreter) execIf(n *ast.IfStatement, ctx *Context) Completion {
	f, err := i.resumeFrame(FrameIf, n)
	if err != nil {
		return fromError(err)
	}
	branch := 0
	if f != nil {
		branch = f.Index
	} else {
		t, err := i.evalExpr(n.Test, ctx)
		if err != nil {
			return fromError(err)
		}
		if !truthy(t) {
			branch = 1
		}
	}
	target := n.Consequent
	if branch == 1 {
		target = n.Alternate
	}
	if target == nil {
		return normal
	}
	c := i.execStmt(target, ctx, nil)
	if c.Type == Suspend {
		i.capture(&Frame{Kind: FrameIf, Node: n, Context: ctx, Index: branch})
	}
	return c
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

// loopSignal folds a body completion into loop control: done reports that
// the loop must stop, returning c.
func loopSignal(c Completion, labels []string) (out Completion, done bool) {
	switch {
	case c.Type == Normal, ownsContinue(c, labels):
		return normal, false
	case ownsBreak(c, labels):
		return normal, true
	}
	return c, true
}

func (i *Interpreter) loopFrame(n ast.Node, ctx *Context, iter, step int) {
	i.capture(&Frame{Kind: FrameLoop, Node: n, Context: ctx, Index: iter, Step: step})
}

// iterationEnd takes the end-of-iteration checkpoint.
func (i *Interpreter) iterationEnd(n ast.Node, ctx *Context, iter int) (Completion, bool) {
	if err := i.checkpoint(); err != nil {
		if err == errSuspended {
			i.loopFrame(n, ctx, iter, loopAtEnd)
		}
		return fromError(err), true
	}
	return normal, false
}

func (i *Interpreter) execFor(n *ast.ForStatement, ctx *Context, labels []string) Completion {
	f, err := i.resumeFrame(FrameLoop, n)
	if err != nil {
		return fromError(err)
	}
	var (
		iterCtx *Context
		iter    int
		entry   = loopFresh
	)
	if f != nil {
		iterCtx, iter, entry = f.Context, f.Index, f.Step
	} else {
		iterCtx, entry = NewContext(ctx), loopInInit
	}
	if entry == loopInInit {
		if n.Init != nil {
			c := i.execStmt(n.Init, iterCtx, nil)
			if c.Type == Suspend {
				i.loopFrame(n, iterCtx, iter, loopInInit)
				return c
			}
			if c.Type != Normal {
				return c
			}
		}
		entry = loopFresh
	}
	for {
		if entry != loopAtEnd {
			if entry == loopFresh && n.Test != nil {
				t, err := i.evalExpr(n.Test, iterCtx)
				if err != nil {
					return fromError(err)
				}
				if !truthy(t) {
					return normal
				}
			}
			c := i.execStmt(n.Body, iterCtx, nil)
			if c.Type == Suspend {
				i.loopFrame(n, iterCtx, iter, loopInBody)
				return c
			}
			if out, done := loopSignal(c, labels); done {
				return out
			}
			iter++
			if c, stop := i.iterationEnd(n, iterCtx, iter); stop {
				return c
			}
		}
		entry = loopFresh
		iterCtx = iterCtx.cloneForIteration()
		if n.Update != nil {
			if _, err := i.evalExpr(n.Update, iterCtx); err != nil {
				return fromError(err)
			}
		}
	}
}

func (i *Interpreter) execWhile(n *ast.WhileStatement, ctx *Context, labels []string) Completion {
	f, err := i.resumeFrame(FrameLoop, n)
	if err != nil {
		return fromError(err)
	}
	iter, entry := 0, loopFresh
	if f != nil {
		iter, entry = f.Index, f.Step
	}
	for {
		if entry != loopInBody {
			t, err := i.evalExpr(n.Test, ctx)
			if err != nil {
				return fromError(err)
			}
			if !truthy(t) {
				return normal
			}
		}
		entry = loopFresh
		c := i.execStmt(n.Body, ctx, nil)
		if c.Type == Suspend {
			i.loopFrame(n, ctx, iter, loopInBody)
			return c
		}
		if out, done := loopSignal(c, labels); done {
			return out
		}
		iter++
		if c, stop := i.iterationEnd(n, ctx, iter); stop {
			return c
		}
	}
}

func (i *Interpreter) execDoWhile(n *ast.DoWhileStatement, ctx *Context, labels []string) Completion {
	f, err := i.resumeFrame(FrameLoop, n)
	if err != nil {
		return fromError(err)
	}
	iter, entry := 0, loopFresh
	if f != nil {
		iter, entry = f.Index, f.Step
	}
	for {
		if entry != loopAtEnd {
			c := i.execStmt(n.Body, ctx, nil)
			if c.Type == Suspend {
				i.loopFrame(n, ctx, iter, loopInBody)
				return c
			}
			if out, done := loopSignal(c, labels); done {
				return out
			}
			iter++
			if c, stop := i.iterationEnd(n, ctx, iter); stop {
				return c
			}
		}
		entry = loopFresh
		t, err := i.evalExpr(n.Test, ctx)
		if err != nil {
			return fromError(err)
		}
		if !truthy(t) {
			return normal
		}
	}
}

// execForEach runs for-of (values) and for-in (keys) loops. The sequence is
// materialized when the loop starts so a paused loop resumes at its exact
// position.
func (i *Interpreter) execForEach(n ast.Statement, kind string, left *ast.Identifier, right ast.Expression, body ast.Statement, keys bool, ctx *Context, labels []string) Completion {
	f, err := i.resumeFrame(FrameLoop, n)
	if err != nil {
		return fromError(err)
	}
	var (
		items   []Value
		idx     int
		entry   = loopFresh
		iterCtx *Context
	)
	if f != nil {
		items, idx, entry, iterCtx = f.Items, f.Index, f.Step, f.Context
	} else {
		coll, err := i.evalExpr(right, ctx)
		if err != nil {
			return fromError(err)
		}
		if keys {
			items, err = enumerateKeys(coll)
		} else {
			items, err = iterate(coll)
		}
		if err != nil {
			return fromError(i.annotate(err, right, ctx))
		}
	}
	for ; idx < len(items); idx++ {
		if entry != loopInBody {
			iterCtx = NewContext(ctx)
			if err := i.bind(kind, left.Name, items[idx], iterCtx); err != nil {
				return fromError(i.annotate(err, left, ctx))
			}
		}
		entry = loopFresh
		c := i.execStmt(body, iterCtx, nil)
		if c.Type == Suspend {
			i.capture(&Frame{Kind: FrameLoop, Node: n, Context: iterCtx, Index: idx, Step: loopInBody, Items: items})
			return c
		}
		if out, done := loopSignal(c, labels); done {
			return out
		}
		if err := i.checkpoint(); err != nil {
			if err == errSuspended {
				i.capture(&Frame{Kind: FrameLoop, Node: n, Context: ctx, Index: idx + 1, Step: loopAtEnd, Items: items})
			}
			return fromError(err)
		}
	}
	return normal
}

// ---------------------------------------------------------------------------
// switch and try
// ---------------------------------------------------------------------------

func (i *Interpreter) execSwitch(n *ast.SwitchStatement, ctx *Context, labels []string) Completion {
	f, err := i.resumeFrame(FrameSwitch, n)
	if err != nil {
		return fromError(err)
	}
	var (
		bctx    *Context
		caseIdx int
		stmtIdx int
		pending bool
	)
	if f != nil {
		bctx, caseIdx, stmtIdx, pending = f.Context, f.Index, f.Step, f.Pending
	} else {
		disc, err := i.evalExpr(n.Discriminant, ctx)
		if err != nil {
			return fromError(err)
		}
		bctx = NewContext(ctx)
		caseIdx = -1
		def := -1
		for k, c := range n.Cases {
			if c.Test == nil {
				def = k
				continue
			}
			v, err := i.evalExpr(c.Test, bctx)
			if err != nil {
				return fromError(err)
			}
			if strictEquals(disc, v) {
				caseIdx = k
				break
			}
		}
		if caseIdx < 0 {
			caseIdx = def
		}
		if caseIdx < 0 {
			return normal
		}
		for _, c := range n.Cases {
			if err := i.hoistFunctions(c.Consequent, bctx); err != nil {
				return fromError(err)
			}
		}
	}
	for ; caseIdx < len(n.Cases); caseIdx++ {
		c, pos := i.runList(n.Cases[caseIdx].Consequent, bctx, stmtIdx, pending, Undefined)
		stmtIdx, pending = 0, false
		if c.Type == Suspend {
			i.capture(&Frame{Kind: FrameSwitch, Node: n, Context: bctx, Index: caseIdx, Step: pos.next, Pending: pos.pending})
			return c
		}
		if ownsBreak(c, labels) {
			return normal
		}
		if c.Type != Normal {
			return c
		}
	}
	return normal
}

func (i *Interpreter) execTry(n *ast.TryStatement, ctx *Context) Completion {
	f, err := i.resumeFrame(FrameTry, n)
	if err != nil {
		return fromError(err)
	}
	phase := tryBlock
	pending := normal
	var catchCtx *Context
	if f != nil {
		phase, catchCtx = f.Step, f.Context
		pending = Completion{Type: f.Completion, Value: f.Value, Label: f.Label}
		if f.Err != nil {
			pending.Err = f.Err
		}
	}
	if phase == tryBlock {
		c := i.execBlock(n.Block, ctx)
		switch {
		case c.Type == Suspend:
			i.capture(&Frame{Kind: FrameTry, Node: n, Context: ctx, Step: tryBlock})
			return c
		case c.Type == Throw && n.Handler != nil && !isAbort(c.Err):
			catchCtx = NewContext(ctx)
			if n.Param != nil {
				if err := catchCtx.Declare(n.Param.Name, MutableBlock, thrownValue(c.Err)); err != nil {
					return fromError(err)
				}
			}
			phase = tryHandler
		default:
			pending, phase = c, tryFinalizer
		}
	}
	if phase == tryHandler {
		c := i.execBlock(n.Handler, catchCtx)
		if c.Type == Suspend {
			i.capture(&Frame{Kind: FrameTry, Node: n, Context: catchCtx, Step: tryHandler})
			return c
		}
		pending = c
	}
	if n.Finalizer == nil {
		return pending
	}
	aborting := pending.Type == Throw && isAbort(pending.Err)
	if aborting {
		i.unwinding++
		i.execBlock(n.Finalizer, ctx)
		i.unwinding--
		return pending
	}
	fc := i.execBlock(n.Finalizer, ctx)
	if fc.Type == Suspend {
		fr := &Frame{Kind: FrameTry, Node: n, Context: ctx, Step: tryFinalizer,
			Completion: pending.Type, Value: pending.Value, Label: pending.Label}
		if pending.Type == Throw {
			fr.Err = asRuntimeError(pending.Err)
		}
		i.capture(fr)
		return fc
	}
	if fc.Type != Normal {
		return fc
	}
	return pending
}

// cloneForIteration copies the bindings of a for-loop scope so closures
// created in one iteration keep that iteration's values.
func (c *Context) cloneForIteration() *Context {
	n := NewContext(c.parent)
	for name, b := range c.vars {
		cp := *b
		n.vars[name] = &cp
	}
	for name, fn := range c.functions {
		n.functions[name] = fn
	}
	for name, cls := range c.classes {
		n.classes[name] = cls
	}
	return n
}
