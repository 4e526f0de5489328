package vm

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/chazu/wang/ast"
)

// annotate attaches the failure site to a runtime error the first time it
// passes through an expression or statement.
func (i *Interpreter) annotate(err error, n ast.Node, ctx *Context) error {
	if err == nil || err == errSuspended {
		return err
	}
	re := asRuntimeError(err)
	if re.ctx != nil {
		return re
	}
	re.ctx = ctx
	if n != nil {
		re.Pos = n.Position()
	}
	re.Module = i.currentProgram()
	re.Stack = i.stackTrace(re.Pos)
	return re
}

func (i *Interpreter) stackTrace(pos ast.Pos) []StackEntry {
	out := make([]StackEntry, 0, len(i.frames)+1)
	for k := len(i.frames) - 1; k >= 0; k-- {
		a := i.frames[k]
		out = append(out, StackEntry{Function: a.name, Module: a.program, Pos: pos})
		pos = a.callPos
	}
	return append(out, StackEntry{Function: i.root, Module: i.root, Pos: pos})
}

// siteCall unwraps a call in statement position: f(...) or await f(...).
func siteCall(e ast.Expression) (*ast.CallExpression, bool) {
	if a, ok := e.(*ast.AwaitExpression); ok {
		e = a.Argument
	}
	call, ok := e.(*ast.CallExpression)
	if !ok {
		return nil, false
	}
	if _, isSuper := call.Callee.(*ast.SuperExpression); isSuper {
		return nil, false
	}
	return call, true
}

// evalSite evaluates the expression of a statement. Calls in statement
// position (the whole expression, the right side of an assignment to a
// name) run on a frame that can be paused and resumed.
func (i *Interpreter) evalSite(e ast.Expression, ctx *Context) (Value, error) {
	if a, ok := e.(*ast.AssignmentExpression); ok && a.Operator == "=" {
		if id, ok := a.Left.(*ast.Identifier); ok {
			if _, ok := siteCall(a.Right); ok {
				v, err := i.evalSiteCall(a.Right, ctx)
				if err != nil {
					return nil, err
				}
				if err := ctx.Assign(id.Name, v); err != nil {
					return nil, i.annotate(err, a, ctx)
				}
				return v, nil
			}
		}
	}
	if _, ok := siteCall(e); ok {
		return i.evalSiteCall(e, ctx)
	}
	return i.evalExpr(e, ctx)
}

func (i *Interpreter) evalSiteCall(e ast.Expression, ctx *Context) (Value, error) {
	call, _ := siteCall(e)
	if i.resumingCall() {
		v, err := i.resumeCall()
		if err != nil {
			return nil, i.annotate(err, call, ctx)
		}
		return i.await(v)
	}
	v, err := i.evalCall(call, ctx, true)
	if err != nil {
		return nil, i.annotate(err, call, ctx)
	}
	return v, nil
}

// evalExpr evaluates an expression.
func (i *Interpreter) evalExpr(e ast.Expression, ctx *Context) (Value, error) {
	v, err := i.eval(e, ctx)
	if err != nil {
		return nil, i.annotate(err, e, ctx)
	}
	return v, nil
}

func (i *Interpreter) eval(e ast.Expression, ctx *Context) (Value, error) {
	switch n := e.(type) {
	case *ast.Identifier:
		v, err := ctx.read(n.Name)
		if err != nil {
			return nil, err
		}
		return normalize(v), nil
	case *ast.NumberLiteral:
		return n.Value, nil
	case *ast.StringLiteral:
		return n.Value, nil
	case *ast.BooleanLiteral:
		return n.Value, nil
	case *ast.NullLiteral:
		return Null, nil
	case *ast.UndefinedLiteral:
		return Undefined, nil
	case *ast.TemplateLiteral:
		return i.evalTemplate(n, ctx)
	case *ast.ArrayExpression:
		elems, err := i.evalList(n.Elements, ctx)
		if err != nil {
			return nil, err
		}
		return NewArray(elems...), nil
	case *ast.ObjectExpression:
		return i.evalObject(n, ctx)
	case *ast.FunctionExpression:
		return i.makeClosure(n, ctx), nil
	case *ast.ArrowFunctionExpression:
		return i.makeClosure(n, ctx), nil
	case *ast.UnaryExpression:
		return i.evalUnary(n, ctx)
	case *ast.UpdateExpression:
		return i.evalUpdate(n, ctx)
	case *ast.BinaryExpression:
		l, err := i.evalExpr(n.Left, ctx)
		if err != nil {
			return nil, err
		}
		r, err := i.evalExpr(n.Right, ctx)
		if err != nil {
			return nil, err
		}
		return binaryOp(n.Operator, l, r)
	case *ast.LogicalExpression:
		return i.evalLogical(n, ctx)
	case *ast.AssignmentExpression:
		return i.evalAssign(n, ctx)
	case *ast.ConditionalExpression:
		t, err := i.evalExpr(n.Test, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(t) {
			return i.evalExpr(n.Consequent, ctx)
		}
		return i.evalExpr(n.Alternate, ctx)
	case *ast.MemberExpression:
		v, _, err := i.evalChain(n, ctx)
		return v, err
	case *ast.CallExpression:
		return i.evalCall(n, ctx, false)
	case *ast.NewExpression:
		return i.evalNew(n, ctx)
	case *ast.ThisExpression:
		return i.thisValue(ctx)
	case *ast.SuperExpression:
		return nil, newError(KindTypeMismatch, "'super' keyword unexpected here")
	case *ast.AwaitExpression:
		v, err := i.evalExpr(n.Argument, ctx)
		if err != nil {
			return nil, err
		}
		return i.await(v)
	case *ast.PipelineExpression:
		return i.evalPipeline(n, ctx)
	case *ast.Placeholder:
		return i.placeholder()
	case *ast.SpreadElement:
		return nil, newError(KindTypeMismatch, "spread is not allowed here")
	}
	return nil, newError(KindTypeMismatch, "unsupported expression %s", e.NodeType())
}

func (i *Interpreter) thisValue(ctx *Context) (Value, error) {
	s := ctx.thisContext()
	if s == nil {
		return Undefined, nil
	}
	if s.thisPending {
		return nil, newError(KindSuperNotCalled, "must call super constructor before accessing this")
	}
	return normalize(s.this), nil
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

func (i *Interpreter) evalTemplate(n *ast.TemplateLiteral, ctx *Context) (Value, error) {
	var b strings.Builder
	for k, q := range n.Quasis {
		b.WriteString(q)
		if k < len(n.Expressions) {
			v, err := i.evalExpr(n.Expressions[k], ctx)
			if err != nil {
				return nil, err
			}
			b.WriteString(ToString(v))
		}
	}
	return b.String(), nil
}

// evalList evaluates array elements or call arguments, expanding spreads.
func (i *Interpreter) evalList(exprs []ast.Expression, ctx *Context) ([]Value, error) {
	out := make([]Value, 0, len(exprs))
	for _, e := range exprs {
		if e == nil {
			out = append(out, Undefined)
			continue
		}
		if s, ok := e.(*ast.SpreadElement); ok {
			v, err := i.evalExpr(s.Argument, ctx)
			if err != nil {
				return nil, err
			}
			items, err := iterate(v)
			if err != nil {
				return nil, i.annotate(err, s, ctx)
			}
			out = append(out, items...)
			continue
		}
		v, err := i.evalExpr(e, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (i *Interpreter) evalObject(n *ast.ObjectExpression, ctx *Context) (Value, error) {
	obj := NewObject(nil)
	for _, p := range n.Properties {
		if p.Spread {
			v, err := i.evalExpr(p.Value, ctx)
			if err != nil {
				return nil, err
			}
			spreadInto(obj, v)
			continue
		}
		var key string
		switch k := p.Key.(type) {
		case *ast.Identifier:
			key = k.Name
			if p.Computed {
				v, err := i.evalExpr(k, ctx)
				if err != nil {
					return nil, err
				}
				key = propertyKey(v)
			}
		case *ast.StringLiteral:
			key = k.Value
		case *ast.NumberLiteral:
			key = formatNumber(k.Value)
		default:
			v, err := i.evalExpr(p.Key, ctx)
			if err != nil {
				return nil, err
			}
			key = propertyKey(v)
		}
		var v Value
		var err error
		if p.Value == nil && p.Shorthand {
			v, err = i.evalExpr(&ast.Identifier{Name: key}, ctx)
		} else {
			v, err = i.evalExpr(p.Value, ctx)
		}
		if err != nil {
			return nil, err
		}
		if c, ok := v.(*Closure); ok && c.Name() == "" {
			c.name = key
		}
		obj.set(key, v)
	}
	return obj, nil
}

func spreadInto(obj *Object, v Value) {
	switch x := v.(type) {
	case *Object:
		for _, k := range x.keys {
			obj.set(k, x.values[k])
		}
	case *Instance:
		for _, k := range x.Fields.keys {
			obj.set(k, x.Fields.values[k])
		}
	case *Array:
		for idx, e := range x.Elems {
			obj.set(formatNumber(float64(idx)), e)
		}
	}
}

// iterate materializes the values of an iterable.
func iterate(v Value) ([]Value, error) {
	switch x := v.(type) {
	case *Array:
		return append([]Value(nil), x.Elems...), nil
	case string:
		out := make([]Value, 0, utf8.RuneCountInString(x))
		for _, r := range x {
			out = append(out, string(r))
		}
		return out, nil
	}
	return nil, newError(KindTypeMismatch, "%s is not iterable", Inspect(v))
}

// enumerateKeys materializes the keys a for-in loop visits.
func enumerateKeys(v Value) ([]Value, error) {
	var keys []string
	switch x := v.(type) {
	case *Object:
		keys = x.Keys()
	case *Instance:
		keys = x.Fields.Keys()
	case *Array:
		for idx := range x.Elems {
			keys = append(keys, formatNumber(float64(idx)))
		}
	case string:
		for idx := 0; idx < utf8.RuneCountInString(x); idx++ {
			keys = append(keys, formatNumber(float64(idx)))
		}
	case *ModuleNamespace:
		keys = sortedKeys(x.Module.Context.exports)
	default:
		if isNullish(v) {
			return nil, nil
		}
		return nil, newError(KindTypeMismatch, "cannot enumerate keys of %s", Inspect(v))
	}
	out := make([]Value, len(keys))
	for k, s := range keys {
		out[k] = s
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func (i *Interpreter) evalUnary(n *ast.UnaryExpression, ctx *Context) (Value, error) {
	if n.Operator == "typeof" {
		if id, ok := n.Argument.(*ast.Identifier); ok {
			v, err := ctx.read(id.Name)
			if err != nil {
				return "undefined", nil
			}
			return typeOf(v), nil
		}
	}
	v, err := i.evalExpr(n.Argument, ctx)
	if err != nil {
		return nil, err
	}
	switch n.Operator {
	case "-":
		return -toNumber(v), nil
	case "+":
		return toNumber(v), nil
	case "!":
		return !truthy(v), nil
	case "~":
		return float64(^toInt32(v)), nil
	case "typeof":
		return typeOf(v), nil
	case "void":
		return Undefined, nil
	}
	return nil, newError(KindTypeMismatch, "unknown unary operator %s", n.Operator)
}

func (i *Interpreter) evalLogical(n *ast.LogicalExpression, ctx *Context) (Value, error) {
	l, err := i.evalExpr(n.Left, ctx)
	if err != nil {
		return nil, err
	}
	switch n.Operator {
	case "&&":
		if !truthy(l) {
			return l, nil
		}
	case "||":
		if truthy(l) {
			return l, nil
		}
	case "??":
		if !isNullish(l) {
			return l, nil
		}
	default:
		return nil, newError(KindTypeMismatch, "unknown logical operator %s", n.Operator)
	}
	return i.evalExpr(n.Right, ctx)
}

func toInt32(v Value) int32 {
	f := toNumber(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int32(int64(f))
}

func binaryOp(op string, a, b Value) (Value, error) {
	a, b = normalize(a), normalize(b)
	switch op {
	case "+":
		_, as := a.(string)
		_, bs := b.(string)
		if as || bs || !isPrimitive(a) || !isPrimitive(b) {
			return ToString(a) + ToString(b), nil
		}
		return toNumber(a) + toNumber(b), nil
	case "-":
		return toNumber(a) - toNumber(b), nil
	case "*":
		return toNumber(a) * toNumber(b), nil
	case "/":
		d := toNumber(b)
		if d == 0 {
			return nil, newError(KindDivisionByZero, "division by zero")
		}
		return toNumber(a) / d, nil
	case "%":
		d := toNumber(b)
		if d == 0 {
			return nil, newError(KindDivisionByZero, "modulo by zero")
		}
		return math.Mod(toNumber(a), d), nil
	case "**":
		return math.Pow(toNumber(a), toNumber(b)), nil
	case "==":
		return looseEquals(a, b), nil
	case "!=":
		return !looseEquals(a, b), nil
	case "===":
		return strictEquals(a, b), nil
	case "!==":
		return !strictEquals(a, b), nil
	case "<", "<=", ">", ">=":
		return compare(op, a, b), nil
	case "&":
		return float64(toInt32(a) & toInt32(b)), nil
	case "|":
		return float64(toInt32(a) | toInt32(b)), nil
	case "^":
		return float64(toInt32(a) ^ toInt32(b)), nil
	case "<<":
		return float64(toInt32(a) << (uint32(toInt32(b)) & 31)), nil
	case ">>":
		return float64(toInt32(a) >> (uint32(toInt32(b)) & 31)), nil
	case ">>>":
		return float64(uint32(toInt32(a)) >> (uint32(toInt32(b)) & 31)), nil
	case "instanceof":
		return instanceOf(a, b)
	case "in":
		return hasProperty(b, a)
	}
	return nil, newError(KindTypeMismatch, "unknown binary operator %s", op)
}

func isPrimitive(v Value) bool {
	switch v.(type) {
	case nil, undefinedType, nullType, uninitializedType, bool, float64, string:
		return true
	}
	return false
}

func compare(op string, a, b Value) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch op {
		case "<":
			return as < bs
		case "<=":
			return as <= bs
		case ">":
			return as > bs
		}
		return as >= bs
	}
	x, y := toNumber(a), toNumber(b)
	switch op {
	case "<":
		return x < y
	case "<=":
		return x <= y
	case ">":
		return x > y
	}
	return x >= y
}

func hasProperty(obj, key Value) (Value, error) {
	switch x := obj.(type) {
	case *Object:
		return x.has(propertyKey(key)), nil
	case *Instance:
		k := propertyKey(key)
		return x.Fields.has(k) || x.Class.findMethod(k) != nil, nil
	case *Array:
		idx, ok := arrayIndex(key)
		return ok && idx < len(x.Elems), nil
	case *Class:
		_, ok := x.findStatic(propertyKey(key))
		return ok, nil
	case *ModuleNamespace:
		_, ok := x.Module.Context.exports[propertyKey(key)]
		return ok, nil
	}
	return nil, newError(KindTypeMismatch, "cannot use 'in' operator on %s", Inspect(obj))
}

// ---------------------------------------------------------------------------
// Assignment and update
// ---------------------------------------------------------------------------

// reference is an assignable location.
type reference struct {
	name string
	ctx  *Context
	obj  Value
	key  Value
}

func (i *Interpreter) resolveRef(target ast.Expression, ctx *Context) (*reference, error) {
	switch t := target.(type) {
	case *ast.Identifier:
		return &reference{name: t.Name, ctx: ctx}, nil
	case *ast.MemberExpression:
		obj, err := i.evalExpr(t.Object, ctx)
		if err != nil {
			return nil, err
		}
		key, err := i.memberKey(t, ctx)
		if err != nil {
			return nil, err
		}
		return &reference{obj: obj, key: key}, nil
	}
	return nil, newError(KindTypeMismatch, "invalid assignment target %s", target.NodeType())
}

func (i *Interpreter) getRef(r *reference) (Value, error) {
	if r.ctx != nil {
		v, err := r.ctx.read(r.name)
		if err != nil {
			return nil, err
		}
		return normalize(v), nil
	}
	return i.getMember(r.obj, r.key)
}

func (i *Interpreter) setRef(r *reference, v Value) error {
	if r.ctx != nil {
		return r.ctx.Assign(r.name, v)
	}
	return setMember(r.obj, r.key, v)
}

func (i *Interpreter) evalAssign(n *ast.AssignmentExpression, ctx *Context) (Value, error) {
	ref, err := i.resolveRef(n.Left, ctx)
	if err != nil {
		return nil, err
	}
	if n.Operator == "=" {
		v, err := i.evalExpr(n.Right, ctx)
		if err != nil {
			return nil, err
		}
		if c, ok := v.(*Closure); ok && c.Name() == "" && ref.ctx != nil {
			c.name = ref.name
		}
		return v, i.setRef(ref, v)
	}
	cur, err := i.getRef(ref)
	if err != nil {
		return nil, err
	}
	switch n.Operator {
	case "??=":
		if !isNullish(cur) {
			return cur, nil
		}
	case "||=":
		if truthy(cur) {
			return cur, nil
		}
	case "&&=":
		if !truthy(cur) {
			return cur, nil
		}
	}
	rhs, err := i.evalExpr(n.Right, ctx)
	if err != nil {
		return nil, err
	}
	v := rhs
	switch n.Operator {
	case "??=", "||=", "&&=":
	default:
		op := strings.TrimSuffix(n.Operator, "=")
		if v, err = binaryOp(op, cur, rhs); err != nil {
			return nil, err
		}
	}
	return v, i.setRef(ref, v)
}

func (i *Interpreter) evalUpdate(n *ast.UpdateExpression, ctx *Context) (Value, error) {
	ref, err := i.resolveRef(n.Argument, ctx)
	if err != nil {
		return nil, err
	}
	cur, err := i.getRef(ref)
	if err != nil {
		return nil, err
	}
	old := toNumber(cur)
	next := old + 1
	if n.Operator == "--" {
		next = old - 1
	}
	if err := i.setRef(ref, next); err != nil {
		return nil, err
	}
	if n.Prefix {
		return next, nil
	}
	return old, nil
}

// ---------------------------------------------------------------------------
// Member chains and calls
// ---------------------------------------------------------------------------

func (i *Interpreter) memberKey(n *ast.MemberExpression, ctx *Context) (Value, error) {
	if !n.Computed {
		id, ok := n.Property.(*ast.Identifier)
		if !ok {
			return nil, newError(KindTypeMismatch, "invalid member name %s", n.Property.NodeType())
		}
		return id.Name, nil
	}
	return i.evalExpr(n.Property, ctx)
}

// evalChain evaluates a member or call chain. short reports that an
// optional link met a nullish value and the rest of the chain was skipped.
func (i *Interpreter) evalChain(e ast.Expression, ctx *Context) (v Value, short bool, err error) {
	switch n := e.(type) {
	case *ast.MemberExpression:
		if _, ok := n.Object.(*ast.SuperExpression); ok {
			key, err := i.memberKey(n, ctx)
			if err != nil {
				return nil, false, err
			}
			v, _, err := i.superMember(propertyKey(key), ctx)
			return v, false, err
		}
		obj, short, err := i.evalChain(n.Object, ctx)
		if err != nil || short {
			return Undefined, short, err
		}
		if n.Optional && isNullish(obj) {
			return Undefined, true, nil
		}
		key, err := i.memberKey(n, ctx)
		if err != nil {
			return nil, false, err
		}
		v, err := i.getMember(obj, key)
		if err != nil {
			return nil, false, i.annotate(err, n, ctx)
		}
		return v, false, nil
	case *ast.CallExpression:
		return i.evalCallChain(n, ctx, false)
	}
	v, err = i.evalExpr(e, ctx)
	return v, false, err
}

// evalCall evaluates a call. site marks a call in statement position.
func (i *Interpreter) evalCall(n *ast.CallExpression, ctx *Context, site bool) (Value, error) {
	v, short, err := i.evalCallChain(n, ctx, site)
	if err != nil {
		return nil, err
	}
	if short {
		return Undefined, nil
	}
	return v, nil
}

func (i *Interpreter) evalCallChain(n *ast.CallExpression, ctx *Context, site bool) (Value, bool, error) {
	return i.evalCallWith(n, ctx, site, nil)
}

// evalCallWith evaluates a call, passing lead before the written
// arguments. Pipeline stages use lead for the piped value.
func (i *Interpreter) evalCallWith(n *ast.CallExpression, ctx *Context, site bool, lead []Value) (Value, bool, error) {
	if _, ok := n.Callee.(*ast.SuperExpression); ok {
		v, err := i.superCall(n, ctx)
		return v, false, err
	}
	fn, this, short, err := i.resolveCallee(n.Callee, ctx)
	if err != nil || short {
		return Undefined, short, err
	}
	if n.Optional && isNullish(fn) {
		return Undefined, true, nil
	}
	args, err := i.evalList(n.Arguments, ctx)
	if err != nil {
		return nil, false, err
	}
	if len(lead) > 0 {
		args = append(append([]Value(nil), lead...), args...)
	}
	if !isCallable(fn) {
		return nil, false, i.annotate(newError(KindTypeMismatch, "%s is not a function", calleeName(n.Callee)), n, ctx)
	}
	v, err := i.callValue(fn, this, args, site, n.Position())
	if err != nil {
		return nil, false, err
	}
	v, err = i.await(v)
	return v, false, err
}

// resolveCallee evaluates a callee and the receiver a call through it binds
// as this.
func (i *Interpreter) resolveCallee(callee ast.Expression, ctx *Context) (fn, this Value, short bool, err error) {
	c, ok := callee.(*ast.MemberExpression)
	if !ok {
		fn, short, err = i.evalChain(callee, ctx)
		return fn, Undefined, short, err
	}
	if _, ok := c.Object.(*ast.SuperExpression); ok {
		key, err := i.memberKey(c, ctx)
		if err != nil {
			return nil, nil, false, err
		}
		fn, this, err = i.superMember(propertyKey(key), ctx)
		return fn, this, false, err
	}
	obj, short, err := i.evalChain(c.Object, ctx)
	if err != nil || short {
		return Undefined, Undefined, short, err
	}
	if c.Optional && isNullish(obj) {
		return Undefined, Undefined, true, nil
	}
	key, err := i.memberKey(c, ctx)
	if err != nil {
		return nil, nil, false, err
	}
	if fn, err = i.getMember(obj, key); err != nil {
		return nil, nil, false, i.annotate(err, c, ctx)
	}
	return fn, obj, false, nil
}

func calleeName(e ast.Expression) string {
	switch c := e.(type) {
	case *ast.Identifier:
		return c.Name
	case *ast.MemberExpression:
		if id, ok := c.Property.(*ast.Identifier); ok && !c.Computed {
			return calleeName(c.Object) + "." + id.Name
		}
		return calleeName(c.Object) + "[...]"
	case *ast.ThisExpression:
		return "this"
	}
	return "expression"
}

func (i *Interpreter) evalNew(n *ast.NewExpression, ctx *Context) (Value, error) {
	callee, err := i.evalExpr(n.Callee, ctx)
	if err != nil {
		return nil, err
	}
	args, err := i.evalList(n.Arguments, ctx)
	if err != nil {
		return nil, err
	}
	switch c := callee.(type) {
	case *Class:
		return i.construct(c, args, n.Position())
	case *HostFunction:
		return i.callHost(c, Undefined, args)
	}
	return nil, newError(KindTypeMismatch, "%s is not a constructor", calleeName(n.Callee))
}

// ---------------------------------------------------------------------------
// Property access
// ---------------------------------------------------------------------------

func (i *Interpreter) getMember(obj Value, key Value) (Value, error) {
	obj = normalize(obj)
	if isNullish(obj) {
		return nil, newError(KindNullishAccess, "cannot read property %s of %s", propertyKey(key), ToString(obj))
	}
	switch x := obj.(type) {
	case *Object:
		if v, ok := x.get(propertyKey(key)); ok {
			return v, nil
		}
		return Undefined, nil
	case *Array:
		if idx, ok := arrayIndex(key); ok {
			if idx < len(x.Elems) {
				return normalize(x.Elems[idx]), nil
			}
			return Undefined, nil
		}
		k := propertyKey(key)
		if k == "length" {
			return float64(len(x.Elems)), nil
		}
		return intrinsic(arrayMethods, "array", k, x), nil
	case string:
		if idx, ok := arrayIndex(key); ok {
			runes := []rune(x)
			if idx < len(runes) {
				return string(runes[idx]), nil
			}
			return Undefined, nil
		}
		k := propertyKey(key)
		if k == "length" {
			return float64(utf8.RuneCountInString(x)), nil
		}
		return intrinsic(stringMethods, "string", k, x), nil
	case *Instance:
		k := propertyKey(key)
		if v, ok := x.Fields.get(k); ok {
			return v, nil
		}
		if m := x.Class.findMethod(k); m != nil {
			return m, nil
		}
		return Undefined, nil
	case *Class:
		k := propertyKey(key)
		if v, ok := x.findStatic(k); ok {
			return v, nil
		}
		if k == "name" {
			return x.Name, nil
		}
		return Undefined, nil
	case *ModuleNamespace:
		return x.Module.readExport(propertyKey(key))
	case *Closure:
		if propertyKey(key) == "name" {
			return x.Name(), nil
		}
		return Undefined, nil
	case *HostFunction:
		if propertyKey(key) == "name" {
			return x.Name, nil
		}
		return Undefined, nil
	}
	return Undefined, nil
}

// maxArrayGap bounds how far past its end an array may be grown by a single
// index or length assignment.
const maxArrayGap = 1 << 16

// growArray extends a with undefined to length n.
func growArray(a *Array, n int) error {
	if n < 0 || n-len(a.Elems) > maxArrayGap {
		return newError(KindTypeMismatch, "invalid array length %d: more than %d past the end", n, maxArrayGap)
	}
	for len(a.Elems) < n {
		a.Elems = append(a.Elems, Undefined)
	}
	return nil
}

func setMember(obj Value, key Value, v Value) error {
	obj = normalize(obj)
	if isNullish(obj) {
		return newError(KindNullishAccess, "cannot set property %s of %s", propertyKey(key), ToString(obj))
	}
	switch x := obj.(type) {
	case *Object:
		x.set(propertyKey(key), v)
		return nil
	case *Array:
		if idx, ok := arrayIndex(key); ok {
			if err := growArray(x, idx+1); err != nil {
				return err
			}
			x.Elems[idx] = v
			return nil
		}
		if propertyKey(key) == "length" {
			n, ok := arrayIndex(v)
			if !ok {
				return newError(KindTypeMismatch, "invalid array length %s", ToString(v))
			}
			if err := growArray(x, n); err != nil {
				return err
			}
			x.Elems = x.Elems[:n]
			return nil
		}
	case *Instance:
		x.Fields.set(propertyKey(key), v)
		return nil
	case *Class:
		x.Statics.set(propertyKey(key), v)
		return nil
	case *ModuleNamespace:
		return newError(KindConstReassignment, "cannot assign to module namespace %s", x.Module.Path)
	}
	return newError(KindTypeMismatch, "cannot set property %s on %s", propertyKey(key), typeOf(obj))
}
