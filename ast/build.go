package ast

// Builders for assembling trees in Go. Hosts that embed the engine without a
// grammar, and the engine's own tests, use these instead of documents.

func Prog(body ...Statement) *Program { return &Program{Body: body} }

func Ident(name string) *Identifier       { return &Identifier{Name: name} }
func Num(v float64) *NumberLiteral        { return &NumberLiteral{Value: v} }
func Str(s string) *StringLiteral         { return &StringLiteral{Value: s} }
func Bool(b bool) *BooleanLiteral         { return &BooleanLiteral{Value: b} }
func Null() *NullLiteral                  { return &NullLiteral{} }
func Undefined() *UndefinedLiteral        { return &UndefinedLiteral{} }
func This() *ThisExpression               { return &ThisExpression{} }
func Super() *SuperExpression             { return &SuperExpression{} }
func Hole() *Placeholder                  { return &Placeholder{} }
func Spread(arg Expression) *SpreadElement { return &SpreadElement{Argument: arg} }

func Template(quasis []string, exprs ...Expression) *TemplateLiteral {
	return &TemplateLiteral{Quasis: quasis, Expressions: exprs}
}

func Array(elems ...Expression) *ArrayExpression { return &ArrayExpression{Elements: elems} }

func Object(props ...*Property) *ObjectExpression { return &ObjectExpression{Properties: props} }

func Prop(key string, value Expression) *Property {
	return &Property{Key: Ident(key), Value: value}
}

func SpreadProp(arg Expression) *Property { return &Property{Value: arg, Spread: true} }

// Params builds a parameter list. A name prefixed with "..." is a rest
// parameter.
func Params(names ...string) []*Param {
	out := make([]*Param, len(names))
	for i, n := range names {
		if len(n) > 3 && n[:3] == "..." {
			out[i] = &Param{Name: n[3:], Rest: true}
			continue
		}
		out[i] = &Param{Name: n}
	}
	return out
}

func Fn(name string, params []*Param, body ...Statement) *FunctionDeclaration {
	return &FunctionDeclaration{ID: Ident(name), Params: params, Body: Block(body...)}
}

func AsyncFn(name string, params []*Param, body ...Statement) *FunctionDeclaration {
	f := Fn(name, params, body...)
	f.Async = true
	return f
}

func FnExpr(params []*Param, body ...Statement) *FunctionExpression {
	return &FunctionExpression{Params: params, Body: Block(body...)}
}

func Arrow(params []*Param, body Expression) *ArrowFunctionExpression {
	return &ArrowFunctionExpression{Params: params, Expression: body}
}

func ArrowBlock(params []*Param, body ...Statement) *ArrowFunctionExpression {
	return &ArrowFunctionExpression{Params: params, Body: Block(body...)}
}

func Unary(op string, arg Expression) *UnaryExpression {
	return &UnaryExpression{Operator: op, Argument: arg}
}

func Update(op string, prefix bool, arg Expression) *UpdateExpression {
	return &UpdateExpression{Operator: op, Prefix: prefix, Argument: arg}
}

func Bin(op string, left, right Expression) *BinaryExpression {
	return &BinaryExpression{Operator: op, Left: left, Right: right}
}

func Logical(op string, left, right Expression) *LogicalExpression {
	return &LogicalExpression{Operator: op, Left: left, Right: right}
}

func Assign(target, value Expression) *AssignmentExpression {
	return &AssignmentExpression{Operator: "=", Left: target, Right: value}
}

func AssignOp(op string, target, value Expression) *AssignmentExpression {
	return &AssignmentExpression{Operator: op, Left: target, Right: value}
}

func Cond(test, consequent, alternate Expression) *ConditionalExpression {
	return &ConditionalExpression{Test: test, Consequent: consequent, Alternate: alternate}
}

func Member(obj Expression, name string) *MemberExpression {
	return &MemberExpression{Object: obj, Property: Ident(name)}
}

func OptMember(obj Expression, name string) *MemberExpression {
	return &MemberExpression{Object: obj, Property: Ident(name), Optional: true}
}

func Computed(obj, prop Expression) *MemberExpression {
	return &MemberExpression{Object: obj, Property: prop, Computed: true}
}

func Call(callee Expression, args ...Expression) *CallExpression {
	return &CallExpression{Callee: callee, Arguments: args}
}

func MethodCall(obj Expression, name string, args ...Expression) *CallExpression {
	return Call(Member(obj, name), args...)
}

func New(callee Expression, args ...Expression) *NewExpression {
	return &NewExpression{Callee: callee, Arguments: args}
}

func Await(arg Expression) *AwaitExpression { return &AwaitExpression{Argument: arg} }

func Pipe(left, right Expression) *PipelineExpression {
	return &PipelineExpression{Operator: PipeForward, Left: left, Right: right}
}

func Sink(left, right Expression) *PipelineExpression {
	return &PipelineExpression{Operator: PipeSink, Left: left, Right: right}
}

func declare(kind, name string, init Expression) *VariableDeclaration {
	return &VariableDeclaration{
		Kind:         kind,
		Declarations: []*VariableDeclarator{{ID: Ident(name), Init: init}},
	}
}

func Const(name string, init Expression) *VariableDeclaration { return declare(KindConst, name, init) }
func Let(name string, init Expression) *VariableDeclaration   { return declare(KindLet, name, init) }
func Var(name string, init Expression) *VariableDeclaration   { return declare(KindVar, name, init) }

func Expr(e Expression) *ExpressionStatement { return &ExpressionStatement{Expression: e} }

func Return(arg Expression) *ReturnStatement { return &ReturnStatement{Argument: arg} }

func Throw(arg Expression) *ThrowStatement { return &ThrowStatement{Argument: arg} }

func Block(body ...Statement) *BlockStatement { return &BlockStatement{Body: body} }

func If(test Expression, consequent, alternate Statement) *IfStatement {
	return &IfStatement{Test: test, Consequent: consequent, Alternate: alternate}
}

func While(test Expression, body ...Statement) *WhileStatement {
	return &WhileStatement{Test: test, Body: Block(body...)}
}

func DoWhile(test Expression, body ...Statement) *DoWhileStatement {
	return &DoWhileStatement{Test: test, Body: Block(body...)}
}

func For(init Statement, test, update Expression, body ...Statement) *ForStatement {
	return &ForStatement{Init: init, Test: test, Update: update, Body: Block(body...)}
}

func ForOf(kind, name string, right Expression, body ...Statement) *ForOfStatement {
	return &ForOfStatement{Kind: kind, Left: Ident(name), Right: right, Body: Block(body...)}
}

func ForIn(kind, name string, right Expression, body ...Statement) *ForInStatement {
	return &ForInStatement{Kind: kind, Left: Ident(name), Right: right, Body: Block(body...)}
}

func Break(label string) *BreakStatement       { return &BreakStatement{Label: label} }
func Continue(label string) *ContinueStatement { return &ContinueStatement{Label: label} }

func Labeled(label string, body Statement) *LabeledStatement {
	return &LabeledStatement{Label: label, Body: body}
}

func Switch(disc Expression, cases ...*SwitchCase) *SwitchStatement {
	return &SwitchStatement{Discriminant: disc, Cases: cases}
}

func Case(test Expression, body ...Statement) *SwitchCase {
	return &SwitchCase{Test: test, Consequent: body}
}

func Default(body ...Statement) *SwitchCase { return &SwitchCase{Consequent: body} }

// Try builds a try statement. An empty param with a nil handler omits the
// catch clause; a nil finalizer omits finally.
func Try(block *BlockStatement, param string, handler, finalizer *BlockStatement) *TryStatement {
	t := &TryStatement{Block: block, Handler: handler, Finalizer: finalizer}
	if param != "" {
		t.Param = Ident(param)
	}
	return t
}

func Class(name string, superClass Expression, members ...*ClassMember) *ClassDeclaration {
	return &ClassDeclaration{ID: Ident(name), SuperClass: superClass, Members: members}
}

func Ctor(params []*Param, body ...Statement) *ClassMember {
	return &ClassMember{Kind: MemberConstructor, Key: "constructor", Value: FnExpr(params, body...)}
}

func Method(name string, params []*Param, body ...Statement) *ClassMember {
	return &ClassMember{Kind: MemberMethod, Key: name, Value: FnExpr(params, body...)}
}

func StaticMethod(name string, params []*Param, body ...Statement) *ClassMember {
	m := Method(name, params, body...)
	m.Static = true
	return m
}

func Field(name string, init Expression) *ClassMember {
	return &ClassMember{Kind: MemberField, Key: name, Value: init}
}

func StaticField(name string, init Expression) *ClassMember {
	f := Field(name, init)
	f.Static = true
	return f
}

// Import binds each name to the export of the same name.
func Import(source string, names ...string) *ImportDeclaration {
	d := &ImportDeclaration{Source: source}
	for _, n := range names {
		d.Specifiers = append(d.Specifiers, &ImportSpecifier{Imported: n, Local: n})
	}
	return d
}

func ImportDefault(source, local string) *ImportDeclaration {
	return &ImportDeclaration{Source: source, DefaultLocal: local}
}

func ImportAll(source, local string) *ImportDeclaration {
	return &ImportDeclaration{Source: source, NamespaceLocal: local}
}

func Export(decl Statement) *ExportNamedDeclaration {
	return &ExportNamedDeclaration{Declaration: decl}
}

func ExportNames(names ...string) *ExportNamedDeclaration {
	d := &ExportNamedDeclaration{}
	for _, n := range names {
		d.Specifiers = append(d.Specifiers, &ExportSpecifier{Local: n, Exported: n})
	}
	return d
}

func ExportDefault(n Node) *ExportDefaultDeclaration {
	return &ExportDefaultDeclaration{Declaration: n}
}

// At sets a node's position and returns it.
func At[N interface {
	Node
	setPos(Pos)
}](n N, line, column int) N {
	n.setPos(Pos{Line: line, Column: column})
	return n
}

func (s *Span) setPos(p Pos) { s.Pos = p }
