// Package ast defines the typed syntax tree consumed by the Wang engine.
//
// The grammar that produces these trees lives outside this module; it hands
// the engine either Go values built with the constructors in this package or
// an ESTree-shaped JSON/YAML document decoded by Decode.
package ast

// NodeType names a concrete node kind. It doubles as the "type" discriminator
// of the document form.
type NodeType string

const (
	NodeProgram                  NodeType = "Program"
	NodeIdentifier               NodeType = "Identifier"
	NodeNumberLiteral            NodeType = "NumberLiteral"
	NodeStringLiteral            NodeType = "StringLiteral"
	NodeBooleanLiteral           NodeType = "BooleanLiteral"
	NodeNullLiteral              NodeType = "NullLiteral"
	NodeUndefinedLiteral         NodeType = "UndefinedLiteral"
	NodeTemplateLiteral          NodeType = "TemplateLiteral"
	NodeArrayExpression          NodeType = "ArrayExpression"
	NodeObjectExpression         NodeType = "ObjectExpression"
	NodeProperty                 NodeType = "Property"
	NodeSpreadElement            NodeType = "SpreadElement"
	NodeParam                    NodeType = "Param"
	NodeFunctionExpression       NodeType = "FunctionExpression"
	NodeArrowFunctionExpression  NodeType = "ArrowFunctionExpression"
	NodeUnaryExpression          NodeType = "UnaryExpression"
	NodeUpdateExpression         NodeType = "UpdateExpression"
	NodeBinaryExpression         NodeType = "BinaryExpression"
	NodeLogicalExpression        NodeType = "LogicalExpression"
	NodeAssignmentExpression     NodeType = "AssignmentExpression"
	NodeConditionalExpression    NodeType = "ConditionalExpression"
	NodeMemberExpression         NodeType = "MemberExpression"
	NodeCallExpression           NodeType = "CallExpression"
	NodeNewExpression            NodeType = "NewExpression"
	NodeThisExpression           NodeType = "ThisExpression"
	NodeSuperExpression          NodeType = "SuperExpression"
	NodeAwaitExpression          NodeType = "AwaitExpression"
	NodePipelineExpression       NodeType = "PipelineExpression"
	NodePlaceholder              NodeType = "Placeholder"
	NodeVariableDeclaration      NodeType = "VariableDeclaration"
	NodeVariableDeclarator       NodeType = "VariableDeclarator"
	NodeFunctionDeclaration      NodeType = "FunctionDeclaration"
	NodeClassDeclaration         NodeType = "ClassDeclaration"
	NodeClassMember              NodeType = "ClassMember"
	NodeReturnStatement          NodeType = "ReturnStatement"
	NodeIfStatement              NodeType = "IfStatement"
	NodeForStatement             NodeType = "ForStatement"
	NodeForOfStatement           NodeType = "ForOfStatement"
	NodeForInStatement           NodeType = "ForInStatement"
	NodeWhileStatement           NodeType = "WhileStatement"
	NodeDoWhileStatement         NodeType = "DoWhileStatement"
	NodeBreakStatement           NodeType = "BreakStatement"
	NodeContinueStatement        NodeType = "ContinueStatement"
	NodeLabeledStatement         NodeType = "LabeledStatement"
	NodeSwitchStatement          NodeType = "SwitchStatement"
	NodeSwitchCase               NodeType = "SwitchCase"
	NodeTryStatement             NodeType = "TryStatement"
	NodeThrowStatement           NodeType = "ThrowStatement"
	NodeBlockStatement           NodeType = "BlockStatement"
	NodeExpressionStatement      NodeType = "ExpressionStatement"
	NodeEmptyStatement           NodeType = "EmptyStatement"
	NodeImportDeclaration        NodeType = "ImportDeclaration"
	NodeImportSpecifier          NodeType = "ImportSpecifier"
	NodeExportNamedDeclaration   NodeType = "ExportNamedDeclaration"
	NodeExportSpecifier          NodeType = "ExportSpecifier"
	NodeExportDefaultDeclaration NodeType = "ExportDefaultDeclaration"
)

// Variable declaration kinds.
const (
	KindConst = "const"
	KindLet   = "let"
	KindVar   = "var"
)

// Class member kinds.
const (
	MemberConstructor = "constructor"
	MemberMethod      = "method"
	MemberField       = "field"
)

// Pipeline operators.
const (
	PipeForward = "|>"
	PipeSink    = "->"
)

// Pos is a source position. Line and Column are 1-based; a zero Pos means
// the grammar did not report one.
type Pos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
	Offset int `json:"offset"`
}

// IsZero reports whether no position was recorded.
func (p Pos) IsZero() bool { return p.Line == 0 && p.Column == 0 && p.Offset == 0 }

// Node is implemented by every tree node.
type Node interface {
	NodeType() NodeType
	Position() Pos
}

// Statement marks nodes that may appear in a statement list.
type Statement interface {
	Node
	statementNode()
}

// Expression marks nodes that produce a value.
type Expression interface {
	Node
	expressionNode()
}

// Span carries position metadata and is embedded in every node.
type Span struct {
	Pos Pos `json:"pos"`
}

// Position returns the node's source position.
func (s *Span) Position() Pos { return s.Pos }

type stmt struct{}

func (stmt) statementNode() {}

type expr struct{}

func (expr) expressionNode() {}

// Function is implemented by the three function-shaped nodes.
type Function interface {
	Node
	FunctionName() string
	FunctionParams() []*Param
	FunctionBody() *BlockStatement
	ConciseBody() Expression
	IsArrow() bool
	IsAsync() bool
}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

type Program struct {
	Span
	Body []Statement `json:"body"`
}

func (*Program) NodeType() NodeType { return NodeProgram }

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

type Identifier struct {
	Span
	expr
	Name string `json:"name"`
}

func (*Identifier) NodeType() NodeType { return NodeIdentifier }

type NumberLiteral struct {
	Span
	expr
	Value float64 `json:"value"`
}

func (*NumberLiteral) NodeType() NodeType { return NodeNumberLiteral }

type StringLiteral struct {
	Span
	expr
	Value string `json:"value"`
}

func (*StringLiteral) NodeType() NodeType { return NodeStringLiteral }

type BooleanLiteral struct {
	Span
	expr
	Value bool `json:"value"`
}

func (*BooleanLiteral) NodeType() NodeType { return NodeBooleanLiteral }

type NullLiteral struct {
	Span
	expr
}

func (*NullLiteral) NodeType() NodeType { return NodeNullLiteral }

type UndefinedLiteral struct {
	Span
	expr
}

func (*UndefinedLiteral) NodeType() NodeType { return NodeUndefinedLiteral }

// TemplateLiteral interleaves Quasis with Expressions; len(Quasis) is always
// len(Expressions)+1.
type TemplateLiteral struct {
	Span
	expr
	Quasis      []string     `json:"quasis"`
	Expressions []Expression `json:"expressions"`
}

func (*TemplateLiteral) NodeType() NodeType { return NodeTemplateLiteral }

type ArrayExpression struct {
	Span
	expr
	Elements []Expression `json:"elements"`
}

func (*ArrayExpression) NodeType() NodeType { return NodeArrayExpression }

type SpreadElement struct {
	Span
	expr
	Argument Expression `json:"argument"`
}

func (*SpreadElement) NodeType() NodeType { return NodeSpreadElement }

// Property is one entry of an object literal. A spread property carries its
// argument in Value and leaves Key nil.
type Property struct {
	Span
	Key       Expression `json:"key"`
	Value     Expression `json:"value"`
	Computed  bool       `json:"computed"`
	Shorthand bool       `json:"shorthand"`
	Spread    bool       `json:"spread"`
}

func (*Property) NodeType() NodeType { return NodeProperty }

type ObjectExpression struct {
	Span
	expr
	Properties []*Property `json:"properties"`
}

func (*ObjectExpression) NodeType() NodeType { return NodeObjectExpression }

type Param struct {
	Span
	Name    string     `json:"name"`
	Default Expression `json:"default"`
	Rest    bool       `json:"rest"`
}

func (*Param) NodeType() NodeType { return NodeParam }

type FunctionExpression struct {
	Span
	expr
	ID     *Identifier     `json:"id"`
	Params []*Param        `json:"params"`
	Body   *BlockStatement `json:"body"`
	Async  bool            `json:"async"`
}

func (*FunctionExpression) NodeType() NodeType { return NodeFunctionExpression }

func (f *FunctionExpression) FunctionName() string {
	if f.ID == nil {
		return ""
	}
	return f.ID.Name
}
func (f *FunctionExpression) FunctionParams() []*Param      { return f.Params }
func (f *FunctionExpression) FunctionBody() *BlockStatement { return f.Body }
func (f *FunctionExpression) ConciseBody() Expression       { return nil }
func (f *FunctionExpression) IsArrow() bool                 { return false }
func (f *FunctionExpression) IsAsync() bool                 { return f.Async }

// ArrowFunctionExpression has either a block Body or a concise Expression.
type ArrowFunctionExpression struct {
	Span
	expr
	Params     []*Param        `json:"params"`
	Body       *BlockStatement `json:"body"`
	Expression Expression      `json:"expression"`
	Async      bool            `json:"async"`
}

func (*ArrowFunctionExpression) NodeType() NodeType { return NodeArrowFunctionExpression }

func (f *ArrowFunctionExpression) FunctionName() string          { return "" }
func (f *ArrowFunctionExpression) FunctionParams() []*Param      { return f.Params }
func (f *ArrowFunctionExpression) FunctionBody() *BlockStatement { return f.Body }
func (f *ArrowFunctionExpression) ConciseBody() Expression       { return f.Expression }
func (f *ArrowFunctionExpression) IsArrow() bool                 { return true }
func (f *ArrowFunctionExpression) IsAsync() bool                 { return f.Async }

type UnaryExpression struct {
	Span
	expr
	Operator string     `json:"operator"`
	Argument Expression `json:"argument"`
}

func (*UnaryExpression) NodeType() NodeType { return NodeUnaryExpression }

type UpdateExpression struct {
	Span
	expr
	Operator string     `json:"operator"`
	Prefix   bool       `json:"prefix"`
	Argument Expression `json:"argument"`
}

func (*UpdateExpression) NodeType() NodeType { return NodeUpdateExpression }

type BinaryExpression struct {
	Span
	expr
	Operator string     `json:"operator"`
	Left     Expression `json:"left"`
	Right    Expression `json:"right"`
}

func (*BinaryExpression) NodeType() NodeType { return NodeBinaryExpression }

type LogicalExpression struct {
	Span
	expr
	Operator string     `json:"operator"`
	Left     Expression `json:"left"`
	Right    Expression `json:"right"`
}

func (*LogicalExpression) NodeType() NodeType { return NodeLogicalExpression }

type AssignmentExpression struct {
	Span
	expr
	Operator string     `json:"operator"`
	Left     Expression `json:"left"`
	Right    Expression `json:"right"`
}

func (*AssignmentExpression) NodeType() NodeType { return NodeAssignmentExpression }

type ConditionalExpression struct {
	Span
	expr
	Test       Expression `json:"test"`
	Consequent Expression `json:"consequent"`
	Alternate  Expression `json:"alternate"`
}

func (*ConditionalExpression) NodeType() NodeType { return NodeConditionalExpression }

// MemberExpression reads Object.Property. When Computed is false Property is
// an *Identifier naming the member.
type MemberExpression struct {
	Span
	expr
	Object   Expression `json:"object"`
	Property Expression `json:"property"`
	Computed bool       `json:"computed"`
	Optional bool       `json:"optional"`
}

func (*MemberExpression) NodeType() NodeType { return NodeMemberExpression }

type CallExpression struct {
	Span
	expr
	Callee    Expression   `json:"callee"`
	Arguments []Expression `json:"arguments"`
	Optional  bool         `json:"optional"`
}

func (*CallExpression) NodeType() NodeType { return NodeCallExpression }

type NewExpression struct {
	Span
	expr
	Callee    Expression   `json:"callee"`
	Arguments []Expression `json:"arguments"`
}

func (*NewExpression) NodeType() NodeType { return NodeNewExpression }

type ThisExpression struct {
	Span
	expr
}

func (*ThisExpression) NodeType() NodeType { return NodeThisExpression }

type SuperExpression struct {
	Span
	expr
}

func (*SuperExpression) NodeType() NodeType { return NodeSuperExpression }

type AwaitExpression struct {
	Span
	expr
	Argument Expression `json:"argument"`
}

func (*AwaitExpression) NodeType() NodeType { return NodeAwaitExpression }

// PipelineExpression threads Left into Right. Operator is PipeForward or
// PipeSink.
type PipelineExpression struct {
	Span
	expr
	Operator string     `json:"operator"`
	Left     Expression `json:"left"`
	Right    Expression `json:"right"`
}

func (*PipelineExpression) NodeType() NodeType { return NodePipelineExpression }

// Placeholder is the `_` token standing for the current piped value.
type Placeholder struct {
	Span
	expr
}

func (*Placeholder) NodeType() NodeType { return NodePlaceholder }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

type VariableDeclaration struct {
	Span
	stmt
	Kind         string                `json:"kind"`
	Declarations []*VariableDeclarator `json:"declarations"`
}

func (*VariableDeclaration) NodeType() NodeType { return NodeVariableDeclaration }

type VariableDeclarator struct {
	Span
	ID   *Identifier `json:"id"`
	Init Expression  `json:"init"`
}

func (*VariableDeclarator) NodeType() NodeType { return NodeVariableDeclarator }

type FunctionDeclaration struct {
	Span
	stmt
	ID     *Identifier     `json:"id"`
	Params []*Param        `json:"params"`
	Body   *BlockStatement `json:"body"`
	Async  bool            `json:"async"`
}

func (*FunctionDeclaration) NodeType() NodeType { return NodeFunctionDeclaration }

func (f *FunctionDeclaration) FunctionName() string {
	if f.ID == nil {
		return ""
	}
	return f.ID.Name
}
func (f *FunctionDeclaration) FunctionParams() []*Param      { return f.Params }
func (f *FunctionDeclaration) FunctionBody() *BlockStatement { return f.Body }
func (f *FunctionDeclaration) ConciseBody() Expression       { return nil }
func (f *FunctionDeclaration) IsArrow() bool                 { return false }
func (f *FunctionDeclaration) IsAsync() bool                 { return f.Async }

type ClassDeclaration struct {
	Span
	stmt
	ID         *Identifier    `json:"id"`
	SuperClass Expression     `json:"superClass"`
	Members    []*ClassMember `json:"members"`
}

func (*ClassDeclaration) NodeType() NodeType { return NodeClassDeclaration }

// ClassMember is a constructor, method or field. Methods and constructors
// carry a *FunctionExpression in Value; fields carry their initializer.
type ClassMember struct {
	Span
	Kind   string     `json:"kind"`
	Static bool       `json:"static"`
	Key    string     `json:"key"`
	Value  Expression `json:"value"`
}

func (*ClassMember) NodeType() NodeType { return NodeClassMember }

type ReturnStatement struct {
	Span
	stmt
	Argument Expression `json:"argument"`
}

func (*ReturnStatement) NodeType() NodeType { return NodeReturnStatement }

type IfStatement struct {
	Span
	stmt
	Test       Expression `json:"test"`
	Consequent Statement  `json:"consequent"`
	Alternate  Statement  `json:"alternate"`
}

func (*IfStatement) NodeType() NodeType { return NodeIfStatement }

// ForStatement is the counted loop. Init is a *VariableDeclaration or an
// *ExpressionStatement.
type ForStatement struct {
	Span
	stmt
	Init   Statement  `json:"init"`
	Test   Expression `json:"test"`
	Update Expression `json:"update"`
	Body   Statement  `json:"body"`
}

func (*ForStatement) NodeType() NodeType { return NodeForStatement }

// ForOfStatement iterates values. Kind is the declaration kind of Left, or
// empty when Left names an existing binding.
type ForOfStatement struct {
	Span
	stmt
	Kind  string      `json:"kind"`
	Left  *Identifier `json:"left"`
	Right Expression  `json:"right"`
	Body  Statement   `json:"body"`
}

func (*ForOfStatement) NodeType() NodeType { return NodeForOfStatement }

// ForInStatement iterates keys.
type ForInStatement struct {
	Span
	stmt
	Kind  string      `json:"kind"`
	Left  *Identifier `json:"left"`
	Right Expression  `json:"right"`
	Body  Statement   `json:"body"`
}

func (*ForInStatement) NodeType() NodeType { return NodeForInStatement }

type WhileStatement struct {
	Span
	stmt
	Test Expression `json:"test"`
	Body Statement  `json:"body"`
}

func (*WhileStatement) NodeType() NodeType { return NodeWhileStatement }

type DoWhileStatement struct {
	Span
	stmt
	Body Statement  `json:"body"`
	Test Expression `json:"test"`
}

func (*DoWhileStatement) NodeType() NodeType { return NodeDoWhileStatement }

type BreakStatement struct {
	Span
	stmt
	Label string `json:"label"`
}

func (*BreakStatement) NodeType() NodeType { return NodeBreakStatement }

type ContinueStatement struct {
	Span
	stmt
	Label string `json:"label"`
}

func (*ContinueStatement) NodeType() NodeType { return NodeContinueStatement }

type LabeledStatement struct {
	Span
	stmt
	Label string    `json:"label"`
	Body  Statement `json:"body"`
}

func (*LabeledStatement) NodeType() NodeType { return NodeLabeledStatement }

type SwitchStatement struct {
	Span
	stmt
	Discriminant Expression    `json:"discriminant"`
	Cases        []*SwitchCase `json:"cases"`
}

func (*SwitchStatement) NodeType() NodeType { return NodeSwitchStatement }

// SwitchCase with a nil Test is the default clause.
type SwitchCase struct {
	Span
	Test       Expression  `json:"test"`
	Consequent []Statement `json:"consequent"`
}

func (*SwitchCase) NodeType() NodeType { return NodeSwitchCase }

type TryStatement struct {
	Span
	stmt
	Block     *BlockStatement `json:"block"`
	Param     *Identifier     `json:"param"`
	Handler   *BlockStatement `json:"handler"`
	Finalizer *BlockStatement `json:"finalizer"`
}

func (*TryStatement) NodeType() NodeType { return NodeTryStatement }

type ThrowStatement struct {
	Span
	stmt
	Argument Expression `json:"argument"`
}

func (*ThrowStatement) NodeType() NodeType { return NodeThrowStatement }

type BlockStatement struct {
	Span
	stmt
	Body []Statement `json:"body"`
}

func (*BlockStatement) NodeType() NodeType { return NodeBlockStatement }

type ExpressionStatement struct {
	Span
	stmt
	Expression Expression `json:"expression"`
}

func (*ExpressionStatement) NodeType() NodeType { return NodeExpressionStatement }

type EmptyStatement struct {
	Span
	stmt
}

func (*EmptyStatement) NodeType() NodeType { return NodeEmptyStatement }

// ImportDeclaration binds names from another module. DefaultLocal binds the
// default export and NamespaceLocal binds the whole export table.
type ImportDeclaration struct {
	Span
	stmt
	Source         string             `json:"source"`
	Specifiers     []*ImportSpecifier `json:"specifiers"`
	DefaultLocal   string             `json:"defaultLocal"`
	NamespaceLocal string             `json:"namespaceLocal"`
}

func (*ImportDeclaration) NodeType() NodeType { return NodeImportDeclaration }

type ImportSpecifier struct {
	Span
	Imported string `json:"imported"`
	Local    string `json:"local"`
}

func (*ImportSpecifier) NodeType() NodeType { return NodeImportSpecifier }

// ExportNamedDeclaration exports either a declaration or a specifier list.
type ExportNamedDeclaration struct {
	Span
	stmt
	Declaration Statement          `json:"declaration"`
	Specifiers  []*ExportSpecifier `json:"specifiers"`
}

func (*ExportNamedDeclaration) NodeType() NodeType { return NodeExportNamedDeclaration }

type ExportSpecifier struct {
	Span
	Local    string `json:"local"`
	Exported string `json:"exported"`
}

func (*ExportSpecifier) NodeType() NodeType { return NodeExportSpecifier }

// ExportDefaultDeclaration exports an expression, function or class as
// "default".
type ExportDefaultDeclaration struct {
	Span
	stmt
	Declaration Node `json:"declaration"`
}

func (*ExportDefaultDeclaration) NodeType() NodeType { return NodeExportDefaultDeclaration }
