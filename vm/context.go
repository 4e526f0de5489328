package vm

import (
	"sort"

	"github.com/chazu/wang/ast"
)

// BindingKind describes how a name was declared.
type BindingKind uint8

const (
	// Immutable bindings come from const declarations.
	Immutable BindingKind = iota
	// MutableBlock bindings come from let declarations and parameters.
	MutableBlock
	// MutableHoisted bindings come from var declarations. They exist from
	// the start of the enclosing function or module, holding Uninitialized.
	MutableHoisted
	// ImportBinding is a read-only live view of another module's export.
	ImportBinding
)

var bindingKindNames = [...]string{"const", "let", "var", "import"}

func (k BindingKind) String() string {
	if int(k) < len(bindingKindNames) {
		return bindingKindNames[k]
	}
	return "unknown"
}

func parseBindingKind(s string) (BindingKind, bool) {
	for i, n := range bindingKindNames {
		if n == s {
			return BindingKind(i), true
		}
	}
	return 0, false
}

type binding struct {
	kind  BindingKind
	value Value

	// import bindings
	module *Module
	export string
}

// Context is one scope in the scope chain. Contexts are shared by reference
// between every closure and frame that captured them.
type Context struct {
	parent *Context

	vars      map[string]*binding
	functions map[string]*Closure
	classes   map[string]*Class

	// exports maps an exported name to the local binding that backs it.
	exports map[string]string

	modulePath string
	function   bool

	hasThis bool
	this    Value

	// Derived-class constructor state: this is unusable until super() runs.
	ctorClass   *Class
	thisPending bool

	// home is the class whose method or field initializer owns this scope;
	// super resolves against its superclass.
	home *Class

	node ast.Node
}

// NewContext creates a child scope of parent. A nil parent creates a root.
func NewContext(parent *Context) *Context {
	return &Context{
		parent:    parent,
		vars:      make(map[string]*binding),
		functions: make(map[string]*Closure),
		classes:   make(map[string]*Class),
	}
}

func newFunctionContext(parent *Context) *Context {
	c := NewContext(parent)
	c.function = true
	return c
}

func newModuleContext(parent *Context, path string) *Context {
	c := newFunctionContext(parent)
	c.modulePath = path
	c.exports = make(map[string]string)
	return c
}

// Parent returns the enclosing scope, or nil for the root.
func (c *Context) Parent() *Context { return c.parent }

// ModulePath returns the path of the module this scope belongs to.
func (c *Context) ModulePath() string {
	for s := c; s != nil; s = s.parent {
		if s.modulePath != "" {
			return s.modulePath
		}
	}
	return ""
}

// CurrentNode returns the statement most recently evaluated in this scope.
func (c *Context) CurrentNode() ast.Node { return c.node }

func (c *Context) ownsName(name string) bool {
	if _, ok := c.vars[name]; ok {
		return true
	}
	if _, ok := c.functions[name]; ok {
		return true
	}
	_, ok := c.classes[name]
	return ok
}

// Declare creates a binding in this scope. Redeclaring a name that already
// exists here fails with DuplicateDeclaration, except that var may repeat a
// var.
func (c *Context) Declare(name string, kind BindingKind, v Value) error {
	if b, ok := c.vars[name]; ok {
		if kind == MutableHoisted && b.kind == MutableHoisted {
			b.value = v
			return nil
		}
		return newError(KindDuplicateDeclaration, "%s has already been declared", name)
	}
	if c.ownsName(name) {
		return newError(KindDuplicateDeclaration, "%s has already been declared", name)
	}
	c.vars[name] = &binding{kind: kind, value: v}
	return nil
}

func (c *Context) declareImport(name string, m *Module, export string) error {
	if c.ownsName(name) {
		return newError(KindDuplicateDeclaration, "%s has already been declared", name)
	}
	c.vars[name] = &binding{kind: ImportBinding, module: m, export: export}
	return nil
}

// DeclareFunction registers a function declaration in this scope.
func (c *Context) DeclareFunction(name string, fn *Closure) error {
	if b, ok := c.vars[name]; ok && b.kind != MutableHoisted {
		return newError(KindDuplicateDeclaration, "%s has already been declared", name)
	}
	if _, ok := c.classes[name]; ok {
		return newError(KindDuplicateDeclaration, "%s has already been declared", name)
	}
	delete(c.vars, name)
	c.functions[name] = fn
	return nil
}

// DeclareClass registers a class declaration in this scope.
func (c *Context) DeclareClass(name string, cls *Class) error {
	if c.ownsName(name) {
		return newError(KindDuplicateDeclaration, "%s has already been declared", name)
	}
	c.classes[name] = cls
	return nil
}

// Lookup walks the chain toward the root and returns the first binding of
// name. Variables shadow functions, which shadow classes, within one scope.
// A hoisted binding read before its declaration yields Uninitialized.
func (c *Context) Lookup(name string) (Value, bool) {
	v, err := c.read(name)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (c *Context) read(name string) (Value, error) {
	for s := c; s != nil; s = s.parent {
		if b, ok := s.vars[name]; ok {
			if b.kind == ImportBinding {
				return b.module.readExport(b.export)
			}
			return b.value, nil
		}
		if fn, ok := s.functions[name]; ok {
			return fn, nil
		}
		if cls, ok := s.classes[name]; ok {
			return cls, nil
		}
	}
	return nil, undefinedVariable(name)
}

// Assign updates the nearest binding of name.
func (c *Context) Assign(name string, v Value) error {
	for s := c; s != nil; s = s.parent {
		if b, ok := s.vars[name]; ok {
			switch b.kind {
			case Immutable:
				return newError(KindConstReassignment, "assignment to constant variable %s", name)
			case ImportBinding:
				return newError(KindConstReassignment, "assignment to imported binding %s", name)
			}
			b.value = v
			return nil
		}
		if _, ok := s.functions[name]; ok {
			delete(s.functions, name)
			s.vars[name] = &binding{kind: MutableHoisted, value: v}
			return nil
		}
		if _, ok := s.classes[name]; ok {
			return newError(KindConstReassignment, "assignment to class %s", name)
		}
	}
	return undefinedVariable(name)
}

// initializeHoisted gives a var binding its declared value. The binding
// lives in the nearest function scope.
func (c *Context) initializeHoisted(name string, v Value) {
	for s := c; s != nil; s = s.parent {
		if b, ok := s.vars[name]; ok && b.kind == MutableHoisted {
			b.value = v
			return
		}
		if s.function {
			s.vars[name] = &binding{kind: MutableHoisted, value: v}
			return
		}
	}
}

// VisibleNames lists every name reachable from this scope.
func (c *Context) VisibleNames() []string {
	seen := map[string]bool{}
	var out []string
	for s := c; s != nil; s = s.parent {
		for _, m := range []map[string]bool{keySet(s.vars), keySet(s.functions), keySet(s.classes)} {
			for n := range m {
				if !seen[n] {
					seen[n] = true
					out = append(out, n)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func keySet[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// Snapshot returns the values of every visible name; the closest scope wins
// when names collide.
func (c *Context) Snapshot() map[string]Value {
	out := map[string]Value{}
	for s := c; s != nil; s = s.parent {
		for n, b := range s.vars {
			if _, ok := out[n]; ok {
				continue
			}
			if b.kind == ImportBinding {
				v, err := b.module.readExport(b.export)
				if err != nil {
					v = Undefined
				}
				out[n] = v
				continue
			}
			out[n] = b.value
		}
		for n, fn := range s.functions {
			if _, ok := out[n]; !ok {
				out[n] = fn
			}
		}
		for n, cls := range s.classes {
			if _, ok := out[n]; !ok {
				out[n] = cls
			}
		}
	}
	return out
}

// Exports returns the current value of every export of a module scope.
// Exports whose backing binding is not yet initialized are omitted.
func (c *Context) Exports() map[string]Value {
	out := map[string]Value{}
	for name := range c.exports {
		if v, err := c.exportValue(name); err == nil {
			out[name] = v
		}
	}
	return out
}

func (c *Context) addExport(exported, local string) {
	if c.exports == nil {
		c.exports = make(map[string]string)
	}
	c.exports[exported] = local
}

func (c *Context) exportValue(name string) (Value, error) {
	local, ok := c.exports[name]
	if !ok {
		return nil, undefinedVariable(name)
	}
	if b, ok := c.vars[local]; ok {
		if b.kind == ImportBinding {
			return b.module.readExport(b.export)
		}
		if b.value == Uninitialized {
			return nil, undefinedVariable(name)
		}
		return b.value, nil
	}
	if fn, ok := c.functions[local]; ok {
		return fn, nil
	}
	if cls, ok := c.classes[local]; ok {
		return cls, nil
	}
	return nil, undefinedVariable(name)
}

// thisContext finds the scope that binds this.
func (c *Context) thisContext() *Context {
	for s := c; s != nil; s = s.parent {
		if s.hasThis {
			return s
		}
	}
	return nil
}

// nearestFunction returns the closest function or module scope.
func (c *Context) nearestFunction() *Context {
	for s := c; s != nil; s = s.parent {
		if s.function {
			return s
		}
	}
	return c
}
