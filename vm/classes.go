package vm

import (
	"github.com/chazu/wang/ast"
)

// Class is a class value. Instance methods and the constructor are closures
// over the scope the class was declared in.
type Class struct {
	Name        string
	Node        *ast.ClassDeclaration
	Ctx         *Context
	Program     string
	Super       *Class
	Constructor *Closure
	Methods     map[string]*Closure
	Statics     *props
}

// Instance is an object created by new.
type Instance struct {
	Class  *Class
	Fields *props
}

// Get reads an own field.
func (o *Instance) Get(k string) (Value, bool) { return o.Fields.get(k) }

func (i *Interpreter) declareClass(n *ast.ClassDeclaration, ctx *Context) (*Class, error) {
	if n.ID == nil {
		return nil, newError(KindTypeMismatch, "class declaration requires a name")
	}
	var super *Class
	if n.SuperClass != nil {
		v, err := i.evalExpr(n.SuperClass, ctx)
		if err != nil {
			return nil, err
		}
		sc, ok := v.(*Class)
		if !ok {
			return nil, i.annotate(newError(KindTypeMismatch, "class %s extends %s, which is not a class", n.ID.Name, Inspect(v)), n.SuperClass, ctx)
		}
		super = sc
	}
	cls := &Class{
		Name:    n.ID.Name,
		Node:    n,
		Ctx:     ctx,
		Program: i.currentProgram(),
		Super:   super,
		Statics: newProps(),
	}
	i.bindMethods(cls, true)
	if err := ctx.DeclareClass(cls.Name, cls); err != nil {
		return nil, i.annotate(err, n, ctx)
	}
	for _, m := range n.Members {
		if m.Kind != ast.MemberField || !m.Static {
			continue
		}
		v, err := i.fieldValue(cls, cls, m)
		if err != nil {
			return nil, err
		}
		cls.Statics.set(m.Key, v)
	}
	return cls, nil
}

// bindMethods creates the method closures of a class. Static methods are
// only created with statics set; a restored class already carries them.
func (i *Interpreter) bindMethods(cls *Class, statics bool) {
	cls.Methods = make(map[string]*Closure)
	for _, m := range cls.Node.Members {
		fn, ok := m.Value.(ast.Function)
		if !ok {
			continue
		}
		c := &Closure{Node: fn, Ctx: cls.Ctx, Program: cls.Program, Home: cls, name: m.Key}
		switch {
		case m.Kind == ast.MemberConstructor:
			c.name = cls.Name
			cls.Constructor = c
		case m.Kind == ast.MemberMethod && m.Static:
			if statics {
				cls.Statics.set(m.Key, c)
			}
		case m.Kind == ast.MemberMethod:
			cls.Methods[m.Key] = c
		}
	}
}

// findMethod looks up an instance method on the class and its ancestors.
func (c *Class) findMethod(name string) *Closure {
	for k := c; k != nil; k = k.Super {
		if m, ok := k.Methods[name]; ok {
			return m
		}
	}
	return nil
}

// findStatic looks up a static member on the class and its ancestors.
func (c *Class) findStatic(name string) (Value, bool) {
	for k := c; k != nil; k = k.Super {
		if v, ok := k.Statics.get(name); ok {
			return v, true
		}
	}
	return nil, false
}

func (c *Class) isSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
	}
	return false
}

func instanceOf(v, cls Value) (Value, error) {
	c, ok := cls.(*Class)
	if !ok {
		return nil, newError(KindTypeMismatch, "right-hand side of instanceof is not a class")
	}
	inst, ok := v.(*Instance)
	return ok && inst.Class.isSubclassOf(c), nil
}

// construct creates an instance of cls.
func (i *Interpreter) construct(cls *Class, args []Value, pos ast.Pos) (Value, error) {
	inst := &Instance{Class: cls, Fields: newProps()}
	if err := i.initInstance(cls, inst, args, pos); err != nil {
		return nil, err
	}
	return inst, nil
}

// initInstance runs the construction of cls on inst. A base class
// initializes its fields and then runs its constructor; a derived class
// constructor must call super, which constructs the parent part and then
// initializes the derived fields. A class without a constructor passes its
// arguments to the parent.
func (i *Interpreter) initInstance(cls *Class, inst *Instance, args []Value, pos ast.Pos) error {
	if cls.Constructor == nil {
		if cls.Super != nil {
			if err := i.initInstance(cls.Super, inst, args, pos); err != nil {
				return err
			}
		}
		return i.initFields(cls, inst)
	}
	if cls.Super == nil {
		if err := i.initFields(cls, inst); err != nil {
			return err
		}
	}
	_, err := i.invoke(cls.Constructor, inst, args, false, pos, &construction{class: cls, inst: inst})
	return err
}

func (i *Interpreter) initFields(cls *Class, inst *Instance) error {
	for _, m := range cls.Node.Members {
		if m.Kind != ast.MemberField || m.Static {
			continue
		}
		v, err := i.fieldValue(cls, inst, m)
		if err != nil {
			return err
		}
		inst.Fields.set(m.Key, v)
	}
	return nil
}

func (i *Interpreter) fieldValue(cls *Class, this Value, m *ast.ClassMember) (Value, error) {
	if m.Value == nil {
		return Undefined, nil
	}
	fctx := newFunctionContext(cls.Ctx)
	fctx.hasThis = true
	fctx.this = this
	fctx.home = cls
	v, err := i.evalExpr(m.Value, fctx)
	if err != nil {
		return nil, err
	}
	if c, ok := v.(*Closure); ok && c.Name() == "" {
		c.name = m.Key
	}
	return v, nil
}

// superCall runs super(...) inside a derived constructor.
func (i *Interpreter) superCall(n *ast.CallExpression, ctx *Context) (Value, error) {
	s := ctx.thisContext()
	if s == nil || s.ctorClass == nil {
		return nil, newError(KindTypeMismatch, "'super' call outside of a constructor")
	}
	if s.ctorClass.Super == nil {
		return nil, newError(KindTypeMismatch, "class %s has no superclass", s.ctorClass.Name)
	}
	if !s.thisPending {
		return nil, newError(KindTypeMismatch, "super constructor may only be called once")
	}
	args, err := i.evalList(n.Arguments, ctx)
	if err != nil {
		return nil, err
	}
	inst := s.this.(*Instance)
	if err := i.initInstance(s.ctorClass.Super, inst, args, n.Position()); err != nil {
		return nil, err
	}
	s.thisPending = false
	if err := i.initFields(s.ctorClass, inst); err != nil {
		return nil, err
	}
	return Undefined, nil
}

// superMember resolves super.name against the superclass of the class that
// owns the running method. It also returns the receiver a call binds.
func (i *Interpreter) superMember(name string, ctx *Context) (Value, Value, error) {
	var home *Class
	for s := ctx; s != nil; s = s.parent {
		if s.home != nil {
			home = s.home
			break
		}
	}
	if home == nil || home.Super == nil {
		return nil, nil, newError(KindTypeMismatch, "'super' keyword unexpected here")
	}
	this, err := i.thisValue(ctx)
	if err != nil {
		return nil, nil, err
	}
	if _, static := this.(*Class); static {
		if v, ok := home.Super.findStatic(name); ok {
			return v, this, nil
		}
		return Undefined, this, nil
	}
	if m := home.Super.findMethod(name); m != nil {
		return m, this, nil
	}
	return Undefined, this, nil
}
