package vm

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/chazu/wang/ast"
)

// SnapshotVersion is the version of the snapshot document format.
const SnapshotVersion = 1

// Snapshot is the serialized state of an interpreter: every reachable
// scope, the heap of shared values, the loaded modules, the program trees
// and the captured call stack. It contains only plain data and survives a
// round trip through encoding/json.
//
// Values are encoded as JSON scalars, or as tagged objects:
//
//	{"$ref": n}         heap entry n (arrays, objects, instances, classes,
//	                    closures, bound builtins, settled futures)
//	{"$undefined": true}
//	{"$uninit": true}   a hoisted binding not yet initialized
//	{"$num": "NaN"}     NaN, Infinity and -Infinity
//	{"$host": name}     a host function, re-supplied at restore
//	{"$module": path}   a module namespace
type Snapshot struct {
	Version       int                       `json:"version"`
	Phase         Phase                     `json:"phase"`
	Root          string                    `json:"root"`
	Global        int                       `json:"global"`
	Programs      map[string]map[string]any `json:"programs"`
	Contexts      []*ContextRecord          `json:"contexts"`
	Heap          []*HeapRecord             `json:"heap"`
	Modules       []*ModuleRecord           `json:"modules"`
	CallStack     []*FrameRecord            `json:"callStack"`
	HostFunctions []string                  `json:"hostFunctions"`
	Operations    int64                     `json:"operations"`
	Result        any                       `json:"result,omitempty"`
}

// ContextRecord is one serialized scope. Parent is -1 for the root.
type ContextRecord struct {
	ID          int                      `json:"id"`
	Parent      int                      `json:"parent"`
	Variables   map[string]any           `json:"variables"`
	Kinds       map[string]string        `json:"kinds"`
	Imports     map[string]*ImportRecord `json:"imports,omitempty"`
	Functions   map[string]any           `json:"functions,omitempty"`
	Classes     map[string]any           `json:"classes,omitempty"`
	Exports     map[string]string        `json:"exports,omitempty"`
	ModulePath  string                   `json:"modulePath,omitempty"`
	Function    bool                     `json:"function,omitempty"`
	HasThis     bool                     `json:"hasThis,omitempty"`
	This        any                      `json:"this,omitempty"`
	CtorClass   any                      `json:"ctorClass,omitempty"`
	ThisPending bool                     `json:"thisPending,omitempty"`
	Home        any                      `json:"home,omitempty"`
}

// ImportRecord is an import binding: a live view of a module export.
type ImportRecord struct {
	Module string `json:"module"`
	Export string `json:"export"`
}

// HeapRecord is one shared value. Closures and classes are not value
// serialized: they are rebuilt from their program node and defining scope.
type HeapRecord struct {
	Kind    string   `json:"kind"`
	Elems   []any    `json:"elems,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	Values  []any    `json:"values,omitempty"`
	Name    string   `json:"name,omitempty"`
	Program string   `json:"program,omitempty"`
	Node    int      `json:"node,omitempty"`
	Context int      `json:"context,omitempty"`
	Class   any      `json:"class,omitempty"`
	Super   any      `json:"super,omitempty"`
	Home    any      `json:"home,omitempty"`
	This    any      `json:"this,omitempty"`
	Value   any      `json:"value,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Heap record kinds.
const (
	heapArray    = "array"
	heapObject   = "object"
	heapInstance = "instance"
	heapClass    = "class"
	heapClosure  = "closure"
	heapBuiltin  = "builtin"
	heapFuture   = "future"
)

// ModuleRecord is one entry of the module cache.
type ModuleRecord struct {
	Path       string `json:"path"`
	Source     string `json:"source"`
	InProgress bool   `json:"inProgress,omitempty"`
	Context    int    `json:"context"`
}

// FrameRecord is one captured frame, outermost first.
type FrameRecord struct {
	Kind       FrameKind    `json:"kind"`
	Name       string       `json:"name,omitempty"`
	Program    string       `json:"program"`
	Node       int          `json:"node"`
	Context    int          `json:"context"`
	Index      int          `json:"index,omitempty"`
	Step       int          `json:"step,omitempty"`
	Pending    bool         `json:"pending,omitempty"`
	Items      []any        `json:"items,omitempty"`
	Callee     any          `json:"callee,omitempty"`
	Value      any          `json:"value,omitempty"`
	HasValue   bool         `json:"hasValue,omitempty"`
	Completion string       `json:"completion,omitempty"`
	Label      string       `json:"label,omitempty"`
	Error      *ErrorRecord `json:"error,omitempty"`
}

// ErrorRecord is a throw held by a finally block.
type ErrorRecord struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Module  string    `json:"module,omitempty"`
	Pos     ast.Pos   `json:"pos"`
	Thrown  any       `json:"thrown,omitempty"`
	// HasThrown distinguishes a thrown null from an error without a value.
	HasThrown bool `json:"hasThrown,omitempty"`
}

// JSON renders the snapshot as an indented JSON document.
func (s *Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ParseSnapshot reads a JSON snapshot document.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		e := newError(KindCorruptSnapshot, "invalid snapshot document: %v", err)
		e.Err = err
		return nil, e
	}
	return &s, nil
}

// ---------------------------------------------------------------------------
// Serialize
// ---------------------------------------------------------------------------

type encoder struct {
	i     *Interpreter
	snap  *Snapshot
	ctxID map[*Context]int
	refs  map[any]int
	hosts map[*HostFunction]string

	pendingCtx  []*Context
	pendingHeap []any
}

// Serialize captures the interpreter state. The interpreter must not be
// running. Host futures that are still pending cannot be serialized.
func (i *Interpreter) Serialize() (*Snapshot, error) {
	i.mu.Lock()
	phase := i.phase
	frames := append([]*Frame(nil), i.captured...)
	result := i.result
	i.mu.Unlock()
	if phase == PhaseRunning {
		return nil, fmt.Errorf("vm: cannot serialize a running interpreter")
	}
	e := &encoder{
		i: i,
		snap: &Snapshot{
			Version:       SnapshotVersion,
			Phase:         phase,
			Root:          i.root,
			Programs:      make(map[string]map[string]any),
			HostFunctions: i.HostFunctionNames(),
			Operations:    i.ops.Load(),
		},
		ctxID: make(map[*Context]int),
		refs:  make(map[any]int),
		hosts: make(map[*HostFunction]string),
	}
	for name, h := range i.builtins {
		e.hosts[h] = name
	}
	for name, h := range i.hosts {
		e.hosts[h] = name
	}
	for key, p := range i.programs {
		e.snap.Programs[key] = ast.Encode(p.root)
	}
	e.snap.Global = e.context(i.global)
	for _, m := range i.Modules() {
		e.snap.Modules = append(e.snap.Modules, &ModuleRecord{
			Path:       m.Path,
			Source:     m.Source,
			InProgress: m.InProgress,
			Context:    e.context(m.Context),
		})
	}
	for _, f := range frames {
		rec, err := e.frame(f)
		if err != nil {
			return nil, err
		}
		e.snap.CallStack = append(e.snap.CallStack, rec)
	}
	if phase == PhaseCompleted {
		v, err := e.value(result)
		if err != nil {
			return nil, err
		}
		e.snap.Result = v
	}
	if err := e.drain(); err != nil {
		return nil, err
	}
	log.Debugf("serialized %d contexts, %d heap values, %d frames", len(e.snap.Contexts), len(e.snap.Heap), len(e.snap.CallStack))
	return e.snap, nil
}

// context assigns c an id, parents first, and queues it for encoding.
func (e *encoder) context(c *Context) int {
	if c == nil {
		return -1
	}
	if id, ok := e.ctxID[c]; ok {
		return id
	}
	parent := e.context(c.parent)
	id := len(e.snap.Contexts)
	e.ctxID[c] = id
	e.snap.Contexts = append(e.snap.Contexts, &ContextRecord{ID: id, Parent: parent})
	e.pendingCtx = append(e.pendingCtx, c)
	return id
}

// drain encodes queued contexts and heap values until none remain.
func (e *encoder) drain() error {
	for len(e.pendingCtx) > 0 || len(e.pendingHeap) > 0 {
		if len(e.pendingCtx) > 0 {
			c := e.pendingCtx[0]
			e.pendingCtx = e.pendingCtx[1:]
			if err := e.fillContext(c); err != nil {
				return err
			}
			continue
		}
		v := e.pendingHeap[0]
		e.pendingHeap = e.pendingHeap[1:]
		if err := e.fillHeap(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) fillContext(c *Context) error {
	rec := e.snap.Contexts[e.ctxID[c]]
	rec.Variables = make(map[string]any, len(c.vars))
	rec.Kinds = make(map[string]string, len(c.vars))
	for _, name := range sortedKeys(c.vars) {
		b := c.vars[name]
		rec.Kinds[name] = b.kind.String()
		if b.kind == ImportBinding {
			if rec.Imports == nil {
				rec.Imports = make(map[string]*ImportRecord)
			}
			rec.Imports[name] = &ImportRecord{Module: b.module.Path, Export: b.export}
			continue
		}
		v, err := e.value(b.value)
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		rec.Variables[name] = v
	}
	if len(c.functions) > 0 {
		rec.Functions = make(map[string]any, len(c.functions))
		for _, name := range sortedKeys(c.functions) {
			rec.Functions[name] = e.ref(c.functions[name])
		}
	}
	if len(c.classes) > 0 {
		rec.Classes = make(map[string]any, len(c.classes))
		for _, name := range sortedKeys(c.classes) {
			rec.Classes[name] = e.ref(c.classes[name])
		}
	}
	if c.exports != nil {
		rec.Exports = make(map[string]string, len(c.exports))
		for k, v := range c.exports {
			rec.Exports[k] = v
		}
	}
	rec.ModulePath = c.modulePath
	rec.Function = c.function
	rec.HasThis = c.hasThis
	rec.ThisPending = c.thisPending
	if c.hasThis {
		v, err := e.value(c.this)
		if err != nil {
			return fmt.Errorf("this: %w", err)
		}
		rec.This = v
	}
	if c.ctorClass != nil {
		rec.CtorClass = e.ref(c.ctorClass)
	}
	if c.home != nil {
		rec.Home = e.ref(c.home)
	}
	return nil
}

// ref returns the heap reference of a shared value, queueing it on first
// sight.
func (e *encoder) ref(v any) map[string]any {
	id, ok := e.refs[v]
	if !ok {
		id = len(e.snap.Heap)
		e.refs[v] = id
		e.snap.Heap = append(e.snap.Heap, &HeapRecord{})
		e.pendingHeap = append(e.pendingHeap, v)
	}
	return map[string]any{"$ref": id}
}

func (e *encoder) value(v Value) (any, error) {
	switch x := v.(type) {
	case nil, undefinedType:
		return map[string]any{"$undefined": true}, nil
	case uninitializedType:
		return map[string]any{"$uninit": true}, nil
	case nullType:
		return nil, nil
	case bool, string:
		return x, nil
	case float64:
		switch {
		case math.IsNaN(x):
			return map[string]any{"$num": "NaN"}, nil
		case math.IsInf(x, 1):
			return map[string]any{"$num": "Infinity"}, nil
		case math.IsInf(x, -1):
			return map[string]any{"$num": "-Infinity"}, nil
		}
		return x, nil
	case *HostFunction:
		name, ok := e.hosts[x]
		if !ok {
			return nil, newError(KindTypeMismatch, "host function %s is not bound to this interpreter", x.Name)
		}
		return map[string]any{"$host": name}, nil
	case *ModuleNamespace:
		return map[string]any{"$module": x.Module.Path}, nil
	case *Future:
		if !x.Settled() {
			return nil, newError(KindTypeMismatch, "cannot serialize a pending host value")
		}
		return e.ref(x), nil
	case *Array, *Object, *Instance, *Class, *Closure, *BoundBuiltin:
		return e.ref(x), nil
	}
	return nil, newError(KindTypeMismatch, "cannot serialize value of type %T", v)
}

func (e *encoder) values(vs []Value) ([]any, error) {
	out := make([]any, len(vs))
	for k, v := range vs {
		x, err := e.value(v)
		if err != nil {
			return nil, err
		}
		out[k] = x
	}
	return out, nil
}

func (e *encoder) props(p *props, rec *HeapRecord) error {
	rec.Keys = append([]string{}, p.keys...)
	rec.Values = make([]any, len(p.keys))
	for k, key := range p.keys {
		v, err := e.value(p.values[key])
		if err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
		rec.Values[k] = v
	}
	return nil
}

func (e *encoder) node(n ast.Node, program string) (string, int, error) {
	p, ok := e.i.programs[program]
	if ok {
		if id, ok := p.index.ID(n); ok {
			return program, id, nil
		}
	}
	key, id := e.i.locate(n)
	if id < 0 {
		return "", 0, newError(KindCorruptSnapshot, "%s node is not part of any loaded program", n.NodeType())
	}
	return key, id, nil
}

func (e *encoder) fillHeap(v any) error {
	rec := e.snap.Heap[e.refs[v]]
	var err error
	switch x := v.(type) {
	case *Array:
		rec.Kind = heapArray
		rec.Elems, err = e.values(x.Elems)
	case *Object:
		rec.Kind = heapObject
		err = e.props(&x.props, rec)
	case *Instance:
		rec.Kind = heapInstance
		rec.Class = e.ref(x.Class)
		err = e.props(x.Fields, rec)
	case *Class:
		rec.Kind = heapClass
		rec.Name = x.Name
		rec.Program, rec.Node, err = e.node(x.Node, x.Program)
		if err != nil {
			return err
		}
		rec.Context = e.context(x.Ctx)
		if x.Super != nil {
			rec.Super = e.ref(x.Super)
		}
		err = e.props(x.Statics, rec)
	case *Closure:
		rec.Kind = heapClosure
		rec.Name = x.name
		rec.Program, rec.Node, err = e.node(x.Node, x.Program)
		if err != nil {
			return err
		}
		rec.Context = e.context(x.Ctx)
		if x.Home != nil {
			rec.Home = e.ref(x.Home)
		}
	case *BoundBuiltin:
		rec.Kind = heapBuiltin
		rec.Name = x.Name
		rec.This, err = e.value(x.This)
	case *Future:
		rec.Kind = heapFuture
		r, ferr := x.Result()
		if ferr != nil {
			rec.Error = ferr.Error()
			return nil
		}
		rec.Value, err = e.value(r)
	}
	return err
}

func (e *encoder) frame(f *Frame) (*FrameRecord, error) {
	rec := &FrameRecord{
		Kind:    f.Kind,
		Name:    f.Name,
		Program: f.Program,
		Node:    f.NodeID,
		Context: e.context(f.Context),
		Index:   f.Index,
		Step:    f.Step,
		Pending: f.Pending,
		Label:   f.Label,
	}
	if f.Node != nil {
		var err error
		if rec.Program, rec.Node, err = e.node(f.Node, f.Program); err != nil {
			return nil, err
		}
	}
	if f.Items != nil {
		items, err := e.values(f.Items)
		if err != nil {
			return nil, err
		}
		rec.Items = items
	}
	if f.Callee != nil {
		rec.Callee = e.ref(f.Callee)
	}
	if f.Value != nil {
		v, err := e.value(f.Value)
		if err != nil {
			return nil, err
		}
		rec.Value, rec.HasValue = v, true
	}
	if f.Completion != Normal {
		rec.Completion = f.Completion.String()
	}
	if f.Err != nil {
		rec.Error = &ErrorRecord{Kind: f.Err.Kind, Message: f.Err.Message, Module: f.Err.Module, Pos: f.Err.Pos}
		if f.Err.Thrown != nil {
			v, err := e.value(f.Err.Thrown)
			if err != nil {
				return nil, err
			}
			rec.Error.Thrown, rec.Error.HasThrown = v, true
		}
	}
	return rec, nil
}

// ---------------------------------------------------------------------------
// Deserialize
// ---------------------------------------------------------------------------

type decoder struct {
	i        *Interpreter
	snap     *Snapshot
	contexts []*Context
	heap     []any
	modules  map[string]*Module
}

// Deserialize rebuilds an interpreter from a snapshot. Host functions are
// supplied again through opts; a recorded host function that is missing is
// replaced by a stub that fails when called. A snapshot taken while paused
// yields a paused interpreter ready for Resume.
func Deserialize(snap *Snapshot, opts ...Option) (*Interpreter, error) {
	if snap == nil {
		return nil, newError(KindCorruptSnapshot, "nil snapshot")
	}
	if snap.Version != SnapshotVersion {
		return nil, newError(KindCorruptSnapshot, "unsupported snapshot version %d", snap.Version)
	}
	i := New(opts...)
	d := &decoder{i: i, snap: snap, modules: make(map[string]*Module)}
	for _, name := range snap.HostFunctions {
		if _, ok := i.hosts[name]; !ok {
			log.Warningf("host function %s is not bound; calls to it will fail", name)
			i.hosts[name] = missingHost(name)
		}
	}
	for _, key := range sortedKeys(snap.Programs) {
		n, err := ast.Decode(snap.Programs[key])
		if err != nil {
			return nil, corrupt(err, "program %s", key)
		}
		root, ok := n.(*ast.Program)
		if !ok {
			return nil, newError(KindCorruptSnapshot, "program %s is a %s", key, n.NodeType())
		}
		i.registerProgram(key, root)
	}
	if err := d.buildContexts(); err != nil {
		return nil, err
	}
	for _, rec := range snap.Modules {
		ctx, err := d.context(rec.Context)
		if err != nil {
			return nil, err
		}
		m := &Module{Path: rec.Path, Source: rec.Source, InProgress: rec.InProgress, Context: ctx, program: i.programs[rec.Path]}
		d.modules[rec.Path] = m
		i.modules[rec.Path] = m
	}
	if err := d.allocHeap(); err != nil {
		return nil, err
	}
	for id, rec := range snap.Heap {
		if err := d.fillHeap(id, rec); err != nil {
			return nil, err
		}
	}
	for _, rec := range snap.Contexts {
		if err := d.fillContext(rec); err != nil {
			return nil, err
		}
	}
	global, err := d.context(snap.Global)
	if err != nil {
		return nil, err
	}
	i.global = global
	i.root = snap.Root
	i.ops.Store(snap.Operations)

	var frames []*Frame
	for k, rec := range snap.CallStack {
		f, err := d.frame(rec)
		if err != nil {
			return nil, corrupt(err, "frame %d", k)
		}
		frames = append(frames, f)
	}
	switch {
	case len(frames) > 0:
		i.captured = frames
		i.phase = PhasePaused
		i.current = frames[len(frames)-1].Node
	case snap.Phase == PhaseCompleted:
		v, err := d.value(snap.Result)
		if err != nil {
			return nil, err
		}
		i.result = v
		i.phase = PhaseCompleted
	}
	log.Debugf("restored %d contexts, %d heap values, %d frames", len(d.contexts), len(d.heap), len(frames))
	return i, nil
}

func corrupt(err error, format string, args ...any) *RuntimeError {
	var re *RuntimeError
	if r, ok := err.(*RuntimeError); ok && r.Kind == KindCorruptSnapshot {
		re = newError(KindCorruptSnapshot, "%s: %s", fmt.Sprintf(format, args...), r.Message)
	} else {
		re = newError(KindCorruptSnapshot, "%s: %v", fmt.Sprintf(format, args...), err)
	}
	re.Err = err
	return re
}

// buildContexts creates every scope with its parent link. Parents are
// created before children; a parent cycle or a dangling parent id makes the
// snapshot corrupt.
func (d *decoder) buildContexts() error {
	recs := make(map[int]*ContextRecord, len(d.snap.Contexts))
	for _, rec := range d.snap.Contexts {
		if rec == nil || rec.ID < 0 || rec.ID >= len(d.snap.Contexts) {
			return newError(KindCorruptSnapshot, "context id out of range")
		}
		if _, dup := recs[rec.ID]; dup {
			return newError(KindCorruptSnapshot, "duplicate context id %d", rec.ID)
		}
		recs[rec.ID] = rec
	}
	d.contexts = make([]*Context, len(d.snap.Contexts))
	visiting := make(map[int]bool)
	var build func(id int) error
	build = func(id int) error {
		if d.contexts[id] != nil {
			return nil
		}
		if visiting[id] {
			return newError(KindCorruptSnapshot, "context %d is its own ancestor", id)
		}
		visiting[id] = true
		rec := recs[id]
		var parent *Context
		if rec.Parent >= 0 {
			if _, ok := recs[rec.Parent]; !ok {
				return newError(KindCorruptSnapshot, "context %d has unknown parent %d", id, rec.Parent)
			}
			if err := build(rec.Parent); err != nil {
				return err
			}
			parent = d.contexts[rec.Parent]
		}
		c := NewContext(parent)
		c.modulePath = rec.ModulePath
		c.function = rec.Function
		c.hasThis = rec.HasThis
		c.thisPending = rec.ThisPending
		if rec.Exports != nil {
			c.exports = make(map[string]string, len(rec.Exports))
			for k, v := range rec.Exports {
				c.exports[k] = v
			}
		}
		d.contexts[id] = c
		return nil
	}
	ids := make([]int, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if err := build(id); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) context(id int) (*Context, error) {
	if id < 0 {
		return nil, nil
	}
	if id >= len(d.contexts) {
		return nil, newError(KindCorruptSnapshot, "unknown context %d", id)
	}
	return d.contexts[id], nil
}

func (d *decoder) allocHeap() error {
	d.heap = make([]any, len(d.snap.Heap))
	for id, rec := range d.snap.Heap {
		switch rec.Kind {
		case heapArray:
			d.heap[id] = &Array{}
		case heapObject:
			d.heap[id] = &Object{props: *newProps()}
		case heapInstance:
			d.heap[id] = &Instance{Fields: newProps()}
		case heapClass:
			d.heap[id] = &Class{Statics: newProps(), Methods: map[string]*Closure{}}
		case heapClosure:
			d.heap[id] = &Closure{}
		case heapBuiltin:
			d.heap[id] = &BoundBuiltin{}
		case heapFuture:
			d.heap[id] = NewFuture()
		default:
			return newError(KindCorruptSnapshot, "heap entry %d has unknown kind %q", id, rec.Kind)
		}
	}
	return nil
}

func (d *decoder) heapRef(x any, want string) (any, error) {
	m, ok := x.(map[string]any)
	if !ok {
		return nil, newError(KindCorruptSnapshot, "expected %s reference, got %T", want, x)
	}
	id, ok := toIndex(m["$ref"])
	if !ok || id >= len(d.heap) {
		return nil, newError(KindCorruptSnapshot, "bad %s reference", want)
	}
	if d.snap.Heap[id].Kind != want {
		return nil, newError(KindCorruptSnapshot, "heap entry %d is a %s, want %s", id, d.snap.Heap[id].Kind, want)
	}
	return d.heap[id], nil
}

func (d *decoder) classRef(x any) (*Class, error) {
	v, err := d.heapRef(x, heapClass)
	if err != nil {
		return nil, err
	}
	return v.(*Class), nil
}

func (d *decoder) closureRef(x any) (*Closure, error) {
	v, err := d.heapRef(x, heapClosure)
	if err != nil {
		return nil, err
	}
	return v.(*Closure), nil
}

func toIndex(x any) (int, bool) {
	switch n := x.(type) {
	case float64:
		if n >= 0 && n == math.Trunc(n) {
			return int(n), true
		}
	case int:
		return n, n >= 0
	case int64:
		return int(n), n >= 0
	case uint64:
		return int(n), true
	}
	return 0, false
}

func (d *decoder) value(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null, nil
	case bool, string, float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case map[string]any:
		return d.tagged(v)
	}
	return nil, newError(KindCorruptSnapshot, "unexpected value of type %T", x)
}

func (d *decoder) tagged(m map[string]any) (Value, error) {
	if r, ok := m["$ref"]; ok {
		id, ok := toIndex(r)
		if !ok || id >= len(d.heap) {
			return nil, newError(KindCorruptSnapshot, "bad heap reference %v", r)
		}
		return d.heap[id], nil
	}
	if _, ok := m["$undefined"]; ok {
		return Undefined, nil
	}
	if _, ok := m["$uninit"]; ok {
		return Uninitialized, nil
	}
	if s, ok := m["$num"].(string); ok {
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	if name, ok := m["$host"].(string); ok {
		if h, ok := d.i.hosts[name]; ok {
			return h, nil
		}
		if h, ok := d.i.builtins[name]; ok {
			return h, nil
		}
		log.Warningf("host function %s is not bound; calls to it will fail", name)
		h := missingHost(name)
		d.i.hosts[name] = h
		return h, nil
	}
	if p, ok := m["$module"].(string); ok {
		mod, ok := d.modules[p]
		if !ok {
			return nil, newError(KindCorruptSnapshot, "namespace of unknown module %s", p)
		}
		return &ModuleNamespace{Module: mod}, nil
	}
	return nil, newError(KindCorruptSnapshot, "unrecognized tagged value")
}

func (d *decoder) values(xs []any) ([]Value, error) {
	out := make([]Value, len(xs))
	for k, x := range xs {
		v, err := d.value(x)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (d *decoder) props(rec *HeapRecord, p *props) error {
	if len(rec.Keys) != len(rec.Values) {
		return newError(KindCorruptSnapshot, "property keys and values differ in length")
	}
	for k, key := range rec.Keys {
		v, err := d.value(rec.Values[k])
		if err != nil {
			return err
		}
		p.set(key, v)
	}
	return nil
}

func (d *decoder) node(program string, id int) (ast.Node, error) {
	n, ok := d.i.nodeAt(program, id)
	if !ok {
		return nil, newError(KindCorruptSnapshot, "node %d of program %q does not exist", id, program)
	}
	return n, nil
}

func (d *decoder) fillHeap(id int, rec *HeapRecord) error {
	switch x := d.heap[id].(type) {
	case *Array:
		elems, err := d.values(rec.Elems)
		if err != nil {
			return err
		}
		x.Elems = elems
	case *Object:
		return d.props(rec, &x.props)
	case *Instance:
		cls, err := d.classRef(rec.Class)
		if err != nil {
			return err
		}
		x.Class = cls
		return d.props(rec, x.Fields)
	case *Class:
		n, err := d.node(rec.Program, rec.Node)
		if err != nil {
			return err
		}
		decl, ok := n.(*ast.ClassDeclaration)
		if !ok {
			return newError(KindCorruptSnapshot, "class %s refers to a %s", rec.Name, n.NodeType())
		}
		ctx, err := d.context(rec.Context)
		if err != nil {
			return err
		}
		x.Name, x.Node, x.Ctx, x.Program = rec.Name, decl, ctx, rec.Program
		if rec.Super != nil {
			if x.Super, err = d.classRef(rec.Super); err != nil {
				return err
			}
		}
		d.i.bindMethods(x, false)
		return d.props(rec, x.Statics)
	case *Closure:
		n, err := d.node(rec.Program, rec.Node)
		if err != nil {
			return err
		}
		fn, ok := n.(ast.Function)
		if !ok {
			return newError(KindCorruptSnapshot, "closure %s refers to a %s", rec.Name, n.NodeType())
		}
		ctx, err := d.context(rec.Context)
		if err != nil {
			return err
		}
		x.Node, x.Ctx, x.Program, x.name = fn, ctx, rec.Program, rec.Name
		if rec.Home != nil {
			if x.Home, err = d.classRef(rec.Home); err != nil {
				return err
			}
		}
	case *BoundBuiltin:
		this, err := d.value(rec.This)
		if err != nil {
			return err
		}
		b, ok := lookupIntrinsic(rec.Name, this)
		if !ok {
			return newError(KindCorruptSnapshot, "unknown builtin %s", rec.Name)
		}
		*x = *b
	case *Future:
		if rec.Error != "" {
			x.Reject(fmt.Errorf("%s", rec.Error))
			return nil
		}
		v, err := d.value(rec.Value)
		if err != nil {
			return err
		}
		x.Resolve(v)
	}
	return nil
}

func (d *decoder) fillContext(rec *ContextRecord) error {
	c := d.contexts[rec.ID]
	for name, kindName := range rec.Kinds {
		kind, ok := parseBindingKind(kindName)
		if !ok {
			return newError(KindCorruptSnapshot, "variable %s has unknown kind %q", name, kindName)
		}
		if kind == ImportBinding {
			imp := rec.Imports[name]
			if imp == nil {
				return newError(KindCorruptSnapshot, "import %s has no source", name)
			}
			m, ok := d.modules[imp.Module]
			if !ok {
				return newError(KindCorruptSnapshot, "import %s names unknown module %s", name, imp.Module)
			}
			c.vars[name] = &binding{kind: ImportBinding, module: m, export: imp.Export}
			continue
		}
		v, err := d.value(rec.Variables[name])
		if err != nil {
			return corrupt(err, "variable %s", name)
		}
		c.vars[name] = &binding{kind: kind, value: v}
	}
	for name, r := range rec.Functions {
		fn, err := d.closureRef(r)
		if err != nil {
			return err
		}
		c.functions[name] = fn
	}
	for name, r := range rec.Classes {
		cls, err := d.classRef(r)
		if err != nil {
			return err
		}
		c.classes[name] = cls
	}
	if rec.HasThis {
		v, err := d.value(rec.This)
		if err != nil {
			return err
		}
		c.this = v
	}
	var err error
	if rec.CtorClass != nil {
		if c.ctorClass, err = d.classRef(rec.CtorClass); err != nil {
			return err
		}
	}
	if rec.Home != nil {
		if c.home, err = d.classRef(rec.Home); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) frame(rec *FrameRecord) (*Frame, error) {
	n, err := d.node(rec.Program, rec.Node)
	if err != nil {
		return nil, err
	}
	ctx, err := d.context(rec.Context)
	if err != nil {
		return nil, err
	}
	f := &Frame{
		Kind:    rec.Kind,
		Name:    rec.Name,
		Program: rec.Program,
		NodeID:  rec.Node,
		Node:    n,
		Context: ctx,
		Index:   rec.Index,
		Step:    rec.Step,
		Pending: rec.Pending,
		Label:   rec.Label,
	}
	if rec.Items != nil {
		if f.Items, err = d.values(rec.Items); err != nil {
			return nil, err
		}
	}
	if rec.Callee != nil {
		if f.Callee, err = d.closureRef(rec.Callee); err != nil {
			return nil, err
		}
	}
	if rec.HasValue {
		if f.Value, err = d.value(rec.Value); err != nil {
			return nil, err
		}
	}
	if rec.Completion != "" {
		ok := false
		for t, name := range completionNames {
			if name == rec.Completion {
				f.Completion, ok = CompletionType(t), true
			}
		}
		if !ok {
			return nil, newError(KindCorruptSnapshot, "unknown completion %q", rec.Completion)
		}
	}
	if rec.Error != nil {
		re := &RuntimeError{Kind: rec.Error.Kind, Message: rec.Error.Message, Module: rec.Error.Module, Pos: rec.Error.Pos}
		if rec.Error.HasThrown {
			if re.Thrown, err = d.value(rec.Error.Thrown); err != nil {
				return nil, err
			}
		}
		f.Err = re
	}
	switch f.Kind {
	case FrameBlock, FrameLoop, FrameIf, FrameTry, FrameSwitch:
	case FrameCall:
		if f.Callee == nil || f.Context == nil {
			return nil, newError(KindCorruptSnapshot, "call frame without callee or scope")
		}
	default:
		return nil, newError(KindCorruptSnapshot, "unknown frame kind %q", f.Kind)
	}
	return f, nil
}
