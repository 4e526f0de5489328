package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/wang/ast"
)

var log = commonlog.GetLogger("wang.vm")

const mainProgram = "<main>"

// Config holds the engine tunables.
type Config struct {
	// CheckpointInterval is how many operations pass between polls for
	// pause and abort. 1 polls at every checkpoint.
	CheckpointInterval int64
	// MaxCallDepth bounds nested calls.
	MaxCallDepth int
	// CollectMetadata records console output and timings for
	// ExecuteWithMetadata.
	CollectMetadata bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		CheckpointInterval: 1,
		MaxCallDepth:       512,
	}
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithHostFunctions binds host functions into the root scope. Only bound
// functions are reachable from scripts.
func WithHostFunctions(fns map[string]HostFunc) Option {
	return func(i *Interpreter) {
		for name, fn := range fns {
			i.hosts[name] = &HostFunction{Name: name, Fn: fn}
		}
	}
}

// WithHostFunction binds a single host function.
func WithHostFunction(name string, fn HostFunc) Option {
	return func(i *Interpreter) {
		i.hosts[name] = &HostFunction{Name: name, Fn: fn}
	}
}

// WithResolver sets the module resolver used by import declarations.
func WithResolver(r ModuleResolver) Option {
	return func(i *Interpreter) { i.resolver = r }
}

// WithParser sets the parser used for ExecuteSource and module sources.
func WithParser(p Parser) Option {
	return func(i *Interpreter) { i.parser = p }
}

// WithConfig replaces the engine configuration. Zero fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(i *Interpreter) {
		if cfg.CheckpointInterval > 0 {
			i.cfg.CheckpointInterval = cfg.CheckpointInterval
		}
		if cfg.MaxCallDepth > 0 {
			i.cfg.MaxCallDepth = cfg.MaxCallDepth
		}
		i.cfg.CollectMetadata = cfg.CollectMetadata
	}
}

// WithMetadata enables metadata collection.
func WithMetadata(on bool) Option {
	return func(i *Interpreter) { i.cfg.CollectMetadata = on }
}

// Phase is the lifecycle state of an interpreter.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseError     Phase = "error"
)

// NodeInfo identifies a node for diagnostics.
type NodeInfo struct {
	Type    ast.NodeType `json:"type"`
	Pos     ast.Pos      `json:"pos"`
	Program string       `json:"program"`
	ID      int          `json:"id"`
}

// ExecutionState describes where an interpreter is.
type ExecutionState struct {
	Phase      Phase
	Node       *NodeInfo
	CallStack  []Frame
	Result     Value
	Err        error
	Operations int64
}

// LogEntry is one console line captured for metadata.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Result is returned by ExecuteWithMetadata.
type Result struct {
	Value      Value
	Logs       []LogEntry
	Operations int64
	Duration   time.Duration
}

type program struct {
	key   string
	root  *ast.Program
	index *ast.Index
}

// activation is a live function call.
type activation struct {
	name     string
	closure  *Closure
	program  string
	ctx      *Context
	callPos  ast.Pos
	pausable bool
}

// Interpreter runs programs. An interpreter executes one program at a time;
// Pause, Abort and ExecutionState may be called from any goroutine.
type Interpreter struct {
	cfg      Config
	hosts    map[string]*HostFunction
	builtins map[string]*HostFunction
	resolver ModuleResolver
	parser   Parser

	global   *Context
	programs map[string]*program
	modules  map[string]*Module
	loading  []string

	mu       sync.Mutex
	phase    Phase
	result   Value
	err      error
	abortCh  chan struct{}
	abortSet bool

	pauseRequested atomic.Bool
	pauseAt        atomic.Int64
	abortRequested atomic.Bool
	ops            atomic.Int64

	// Evaluation state, owned by the goroutine running Execute or Resume.
	ctx        context.Context
	root       string
	frames     []*activation
	captured   []*Frame
	cursor     []*Frame
	pipe       []Value
	maySuspend bool
	unwinding  int
	current    ast.Node
	logs       []LogEntry
}

// New creates an interpreter with the given options.
func New(opts ...Option) *Interpreter {
	i := &Interpreter{
		cfg:      DefaultConfig(),
		hosts:    make(map[string]*HostFunction),
		parser:   ast.DocumentParser{},
		programs: make(map[string]*program),
		modules:  make(map[string]*Module),
		phase:    PhaseIdle,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.builtins = builtinFunctions()
	i.global = newFunctionContext(nil)
	i.global.hasThis = true
	i.global.this = Undefined
	i.installGlobals(i.global)
	return i
}

// Global returns the root scope.
func (i *Interpreter) Global() *Context { return i.global }

// HostFunctionNames lists the host functions bound into this interpreter.
func (i *Interpreter) HostFunctionNames() []string {
	return sortedKeys(i.hosts)
}

func (i *Interpreter) installGlobals(ctx *Context) {
	for _, name := range sortedKeys(i.hosts) {
		ctx.vars[name] = &binding{kind: Immutable, value: i.hosts[name]}
	}
	ctx.vars["console"] = &binding{kind: Immutable, value: NewObject(map[string]Value{
		"log":   i.builtins["console.log"],
		"warn":  i.builtins["console.warn"],
		"error": i.builtins["console.error"],
	})}
	if _, ok := ctx.vars["Error"]; !ok {
		ctx.vars["Error"] = &binding{kind: Immutable, value: i.builtins["Error"]}
	}
}

func (i *Interpreter) registerProgram(key string, root *ast.Program) *program {
	if p, ok := i.programs[key]; ok && p.root == root {
		return p
	}
	p := &program{key: key, root: root, index: ast.NewIndex(root)}
	i.programs[key] = p
	return p
}

// locate finds the program and id of a node.
func (i *Interpreter) locate(n ast.Node) (string, int) {
	if n == nil {
		return "", -1
	}
	if p, ok := i.programs[i.currentProgram()]; ok {
		if id, ok := p.index.ID(n); ok {
			return p.key, id
		}
	}
	for _, key := range sortedKeys(i.programs) {
		if id, ok := i.programs[key].index.ID(n); ok {
			return key, id
		}
	}
	return "", -1
}

func (i *Interpreter) nodeAt(key string, id int) (ast.Node, bool) {
	p, ok := i.programs[key]
	if !ok {
		return nil, false
	}
	return p.index.Node(id)
}

func (i *Interpreter) currentProgram() string {
	if len(i.frames) > 0 {
		return i.frames[len(i.frames)-1].program
	}
	return i.root
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Execute runs a program against the root scope and returns the value of
// its last top-level expression statement. It returns ErrPaused if a pause
// was taken.
func (i *Interpreter) Execute(ctx context.Context, prog *ast.Program) (Value, error) {
	if prog == nil {
		return nil, errors.New("vm: nil program")
	}
	key := mainProgram
	if p, ok := i.programs[key]; ok && p.root != prog {
		key = fmt.Sprintf("%s#%d", mainProgram, len(i.programs))
	}
	p := i.registerProgram(key, prog)
	return i.run(ctx, false, func() Completion {
		i.root = p.key
		return i.execProgram(p, i.global)
	})
}

// ExecuteSource parses source with the configured parser and runs it.
func (i *Interpreter) ExecuteSource(ctx context.Context, source, path string) (Value, error) {
	prog, err := i.parser.Parse(source, path)
	if err != nil {
		return nil, fmt.Errorf("vm: parse %s: %w", path, err)
	}
	return i.Execute(ctx, prog)
}

// ExecuteWithMetadata runs a program and reports console output, operation
// count and wall time along with the value. Output emitted before a failure
// is not returned.
func (i *Interpreter) ExecuteWithMetadata(ctx context.Context, prog *ast.Program) (*Result, error) {
	saved := i.cfg.CollectMetadata
	i.cfg.CollectMetadata = true
	defer func() { i.cfg.CollectMetadata = saved }()
	i.logs = nil
	start := time.Now()
	before := i.ops.Load()
	v, err := i.Execute(ctx, prog)
	res := &Result{
		Value:      v,
		Logs:       i.logs,
		Operations: i.ops.Load() - before,
		Duration:   time.Since(start),
	}
	i.logs = nil
	if errors.Is(err, ErrPaused) {
		return res, err
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Resume continues a paused execution from its captured frames.
func (i *Interpreter) Resume(ctx context.Context) (Value, error) {
	i.mu.Lock()
	if i.phase != PhasePaused {
		phase := i.phase
		i.mu.Unlock()
		return nil, fmt.Errorf("vm: cannot resume from phase %s", phase)
	}
	frames := append([]*Frame(nil), i.captured...)
	i.mu.Unlock()
	if len(frames) == 0 || frames[0].Kind != FrameBlock {
		return nil, newError(KindCorruptSnapshot, "paused state has no program frame")
	}
	p, ok := i.programs[frames[0].Program]
	if !ok {
		return nil, newError(KindCorruptSnapshot, "unknown program %q", frames[0].Program)
	}
	log.Debugf("resuming %s with %d frames", p.key, len(frames))
	return i.run(ctx, true, func() Completion {
		i.root = p.key
		i.cursor = frames
		return i.execProgram(p, frames[0].Context)
	})
}

// Pause requests a pause at the next checkpoint that can be captured. A
// request made between runs applies to the next Execute or Resume; one still
// untaken when a run completes or fails is dropped.
func (i *Interpreter) Pause() {
	i.pauseRequested.Store(true)
}

// PauseAfter requests a pause once the operation counter reaches ops.
func (i *Interpreter) PauseAfter(ops int64) {
	i.pauseAt.Store(ops)
}

// Abort stops execution at the next checkpoint with an Aborted error.
// finally blocks still run. Aborting a paused interpreter moves it to the
// error phase. Like Pause, a request made between runs applies to the next
// one and a request a finished run did not take is dropped.
func (i *Interpreter) Abort() {
	i.abortRequested.Store(true)
	i.mu.Lock()
	defer i.mu.Unlock()
	switch i.phase {
	case PhaseRunning:
		if !i.abortSet && i.abortCh != nil {
			close(i.abortCh)
			i.abortSet = true
		}
	case PhasePaused:
		i.phase = PhaseError
		i.err = i.abortError(nil)
		i.captured = nil
		i.abortRequested.Store(false)
	}
}

// ExecutionState reports the interpreter's phase, the node being evaluated
// and, when paused, the captured call stack.
func (i *Interpreter) ExecutionState() ExecutionState {
	i.mu.Lock()
	defer i.mu.Unlock()
	st := ExecutionState{
		Phase:      i.phase,
		Result:     i.result,
		Err:        i.err,
		Operations: i.ops.Load(),
	}
	if i.phase == PhaseRunning {
		return st
	}
	if i.current != nil {
		key, id := i.locate(i.current)
		st.Node = &NodeInfo{Type: i.current.NodeType(), Pos: i.current.Position(), Program: key, ID: id}
	}
	for _, f := range i.captured {
		st.CallStack = append(st.CallStack, *f)
	}
	return st
}

// Modules returns the loaded module records ordered by path.
func (i *Interpreter) Modules() []*Module {
	out := make([]*Module, 0, len(i.modules))
	for _, k := range sortedKeys(i.modules) {
		out = append(out, i.modules[k])
	}
	return out
}

// run drives one Execute or Resume to completion, pause or failure.
func (i *Interpreter) run(ctx context.Context, resume bool, body func() Completion) (Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	i.mu.Lock()
	if i.phase == PhaseRunning {
		i.mu.Unlock()
		return nil, errors.New("vm: interpreter is already running")
	}
	i.phase = PhaseRunning
	i.abortCh = make(chan struct{})
	i.abortSet = false
	if i.abortRequested.Load() {
		close(i.abortCh)
		i.abortSet = true
	}
	i.captured = nil
	i.mu.Unlock()

	i.ctx = ctx
	i.frames = nil
	i.pipe = nil
	i.maySuspend = true
	i.unwinding = 0

	c := i.safeRun(body)
	if c.Type != Throw && c.Type != Suspend && len(i.cursor) > 0 {
		c = Completion{Type: Throw, Err: newError(KindCorruptSnapshot, "%d captured frames were not resumed", len(i.cursor))}
	}
	i.cursor = nil

	i.mu.Lock()
	defer i.mu.Unlock()
	switch c.Type {
	case Suspend:
		for l, r := 0, len(i.captured)-1; l < r; l, r = l+1, r-1 {
			i.captured[l], i.captured[r] = i.captured[r], i.captured[l]
		}
		i.phase = PhasePaused
		i.err = nil
		log.Debugf("paused with %d frames after %d operations", len(i.captured), i.ops.Load())
		return nil, ErrPaused
	case Throw:
		re := asRuntimeError(c.Err)
		re.enrich()
		i.clearRequests()
		i.phase = PhaseError
		i.err = re
		i.captured = nil
		return nil, re
	}
	v := normalize(c.Value)
	i.clearRequests()
	i.phase = PhaseCompleted
	i.result = v
	i.err = nil
	return v, nil
}

// clearRequests drops pause and abort requests a finished run did not take.
func (i *Interpreter) clearRequests() {
	i.pauseRequested.Store(false)
	i.abortRequested.Store(false)
	i.pauseAt.Store(0)
}

// safeRun converts an evaluator panic into a script failure so the host
// always receives a single error value.
func (i *Interpreter) safeRun(body func() Completion) (c Completion) {
	defer func() {
		if r := recover(); r != nil {
			c = Completion{Type: Throw, Err: newError(KindTypeMismatch, "internal error: %v", r)}
		}
	}()
	return body()
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

func (i *Interpreter) execProgram(p *program, ctx *Context) Completion {
	f, err := i.resumeFrame(FrameBlock, p.root)
	if err != nil {
		return fromError(err)
	}
	start, pending := 0, false
	var last Value = Undefined
	if f != nil {
		ctx, start, pending, last = f.Context, f.Index, f.Pending, f.Value
	} else {
		i.hoistVars(p.root.Body, ctx)
		if err := i.hoistFunctions(p.root.Body, ctx); err != nil {
			return fromError(err)
		}
	}
	c, pos := i.runList(p.root.Body, ctx, start, pending, last)
	switch c.Type {
	case Suspend:
		i.capture(&Frame{Kind: FrameBlock, Name: p.key, Node: p.root, Context: ctx, Index: pos.next, Pending: pos.pending, Value: pos.last})
		return c
	case Return:
		return Completion{Type: Normal, Value: c.Value}
	case Break, Continue:
		return Completion{Type: Normal, Value: pos.last}
	}
	return c
}
