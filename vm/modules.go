package vm

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/tools/txtar"

	"github.com/chazu/wang/ast"
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// ResolvedModule is the source of a module and its canonical path.
type ResolvedModule struct {
	Source string
	Path   string
}

// ModuleResolver locates module sources. from is the canonical path of the
// importing module, or "" for the main program.
type ModuleResolver interface {
	Resolve(ctx context.Context, spec, from string) (*ResolvedModule, error)
	Exists(ctx context.Context, spec, from string) bool
}

// ModuleLister is implemented by resolvers that can enumerate modules.
type ModuleLister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// ModuleMetadata describes a module source.
type ModuleMetadata struct {
	Path    string
	Size    int64
	ModTime time.Time
	Extra   map[string]string
}

// ModuleMetadataProvider is implemented by resolvers that can describe a
// module without loading it.
type ModuleMetadataProvider interface {
	Metadata(ctx context.Context, path string) (*ModuleMetadata, error)
}

// Parser turns source text into a program tree.
type Parser interface {
	Parse(source, path string) (*ast.Program, error)
}

// ---------------------------------------------------------------------------
// Module records
// ---------------------------------------------------------------------------

// Module is a loaded module. A module is registered while its body is
// still running so that circular imports see its partial export table.
type Module struct {
	Path       string
	Source     string
	InProgress bool
	Context    *Context

	program *program
}

// ModuleNamespace is the value of import * as ns.
type ModuleNamespace struct {
	Module *Module
}

// readExport returns the live value of an export.
func (m *Module) readExport(name string) (Value, error) {
	v, err := m.Context.exportValue(name)
	if err != nil {
		e := undefinedVariable(name)
		e.Message = fmt.Sprintf("%s is not exported by %s or is not yet initialized", name, m.Path)
		return nil, e
	}
	return v, nil
}

// ListModules enumerates modules when the resolver supports it.
func (i *Interpreter) ListModules(ctx context.Context, prefix string) ([]string, error) {
	l, ok := i.resolver.(ModuleLister)
	if !ok {
		return nil, fmt.Errorf("vm: resolver cannot list modules")
	}
	return l.List(ctx, prefix)
}

// ModuleMetadata describes a module when the resolver supports it.
func (i *Interpreter) ModuleMetadata(ctx context.Context, path string) (*ModuleMetadata, error) {
	p, ok := i.resolver.(ModuleMetadataProvider)
	if !ok {
		return nil, fmt.Errorf("vm: resolver does not provide module metadata")
	}
	return p.Metadata(ctx, path)
}

// loadModule returns the module spec names, loading and running it on first
// import.
func (i *Interpreter) loadModule(spec, from string) (*Module, error) {
	if i.resolver == nil {
		return nil, newError(KindModuleNotFound, "cannot import %q: no module resolver configured", spec)
	}
	if !i.resolver.Exists(i.ctx, spec, from) {
		return nil, newError(KindModuleNotFound, "module %q not found", spec)
	}
	res, err := i.resolver.Resolve(i.ctx, spec, from)
	if err != nil {
		e := newError(KindModuleNotFound, "cannot resolve module %q: %v", spec, err)
		e.Err = err
		return nil, e
	}
	if m, ok := i.modules[res.Path]; ok {
		if m.InProgress && res.Path == from {
			return nil, newError(KindCircularDependency, "module imports itself: %s", i.cycle(res.Path))
		}
		log.Debugf("module %s served from cache", res.Path)
		return m, nil
	}
	prog, err := i.parser.Parse(res.Source, res.Path)
	if err != nil {
		e := newError(KindTypeMismatch, "cannot parse module %s: %v", res.Path, err)
		e.Err = err
		return nil, e
	}
	m := &Module{
		Path:       res.Path,
		Source:     res.Source,
		InProgress: true,
		Context:    newModuleContext(i.global, res.Path),
		program:    i.registerProgram(res.Path, prog),
	}
	i.modules[res.Path] = m
	i.loading = append(i.loading, res.Path)
	i.frames = append(i.frames, &activation{name: res.Path, program: res.Path, ctx: m.Context})
	log.Debugf("loading module %s", res.Path)

	c := i.execProgram(m.program, m.Context)

	i.popFrame()
	i.loading = i.loading[:len(i.loading)-1]
	if c.Type == Throw {
		delete(i.modules, res.Path)
		delete(i.programs, res.Path)
		return nil, c.Err
	}
	m.InProgress = false
	return m, nil
}

// cycle renders the chain of modules being loaded that ends in p.
func (i *Interpreter) cycle(p string) string {
	start := len(i.loading) - 1
	for k := len(i.loading) - 1; k >= 0; k-- {
		if i.loading[k] == p {
			start = k
			break
		}
	}
	chain := append(append([]string(nil), i.loading[start:]...), p)
	return strings.Join(chain, " -> ")
}

func (i *Interpreter) execImport(n *ast.ImportDeclaration, ctx *Context) error {
	m, err := i.loadModule(n.Source, ctx.ModulePath())
	if err != nil {
		return err
	}
	for _, s := range n.Specifiers {
		local := s.Local
		if local == "" {
			local = s.Imported
		}
		if _, ok := m.Context.exports[s.Imported]; !ok && !m.InProgress {
			e := undefinedVariable(s.Imported)
			e.Message = fmt.Sprintf("module %s has no export %s", m.Path, s.Imported)
			return e
		}
		if err := ctx.declareImport(local, m, s.Imported); err != nil {
			return err
		}
	}
	if n.DefaultLocal != "" {
		if err := ctx.declareImport(n.DefaultLocal, m, "default"); err != nil {
			return err
		}
	}
	if n.NamespaceLocal != "" {
		if err := ctx.Declare(n.NamespaceLocal, Immutable, &ModuleNamespace{Module: m}); err != nil {
			return err
		}
	}
	return nil
}

func (i *Interpreter) execExportNamed(n *ast.ExportNamedDeclaration, ctx *Context) Completion {
	if n.Declaration != nil {
		c := i.execStmt(n.Declaration, ctx, nil)
		if c.Type != Normal {
			return c
		}
		for _, name := range declaredNames(n.Declaration) {
			ctx.addExport(name, name)
		}
		return normal
	}
	for _, s := range n.Specifiers {
		exported := s.Exported
		if exported == "" {
			exported = s.Local
		}
		if !ctx.ownsName(s.Local) {
			return fromError(i.annotate(undefinedVariable(s.Local), s, ctx))
		}
		ctx.addExport(exported, s.Local)
	}
	return normal
}

// defaultBinding holds the value of export default <expression>.
const defaultBinding = "*default*"

func (i *Interpreter) execExportDefault(n *ast.ExportDefaultDeclaration, ctx *Context) error {
	switch d := n.Declaration.(type) {
	case *ast.FunctionDeclaration:
		if d.ID != nil {
			return nil
		}
		c := i.makeClosure(d, ctx)
		c.name = "default"
		return i.bindDefault(c, n, ctx)
	case *ast.ClassDeclaration:
		cls, err := i.declareClass(d, ctx)
		if err != nil {
			return err
		}
		ctx.addExport("default", cls.Name)
		return nil
	case ast.Expression:
		v, err := i.evalExpr(d, ctx)
		if err != nil {
			return err
		}
		if c, ok := v.(*Closure); ok && c.Name() == "" {
			c.name = "default"
		}
		return i.bindDefault(v, n, ctx)
	}
	return i.annotate(newError(KindTypeMismatch, "cannot export %s as default", n.Declaration.NodeType()), n, ctx)
}

func (i *Interpreter) bindDefault(v Value, n ast.Node, ctx *Context) error {
	if err := ctx.Declare(defaultBinding, Immutable, v); err != nil {
		return i.annotate(newError(KindDuplicateDeclaration, "module has more than one default export"), n, ctx)
	}
	ctx.addExport("default", defaultBinding)
	return nil
}

// declaredNames lists the names a declaration statement introduces.
func declaredNames(s ast.Statement) []string {
	switch d := s.(type) {
	case *ast.VariableDeclaration:
		names := make([]string, len(d.Declarations))
		for k, decl := range d.Declarations {
			names[k] = decl.ID.Name
		}
		return names
	case *ast.FunctionDeclaration:
		if d.ID != nil {
			return []string{d.ID.Name}
		}
	case *ast.ClassDeclaration:
		if d.ID != nil {
			return []string{d.ID.Name}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// In-memory resolvers
// ---------------------------------------------------------------------------

// sourceExtensions are tried, in order, after the bare path.
var sourceExtensions = []string{".json", ".yaml", ".yml"}

// ResolveSpec turns an import specifier into a module path. Specifiers
// starting with ./ or ../ are relative to the importing module.
func ResolveSpec(spec, from string) string {
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
		return path.Join(path.Dir(from), spec)
	}
	return path.Clean(strings.TrimPrefix(spec, "/"))
}

// Candidates lists the paths a specifier may name, in lookup order.
func Candidates(spec, from string) []string {
	p := ResolveSpec(spec, from)
	out := []string{p}
	for _, ext := range sourceExtensions {
		out = append(out, p+ext)
	}
	return out
}

// IsSourceFile reports whether name carries a module document extension.
func IsSourceFile(name string) bool {
	for _, ext := range sourceExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// MemoryResolver serves modules from a map of path to source.
type MemoryResolver struct {
	mu      sync.RWMutex
	sources map[string]string
	created time.Time
}

// NewMemoryResolver returns a resolver over sources.
func NewMemoryResolver(sources map[string]string) *MemoryResolver {
	r := &MemoryResolver{sources: make(map[string]string), created: time.Now()}
	for p, src := range sources {
		r.sources[path.Clean(p)] = src
	}
	return r
}

// NewArchiveResolver serves the files of a txtar archive as modules.
func NewArchiveResolver(data []byte) *MemoryResolver {
	ar := txtar.Parse(data)
	sources := make(map[string]string, len(ar.Files))
	for _, f := range ar.Files {
		sources[f.Name] = string(f.Data)
	}
	return NewMemoryResolver(sources)
}

// LoadArchiveResolver reads a txtar archive from disk.
func LoadArchiveResolver(file string) (*MemoryResolver, error) {
	ar, err := txtar.ParseFile(file)
	if err != nil {
		return nil, fmt.Errorf("vm: read archive %s: %w", file, err)
	}
	sources := make(map[string]string, len(ar.Files))
	for _, f := range ar.Files {
		sources[f.Name] = string(f.Data)
	}
	return NewMemoryResolver(sources), nil
}

// Add registers or replaces a module source.
func (r *MemoryResolver) Add(p, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[path.Clean(p)] = source
}

func (r *MemoryResolver) find(spec, from string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range Candidates(spec, from) {
		if _, ok := r.sources[c]; ok {
			return c, true
		}
	}
	return "", false
}

func (r *MemoryResolver) Exists(_ context.Context, spec, from string) bool {
	_, ok := r.find(spec, from)
	return ok
}

func (r *MemoryResolver) Resolve(_ context.Context, spec, from string) (*ResolvedModule, error) {
	p, ok := r.find(spec, from)
	if !ok {
		return nil, fmt.Errorf("module %q not found", spec)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &ResolvedModule{Source: r.sources[p], Path: p}, nil
}

func (r *MemoryResolver) List(_ context.Context, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for p := range r.sources {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryResolver) Metadata(_ context.Context, p string) (*ModuleMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[path.Clean(p)]
	if !ok {
		return nil, fmt.Errorf("module %q not found", p)
	}
	return &ModuleMetadata{Path: path.Clean(p), Size: int64(len(src)), ModTime: r.created}, nil
}
