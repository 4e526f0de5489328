package manifest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chazu/wang/vm"
)

// FileResolver serves modules from the project's source directories and
// from resolved dependencies. A module path whose first segment is a
// dependency prefix is looked up in that dependency; any other path is
// looked up in the project source directories, in order.
type FileResolver struct {
	roots  []string
	mounts map[string][]string
}

// NewFileResolver returns a resolver over the given source roots and
// dependencies.
func NewFileResolver(roots []string, deps []ResolvedDep) *FileResolver {
	r := &FileResolver{roots: roots, mounts: make(map[string][]string)}
	for _, d := range deps {
		r.mounts[d.Prefix] = d.SourceDirPaths()
	}
	return r
}

// ModuleResolver returns a file resolver for the project and its resolved
// dependencies.
func (m *Manifest) ModuleResolver(deps []ResolvedDep) *FileResolver {
	return NewFileResolver(m.SourceDirPaths(), deps)
}

// locate maps a module path onto the directories that may hold it and the
// path relative to them.
func (r *FileResolver) locate(p string) ([]string, string, bool) {
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return nil, "", false
	}
	if first, rest, ok := strings.Cut(p, "/"); ok {
		if dirs, ok := r.mounts[first]; ok {
			return dirs, rest, true
		}
	}
	return r.roots, p, true
}

// file returns the filesystem path of a module path, if it exists.
func (r *FileResolver) file(p string) (string, bool) {
	dirs, rel, ok := r.locate(p)
	if !ok {
		return "", false
	}
	for _, dir := range dirs {
		f := filepath.Join(dir, filepath.FromSlash(rel))
		if info, err := os.Stat(f); err == nil && info.Mode().IsRegular() {
			return f, true
		}
	}
	return "", false
}

func (r *FileResolver) find(spec, from string) (string, string, bool) {
	for _, c := range vm.Candidates(spec, from) {
		if f, ok := r.file(c); ok {
			return c, f, true
		}
	}
	return "", "", false
}

func (r *FileResolver) Exists(_ context.Context, spec, from string) bool {
	_, _, ok := r.find(spec, from)
	return ok
}

func (r *FileResolver) Resolve(_ context.Context, spec, from string) (*vm.ResolvedModule, error) {
	p, f, ok := r.find(spec, from)
	if !ok {
		return nil, fmt.Errorf("module %q not found", spec)
	}
	data, err := os.ReadFile(f)
	if err != nil {
		return nil, fmt.Errorf("read module %s: %w", p, err)
	}
	log.Debugf("module %s read from %s", p, f)
	return &vm.ResolvedModule{Source: string(data), Path: p}, nil
}

// List returns the module paths under prefix, sorted. A path served by
// more than one source directory is listed once.
func (r *FileResolver) List(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]bool)
	walk := func(dir, mount string) error {
		err := filepath.WalkDir(dir, func(f string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !vm.IsSourceFile(d.Name()) {
				return nil
			}
			rel, err := filepath.Rel(dir, f)
			if err != nil {
				return err
			}
			p := path.Join(mount, filepath.ToSlash(rel))
			if strings.HasPrefix(p, prefix) {
				seen[p] = true
			}
			return nil
		})
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, dir := range r.roots {
		if err := walk(dir, ""); err != nil {
			return nil, err
		}
	}
	for _, mount := range sortedNames(r.mounts) {
		for _, dir := range r.mounts[mount] {
			if err := walk(dir, mount); err != nil {
				return nil, err
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Metadata describes the file behind a module path.
func (r *FileResolver) Metadata(_ context.Context, p string) (*vm.ModuleMetadata, error) {
	p = path.Clean(p)
	f, ok := r.file(p)
	if !ok {
		return nil, fmt.Errorf("module %q not found", p)
	}
	info, err := os.Stat(f)
	if err != nil {
		return nil, err
	}
	return &vm.ModuleMetadata{
		Path:    p,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Extra:   map[string]string{"file": f},
	}, nil
}
