package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// LockFile records the exact revision each dependency resolved to.
type LockFile struct {
	Deps []LockedDep `toml:"dep"`
}

// LockedDep is one resolved dependency.
type LockedDep struct {
	Name   string `toml:"name"`
	Git    string `toml:"git,omitempty"`
	Tag    string `toml:"tag,omitempty"`
	Commit string `toml:"commit,omitempty"`
	Path   string `toml:"path,omitempty"`
}

// ReadLock reads a lock file. A missing file yields nil, nil.
func ReadLock(path string) (*LockFile, error) {
	var lf LockFile
	if _, err := toml.DecodeFile(path, &lf); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return &lf, nil
}

// WriteLock writes a lock file with dependencies sorted by name.
func WriteLock(path string, lf *LockFile) error {
	sort.Slice(lf.Deps, func(a, b int) bool { return lf.Deps[a].Name < lf.Deps[b].Name })
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString("# Generated by wang. Do not edit.\n\n"); err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(lf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// FindLockedDep returns the locked entry for name, or nil.
func (lf *LockFile) FindLockedDep(name string) *LockedDep {
	if lf == nil {
		return nil
	}
	for i := range lf.Deps {
		if lf.Deps[i].Name == name {
			return &lf.Deps[i]
		}
	}
	return nil
}
