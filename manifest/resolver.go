package manifest

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolvedDep represents a dependency that has been resolved to a local path.
type ResolvedDep struct {
	Name      string    // dependency name
	LocalPath string    // local filesystem path
	Prefix    string    // import prefix for this dependency's modules
	Commit    string    // checked out commit, for git dependencies
	Spec      Dependency
	Manifest  *Manifest // the dependency's own manifest (may be nil)
}

// SourceDirPaths returns the directories the dependency's modules live in:
// its manifest's source dirs, or its root when it has no manifest.
func (rd *ResolvedDep) SourceDirPaths() []string {
	if rd.Manifest != nil {
		return rd.Manifest.SourceDirPaths()
	}
	return []string{rd.LocalPath}
}

// Resolver manages dependency resolution.
type Resolver struct {
	manifest *Manifest
	lock     *LockFile
}

// NewResolver creates a new dependency resolver.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve resolves all dependencies and returns them in load order
// (topologically sorted: dependencies before dependents).
func (r *Resolver) Resolve() ([]ResolvedDep, error) {
	// Read existing lock file
	lock, err := ReadLock(r.manifest.LockFilePath())
	if err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	r.lock = lock

	if len(r.manifest.Dependencies) > 0 {
		if err := os.MkdirAll(r.manifest.DepsDir(), 0755); err != nil {
			return nil, fmt.Errorf("creating deps dir: %w", err)
		}
	}

	resolved := make(map[string]*ResolvedDep)
	order, err := r.resolveAll(r.manifest, resolved)
	if err != nil {
		return nil, err
	}

	prefixes := make(map[string]string)
	for _, rd := range order {
		if other, ok := prefixes[rd.Prefix]; ok {
			return nil, fmt.Errorf("dependencies %q and %q share import prefix %q", other, rd.Name, rd.Prefix)
		}
		prefixes[rd.Prefix] = rd.Name
	}

	if err := r.writeLock(order); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return order, nil
}

// resolveAll resolves the dependencies of m recursively, in name order.
// Path dependencies are relative to the manifest that declares them.
// Returns dependencies in topological order (deps before dependents).
func (r *Resolver) resolveAll(m *Manifest, resolved map[string]*ResolvedDep) ([]ResolvedDep, error) {
	var order []ResolvedDep

	for _, name := range sortedNames(m.Dependencies) {
		if _, ok := resolved[name]; ok {
			continue
		}

		rd, err := r.resolveOne(name, m.Dependencies[name], m.Dir)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		resolved[name] = rd

		// Transitive dependencies
		if rd.Manifest != nil && len(rd.Manifest.Dependencies) > 0 {
			transitive, err := r.resolveAll(rd.Manifest, resolved)
			if err != nil {
				return nil, err
			}
			order = append(order, transitive...)
		}

		order = append(order, *rd)
	}

	return order, nil
}

// resolveOne resolves a single dependency.
func (r *Resolver) resolveOne(name string, dep Dependency, base string) (*ResolvedDep, error) {
	switch {
	case dep.Path != "":
		localPath := dep.Path
		if !filepath.IsAbs(localPath) {
			localPath = filepath.Join(base, localPath)
		}
		localPath, err := filepath.Abs(localPath)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", dep.Path, err)
		}
		if _, err := os.Stat(localPath); err != nil {
			return nil, fmt.Errorf("local dependency %q not found at %s: %w", name, localPath, err)
		}
		return r.finish(name, dep, localPath, "")

	case dep.Git != "":
		depDir := filepath.Join(r.manifest.DepsDir(), name)
		ref := dep.Tag
		if _, err := os.Stat(depDir); os.IsNotExist(err) {
			log.Infof("cloning %s from %s", name, dep.Git)
			if err := gitClone(dep.Git, depDir); err != nil {
				return nil, err
			}
		} else {
			clean, err := gitIsClean(depDir)
			if err != nil {
				return nil, err
			}
			if !clean {
				return nil, fmt.Errorf("%s has local changes; commit or remove them", depDir)
			}
			locked := r.lock.FindLockedDep(name)
			if locked != nil && locked.Git == dep.Git && locked.Tag == dep.Tag && locked.Commit != "" {
				// Pinned by the lock file: no fetch.
				ref = locked.Commit
			} else {
				log.Infof("fetching %s", name)
				if err := gitFetch(depDir); err != nil {
					return nil, err
				}
			}
		}
		if ref != "" {
			if err := gitCheckout(depDir, ref); err != nil {
				return nil, err
			}
		}
		commit, err := gitCurrentCommit(depDir)
		if err != nil {
			return nil, err
		}
		return r.finish(name, dep, depDir, commit)
	}

	return nil, fmt.Errorf("dependency %q has no git or path specified", name)
}

func (r *Resolver) finish(name string, dep Dependency, dir, commit string) (*ResolvedDep, error) {
	var depManifest *Manifest
	if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
		m, err := Load(dir)
		if err != nil {
			return nil, err
		}
		depManifest = m
	}
	prefix, err := resolvePrefix(name, dep, depManifest)
	if err != nil {
		return nil, err
	}
	log.Debugf("dependency %s at %s imported as %s/", name, dir, prefix)
	return &ResolvedDep{
		Name:      name,
		LocalPath: dir,
		Prefix:    prefix,
		Commit:    commit,
		Spec:      dep,
		Manifest:  depManifest,
	}, nil
}

// writeLock writes the resolved dependencies to the lock file.
func (r *Resolver) writeLock(order []ResolvedDep) error {
	lf := &LockFile{}
	for _, rd := range order {
		ld := LockedDep{Name: rd.Name, Commit: rd.Commit}
		if rd.Spec.Git != "" {
			ld.Git = rd.Spec.Git
			ld.Tag = rd.Spec.Tag
		} else {
			ld.Path = rd.Spec.Path
		}
		lf.Deps = append(lf.Deps, ld)
	}

	lockDir := filepath.Dir(r.manifest.LockFilePath())
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return err
	}
	return WriteLock(r.manifest.LockFilePath(), lf)
}
