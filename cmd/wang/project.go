package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/wang/manifest"
	"github.com/chazu/wang/store"
	"github.com/chazu/wang/vm"
	"github.com/chazu/wang/vm/wire"
)

// project is the environment commands run in: the wang.toml found from the
// working directory, or the directory itself when there is none.
type project struct {
	Manifest *manifest.Manifest // nil outside a project
	Dir      string
	Deps     []manifest.ResolvedDep
	Resolver *manifest.FileResolver
	Format   wire.Format
}

func loadProject(dir string) (*project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(abs)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil {
		log.Debugf("no %s found, using %s as the module root", manifest.FileName, abs)
		return &project{
			Dir:      abs,
			Resolver: manifest.NewFileResolver([]string{abs}, nil),
			Format:   wire.FormatJSON,
		}, nil
	}

	deps, err := manifest.NewResolver(m).Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolving dependencies: %w", err)
	}
	format, err := wire.ParseFormat(m.Engine.SnapshotFormat)
	if err != nil {
		return nil, err
	}
	log.Infof("project %s: %d dependencies", m.Project.Name, len(deps))
	return &project{
		Manifest: m,
		Dir:      m.Dir,
		Deps:     deps,
		Resolver: m.ModuleResolver(deps),
		Format:   format,
	}, nil
}

// Options returns the interpreter options for the project.
func (p *project) Options() []vm.Option {
	if p.Manifest != nil {
		return []vm.Option{vm.WithConfig(p.Manifest.EngineConfig()), vm.WithResolver(p.Resolver)}
	}
	return []vm.Option{vm.WithResolver(p.Resolver)}
}

// StorePath returns the snapshot database location.
func (p *project) StorePath() string {
	if p.Manifest != nil {
		return p.Manifest.StorePath()
	}
	return filepath.Join(p.Dir, ".wang", "snapshots.db")
}

func (p *project) openStore() (*store.Store, error) {
	return store.Open(p.StorePath(), store.WithFormat(p.Format))
}

// source returns the program to run: the given file, or the project's
// entry module.
func (p *project) source(ctx context.Context, file string) (string, string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", "", err
		}
		return string(data), file, nil
	}
	if p.Manifest == nil {
		return "", "", fmt.Errorf("no program given and no %s found", manifest.FileName)
	}
	rm, err := p.Resolver.Resolve(ctx, p.Manifest.EntryModule(), "")
	if err != nil {
		return "", "", fmt.Errorf("entry module: %w", err)
	}
	return rm.Source, rm.Path, nil
}
