// Package manifest handles wang.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/wang/vm"
)

var log = commonlog.GetLogger("wang.manifest")

// FileName is the name of the project configuration file.
const FileName = "wang.toml"

// Manifest represents a wang.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Source       Source                `toml:"source"`
	Engine       Engine                `toml:"engine"`
	Store        StoreConfig           `toml:"store"`
	Dependencies map[string]Dependency `toml:"dependencies"`

	// Dir is the directory containing the wang.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures where modules are found and which one runs first.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// Engine configures the interpreter.
type Engine struct {
	CheckpointInterval int64  `toml:"checkpoint-interval"`
	MaxCallDepth       int    `toml:"max-call-depth"`
	SnapshotFormat     string `toml:"snapshot-format"`
	CollectMetadata    bool   `toml:"collect-metadata"`
}

// StoreConfig configures the snapshot store.
type StoreConfig struct {
	Path string `toml:"path"`
}

// Dependency represents a single project dependency. Its modules are
// imported under a prefix: As if set, else the dependency's project name,
// else the dependency key.
type Dependency struct {
	Git  string `toml:"git"`
	Tag  string `toml:"tag"`
	Path string `toml:"path"`
	As   string `toml:"as"`
}

// Load parses and validates the wang.toml file in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := Validate(data); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Engine.SnapshotFormat == "" {
		m.Engine.SnapshotFormat = "json"
	}
	log.Debugf("loaded %s", path)
	return &m, nil
}

// FindAndLoad walks up from startDir to find a wang.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// EngineConfig returns the interpreter configuration. Unset values keep
// the interpreter defaults.
func (m *Manifest) EngineConfig() vm.Config {
	cfg := vm.DefaultConfig()
	if m.Engine.CheckpointInterval > 0 {
		cfg.CheckpointInterval = m.Engine.CheckpointInterval
	}
	if m.Engine.MaxCallDepth > 0 {
		cfg.MaxCallDepth = m.Engine.MaxCallDepth
	}
	cfg.CollectMetadata = m.Engine.CollectMetadata
	return cfg
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// DepsDir returns the path to the .wang/deps directory.
func (m *Manifest) DepsDir() string {
	return filepath.Join(m.Dir, ".wang", "deps")
}

// LockFilePath returns the path to .wang/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, ".wang", "lock.toml")
}

// StorePath returns the snapshot database path, .wang/snapshots.db unless
// configured.
func (m *Manifest) StorePath() string {
	if m.Store.Path == "" {
		return filepath.Join(m.Dir, ".wang", "snapshots.db")
	}
	if filepath.IsAbs(m.Store.Path) {
		return m.Store.Path
	}
	return filepath.Join(m.Dir, m.Store.Path)
}

// EntryModule returns the module run by default, "main" unless configured.
func (m *Manifest) EntryModule() string {
	if m.Source.Entry == "" {
		return "main"
	}
	return m.Source.Entry
}

// Options returns the interpreter options for this project: its engine
// configuration and a resolver over its sources and deps.
func (m *Manifest) Options(deps []ResolvedDep) []vm.Option {
	return []vm.Option{vm.WithConfig(m.EngineConfig()), vm.WithResolver(m.ModuleResolver(deps))}
}
