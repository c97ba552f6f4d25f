// Package manifest handles sparkling.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/h2co3/sparkling/vm"
	"github.com/h2co3/sparkling/vm/dist"
	"github.com/tliron/commonlog"
)

// FileName is the name of the project file.
const FileName = "sparkling.toml"

var log = commonlog.GetLogger("sparkling.manifest")

// Manifest represents a sparkling.toml project configuration.
type Manifest struct {
	Project      Project      `toml:"project"`
	Source       Source       `toml:"source"`
	VM           VMSettings   `toml:"vm"`
	Cache        CacheConfig  `toml:"cache"`
	Server       ServerConfig `toml:"server"`
	Image        ImageConfig  `toml:"image"`
	Capabilities Capabilities `toml:"capabilities"`

	// Dir is the directory containing the sparkling.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// VMSettings tunes the virtual machine. Zero values keep the VM defaults.
type VMSettings struct {
	MaxCallDepth int `toml:"max-call-depth"`
	InitialStack int `toml:"initial-stack"`
}

// CacheConfig configures the compiled-program cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ServerConfig configures the Connect server.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// ImageConfig configures image output.
type ImageConfig struct {
	Output        string `toml:"output"`
	IncludeSource bool   `toml:"include-source"`
}

// Capabilities restricts the host globals a loaded image may use.
type Capabilities struct {
	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`
}

// Load parses a sparkling.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		log.Warningf("%s: unknown key %q", path, key.String())
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if m.VM.MaxCallDepth < 0 || m.VM.InitialStack < 0 {
		return nil, fmt.Errorf("%s: vm settings must not be negative", path)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = "main.spn"
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".sparkling", "cache.db")
	}
	if m.Server.Addr == "" {
		m.Server.Addr = ":4567"
	}
	if m.Image.Output == "" {
		name := m.Project.Name
		if name == "" {
			name = filepath.Base(m.Dir)
		}
		m.Image.Output = name + ".spnc"
	}

	log.Debugf("loaded %s", path)
	return &m, nil
}

// FindAndLoad walks up from startDir to find a sparkling.toml file,
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

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// EntryPath locates the entry file: relative to the project directory if it
// exists there, otherwise in the first source directory that has it.
func (m *Manifest) EntryPath() (string, error) {
	candidates := []string{filepath.Join(m.Dir, m.Source.Entry)}
	for _, d := range m.SourceDirPaths() {
		candidates = append(candidates, filepath.Join(d, m.Source.Entry))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("entry %q not found in %s or its source directories", m.Source.Entry, m.Dir)
}

// CachePath returns the absolute path of the program cache database.
func (m *Manifest) CachePath() string {
	if filepath.IsAbs(m.Cache.Path) {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// ImagePath returns the absolute path images are written to.
func (m *Manifest) ImagePath() string {
	if filepath.IsAbs(m.Image.Output) {
		return m.Image.Output
	}
	return filepath.Join(m.Dir, m.Image.Output)
}

// VMConfig converts the [vm] table to a vm.Config.
func (m *Manifest) VMConfig() vm.Config {
	return vm.Config{
		MaxCallDepth: m.VM.MaxCallDepth,
		InitialStack: m.VM.InitialStack,
	}
}

// Policy builds the capability policy for loading images. Without an allow
// list every global is allowed.
func (m *Manifest) Policy() *dist.CapabilityPolicy {
	p := dist.NewPermissivePolicy()
	if len(m.Capabilities.Allow) > 0 {
		p = dist.NewRestrictedPolicy(m.Capabilities.Allow)
	}
	for _, d := range m.Capabilities.Deny {
		p.Deny(d)
	}
	return p
}
