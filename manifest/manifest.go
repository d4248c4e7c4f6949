// Package manifest handles kestrel.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/kestrel/vm"
)

// FileName is the manifest file looked up by FindAndLoad.
const FileName = "kestrel.toml"

// Manifest represents a kestrel.toml configuration.
type Manifest struct {
	VM     VMConfig     `toml:"vm"`
	Output OutputConfig `toml:"output"`
	Cache  CacheConfig  `toml:"cache"`
	Log    LogConfig    `toml:"log"`

	// Dir is the directory containing the kestrel.toml file (set at load
	// time). Empty for the defaults.
	Dir string `toml:"-"`
}

// VMConfig bounds interpreter resources.
type VMConfig struct {
	MaxFrames int `toml:"max-frames"`
	MaxStack  int `toml:"max-stack"`
}

// OutputConfig controls print formatting.
type OutputConfig struct {
	// FloatPrecision is the number of decimals printed for doubles.
	// Negative selects the shortest round-trip form.
	FloatPrecision *int `toml:"float-precision"`
}

// CacheConfig configures the compiled-image cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int `toml:"verbosity"`
}

// Default returns the configuration used when no manifest exists.
func Default() *Manifest {
	return &Manifest{
		VM: VMConfig{
			MaxFrames: vm.DefaultMaxFrames,
			MaxStack:  vm.DefaultMaxStack,
		},
	}
}

// Load parses a kestrel.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text, filling unset values with defaults.
func Parse(data []byte) (*Manifest, error) {
	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	if m.VM.MaxFrames <= 0 {
		return nil, fmt.Errorf("vm.max-frames must be positive, got %d", m.VM.MaxFrames)
	}
	if m.VM.MaxStack <= 0 {
		return nil, fmt.Errorf("vm.max-stack must be positive, got %d", m.VM.MaxStack)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a kestrel.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
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

// Options returns interpreter options for the manifest.
func (m *Manifest) Options() vm.Options {
	opts := vm.DefaultOptions()
	opts.MaxFrames = m.VM.MaxFrames
	opts.MaxStack = m.VM.MaxStack
	if m.Output.FloatPrecision != nil {
		opts.FloatPrecision = *m.Output.FloatPrecision
	}
	return opts
}

// CachePath returns the cache database path. A relative path is resolved
// against the manifest directory; an empty one means the default location.
func (m *Manifest) CachePath() string {
	p := m.Cache.Path
	if p != "" && !filepath.IsAbs(p) && m.Dir != "" {
		p = filepath.Join(m.Dir, p)
	}
	return p
}
