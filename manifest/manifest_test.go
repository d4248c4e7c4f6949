package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/kestrel/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[vm]
max-frames = 64
max-stack = 512

[output]
float-precision = 3

[cache]
enabled = true
path = "build/images.db"

[log]
verbosity = 2
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.VM.MaxFrames != 64 {
		t.Errorf("max-frames = %d, want 64", m.VM.MaxFrames)
	}
	if m.VM.MaxStack != 512 {
		t.Errorf("max-stack = %d, want 512", m.VM.MaxStack)
	}
	if m.Output.FloatPrecision == nil || *m.Output.FloatPrecision != 3 {
		t.Errorf("float-precision = %v, want 3", m.Output.FloatPrecision)
	}
	if !m.Cache.Enabled {
		t.Error("cache enabled = false, want true")
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", m.Log.Verbosity)
	}

	abs, _ := filepath.Abs(dir)
	if m.Dir != abs {
		t.Errorf("Dir = %q, want %q", m.Dir, abs)
	}
	if got, want := m.CachePath(), filepath.Join(abs, "build", "images.db"); got != want {
		t.Errorf("CachePath = %q, want %q", got, want)
	}

	opts := m.Options()
	if opts.MaxFrames != 64 || opts.MaxStack != 512 || opts.FloatPrecision != 3 {
		t.Errorf("Options = %+v", opts)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[cache]\nenabled = false\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.VM.MaxFrames != vm.DefaultMaxFrames {
		t.Errorf("default max-frames = %d, want %d", m.VM.MaxFrames, vm.DefaultMaxFrames)
	}
	if m.VM.MaxStack != vm.DefaultMaxStack {
		t.Errorf("default max-stack = %d, want %d", m.VM.MaxStack, vm.DefaultMaxStack)
	}
	if m.Output.FloatPrecision != nil {
		t.Errorf("default float-precision = %d, want unset", *m.Output.FloatPrecision)
	}
	if got := m.Options().FloatPrecision; got != -1 {
		t.Errorf("Options().FloatPrecision = %d, want -1", got)
	}
	if m.CachePath() != "" {
		t.Errorf("default CachePath = %q, want empty", m.CachePath())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown key", "[vm]\nmax-heap = 5\n", "unknown key vm.max-heap"},
		{"unknown table", "[project]\nname = \"x\"\n", "unknown key project"},
		{"zero frames", "[vm]\nmax-frames = 0\n", "max-frames must be positive"},
		{"negative stack", "[vm]\nmax-stack = -1\n", "max-stack must be positive"},
		{"bad type", "[vm]\nmax-frames = \"many\"\n", "max-frames"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadReportsPath(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[vm\n")
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), FileName) {
		t.Errorf("error = %v, want it to name %s", err, FileName)
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[vm]\nmax-frames = 7\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.VM.MaxFrames != 7 {
		t.Errorf("max-frames = %d, want 7", m.VM.MaxFrames)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no kestrel.toml exists")
	}
}

func TestCachePathAbsolute(t *testing.T) {
	m := &Manifest{Dir: "/app", Cache: CacheConfig{Path: "/var/cache/k.db"}}
	if got := m.CachePath(); got != "/var/cache/k.db" {
		t.Errorf("CachePath = %q, want /var/cache/k.db", got)
	}
}
