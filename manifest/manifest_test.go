package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with a sparkling.toml
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "test-app"
version = "0.1.0"

[source]
dirs = ["src", "lib"]
entry = "app.spn"

[vm]
max-call-depth = 64
initial-stack = 32

[cache]
enabled = true
path = "/tmp/spn-cache.db"

[server]
addr = "127.0.0.1:9000"

[image]
output = "out/app.spnc"
include-source = true

[capabilities]
allow = ["print", "math"]
deny = ["math"]
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if len(m.Source.Dirs) != 2 {
		t.Errorf("source dirs count = %d, want 2", len(m.Source.Dirs))
	}
	if m.Source.Entry != "app.spn" {
		t.Errorf("source entry = %q, want app.spn", m.Source.Entry)
	}
	cfg := m.VMConfig()
	if cfg.MaxCallDepth != 64 || cfg.InitialStack != 32 {
		t.Errorf("VMConfig = %+v, want depth 64 stack 32", cfg)
	}
	if !m.Cache.Enabled || m.CachePath() != "/tmp/spn-cache.db" {
		t.Errorf("cache = %+v, path %q", m.Cache, m.CachePath())
	}
	if m.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("server addr = %q", m.Server.Addr)
	}
	if m.ImagePath() != filepath.Join(m.Dir, "out", "app.spnc") {
		t.Errorf("image path = %q", m.ImagePath())
	}
	if !m.Image.IncludeSource {
		t.Error("image include-source = false, want true")
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Default source dir should be "src"
	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "src" {
		t.Errorf("default source dirs = %v, want [src]", m.Source.Dirs)
	}
	if m.Source.Entry != "main.spn" {
		t.Errorf("default entry = %q, want main.spn", m.Source.Entry)
	}
	if m.Server.Addr != ":4567" {
		t.Errorf("default addr = %q, want :4567", m.Server.Addr)
	}
	if m.CachePath() != filepath.Join(m.Dir, ".sparkling", "cache.db") {
		t.Errorf("default cache path = %q", m.CachePath())
	}
	if m.ImagePath() != filepath.Join(m.Dir, "minimal.spnc") {
		t.Errorf("default image path = %q", m.ImagePath())
	}
	if cfg := m.VMConfig(); cfg.MaxCallDepth != 0 || cfg.InitialStack != 0 {
		t.Errorf("VMConfig = %+v, want zero values (VM defaults)", cfg)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		msg     string
	}{
		{"syntax", "[project\nname = 1", "parse error"},
		{"negative depth", "[vm]\nmax-call-depth = -1", "must not be negative"},
		{"wrong type", "[vm]\nmax-call-depth = \"deep\"", "parse error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error = %v, want mention of %q", err, tt.msg)
			}
		})
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no sparkling.toml exists")
	}
}

func TestSourceDirPaths(t *testing.T) {
	m := &Manifest{
		Dir: "/app",
		Source: Source{
			Dirs: []string{"src", "lib"},
		},
	}

	paths := m.SourceDirPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/app/src" {
		t.Errorf("paths[0] = %q, want /app/src", paths[0])
	}
	if paths[1] != "/app/lib" {
		t.Errorf("paths[1] = %q, want /app/lib", paths[1])
	}
}

func TestEntryPath(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[source]\nentry = \"main.spn\"\n")
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.EntryPath(); err == nil {
		t.Error("expected error before the entry exists")
	}

	want := filepath.Join(dir, "src", "main.spn")
	if err := os.WriteFile(want, []byte("return 0;"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := m.EntryPath()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("EntryPath = %q, want %q", got, want)
	}
}

func TestPolicy(t *testing.T) {
	m := &Manifest{Capabilities: Capabilities{Allow: []string{"print", "math"}, Deny: []string{"math"}}}
	p := m.Policy()
	if p.Allowed == nil || !p.Allowed["print"] {
		t.Errorf("allow list = %v", p.Allowed)
	}
	if !p.Denied["math"] {
		t.Errorf("deny list = %v", p.Denied)
	}

	open := (&Manifest{}).Policy()
	if open.Allowed != nil {
		t.Error("empty allow list should allow everything")
	}
}
