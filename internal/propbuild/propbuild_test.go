package propbuild

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/greenfield-labs/propd/internal/propctx"
	"github.com/greenfield-labs/propd/internal/proparea"
)

func TestParseBuildPropLastWins(t *testing.T) {
	text := "ro.a=1\n# comment\n\nro.a=2\nro.b=x\n"
	props, err := ParseBuildProp(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseBuildProp: %v", err)
	}
	if props["ro.a"] != "2" {
		t.Fatalf("ro.a = %q, want 2", props["ro.a"])
	}
	if props["ro.b"] != "x" {
		t.Fatalf("ro.b = %q, want x", props["ro.b"])
	}
}

func TestBuildCreatesAreasAndManifest(t *testing.T) {
	ctx, err := propctx.LoadReader(strings.NewReader("ro.build.* build_prop\n* default_prop\n"))
	if err != nil {
		t.Fatalf("LoadReader: %v", err)
	}

	props := map[string]string{
		"ro.build.id": "abc123",
		"debug.foo":   "1",
	}

	outDir := t.TempDir()
	manifest, err := Build(ctx, props, outDir, proparea.VersionInline)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if manifest.BuildID == "" {
		t.Fatal("manifest.BuildID is empty")
	}
	if manifest.Areas["build_prop"] == "" || manifest.Areas["default_prop"] == "" {
		t.Fatalf("manifest.Areas = %v", manifest.Areas)
	}

	area, err := proparea.OpenReadOnly(filepath.Join(outDir, "build_prop"))
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer area.Close()

	val, err := area.Get("ro.build.id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "abc123" {
		t.Fatalf("value = %q, want abc123", val)
	}
}

func TestLoadManifestRoundTrip(t *testing.T) {
	ctx, err := propctx.LoadReader(strings.NewReader("* default_prop\n"))
	if err != nil {
		t.Fatalf("LoadReader: %v", err)
	}

	outDir := t.TempDir()
	if _, err := Build(ctx, map[string]string{"a.b": "1"}, outDir, proparea.VersionInline); err != nil {
		t.Fatalf("Build: %v", err)
	}

	m, err := LoadManifest(outDir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Areas["default_prop"] != "default_prop" {
		t.Fatalf("manifest mismatch: %v", m.Areas)
	}
}
