package propspace

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/greenfield-labs/propd/internal/propctx"
	"github.com/greenfield-labs/propd/internal/proparea"
)

func buildTestSpace(t *testing.T) (*Space, string) {
	t.Helper()
	dir := t.TempDir()

	def, err := proparea.Create(filepath.Join(dir, "default_prop"), 8192, proparea.VersionInline, true)
	if err != nil {
		t.Fatalf("Create default: %v", err)
	}
	if _, err := def.Add("debug.a", []byte("1")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	def.Close()

	build, err := proparea.Create(filepath.Join(dir, "build_prop"), 8192, proparea.VersionInline, true)
	if err != nil {
		t.Fatalf("Create build: %v", err)
	}
	if _, err := build.Add("ro.build.id", []byte("abc")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	build.Close()

	ctxText := "ro.build.* build_prop\n* default_prop\n"
	ctx, err := propctx.LoadReader(strings.NewReader(ctxText))
	if err != nil {
		t.Fatalf("LoadReader: %v", err)
	}

	sp, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sp, dir
}

func TestSpaceGetRoutesAcrossAreas(t *testing.T) {
	sp, _ := buildTestSpace(t)
	defer sp.Close()

	v, err := sp.Get("ro.build.id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "abc" {
		t.Fatalf("value = %q, want abc", v)
	}

	v, err = sp.Get("debug.a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("value = %q, want 1", v)
	}
}

func TestSpaceIterateVisitsAllAreas(t *testing.T) {
	sp, _ := buildTestSpace(t)
	defer sp.Close()

	seen := map[string]string{}
	sp.Iterate(func(name string, value []byte) {
		seen[name] = string(value)
	})
	if seen["ro.build.id"] != "abc" || seen["debug.a"] != "1" {
		t.Fatalf("seen = %v", seen)
	}
}

func TestSpaceWaitAnyWakesOnWrite(t *testing.T) {
	sp, dir := buildTestSpace(t)
	defer sp.Close()

	writer, err := proparea.OpenWriter(filepath.Join(dir, "default_prop"))
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer writer.Close()

	prop, err := writer.Find("debug.a")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := sp.WaitAny(2 * time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := writer.Update(prop, "debug.a", []byte("2")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitAny: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitAny never woke after Update")
	}
}
