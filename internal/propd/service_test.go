package propd

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/greenfield-labs/propd/internal/proparea"
	"github.com/greenfield-labs/propd/internal/propwire"
)

func startTestService(t *testing.T) (propsDir, sockDir string, stop func()) {
	t.Helper()
	propsDir = t.TempDir()
	sockDir = t.TempDir()

	if err := os.WriteFile(filepath.Join(propsDir, "property_contexts"), []byte("* default_prop\n"), 0644); err != nil {
		t.Fatalf("write property_contexts: %v", err)
	}

	area, err := proparea.Create(filepath.Join(propsDir, "default_prop"), 1<<16, proparea.VersionLongValue, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	area.Close()

	svc, err := New(Config{
		PropertiesDir:  propsDir,
		SocketDir:      sockDir,
		PersistLogPath: filepath.Join(propsDir, "persist.log"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Serve(ctx)
		close(done)
	}()

	// Give the listeners a moment to bind.
	time.Sleep(50 * time.Millisecond)

	return propsDir, sockDir, func() {
		cancel()
		<-done
		svc.Close()
	}
}

func dialAndSet(t *testing.T, sockDir, name, value string) propwire.ErrKind {
	t.Helper()
	conn, err := net.Dial("unix", filepath.Join(sockDir, "property_service"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	frame, err := propwire.EncodeV2(name, value)
	if err != nil {
		t.Fatalf("EncodeV2: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
	kind, err := propwire.ReadV2Reply(conn)
	if err != nil {
		t.Fatalf("ReadV2Reply: %v", err)
	}
	return kind
}

func TestServiceSetAndReadBack(t *testing.T) {
	propsDir, sockDir, stop := startTestService(t)
	defer stop()

	if kind := dialAndSet(t, sockDir, "debug.new", "hello"); kind != propwire.KindOK {
		t.Fatalf("set kind = %v, want KindOK", kind)
	}

	area, err := proparea.OpenReadOnly(filepath.Join(propsDir, "default_prop"))
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer area.Close()

	val, err := area.Get("debug.new")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "hello" {
		t.Fatalf("value = %q, want hello", val)
	}
}

func TestServiceRejectsCtlOnGeneralSocket(t *testing.T) {
	_, sockDir, stop := startTestService(t)
	defer stop()

	kind := dialAndSet(t, sockDir, "ctl.restart", "1")
	if kind != propwire.KindPermissionDenied {
		t.Fatalf("kind = %v, want KindPermissionDenied", kind)
	}
}

func TestServiceAllowsCtlOnSystemSocket(t *testing.T) {
	_, sockDir, stop := startTestService(t)
	defer stop()

	conn, err := net.Dial("unix", filepath.Join(sockDir, "property_service_for_system"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	frame, err := propwire.EncodeV2("ctl.restart", "1")
	if err != nil {
		t.Fatalf("EncodeV2: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
	kind, err := propwire.ReadV2Reply(conn)
	if err != nil {
		t.Fatalf("ReadV2Reply: %v", err)
	}
	if kind != propwire.KindOK {
		t.Fatalf("kind = %v, want KindOK", kind)
	}
}

func TestServiceRejectsOverlongNonROValue(t *testing.T) {
	_, sockDir, stop := startTestService(t)
	defer stop()

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	kind := dialAndSet(t, sockDir, "debug.long", string(long))
	if kind != propwire.KindInvalidValue {
		t.Fatalf("kind = %v, want KindInvalidValue", kind)
	}
}

func TestServicePersistsAcrossRestart(t *testing.T) {
	propsDir, sockDir, stop := startTestService(t)

	if kind := dialAndSet(t, sockDir, "persist.sys.tz", "UTC"); kind != propwire.KindOK {
		t.Fatalf("set kind = %v, want KindOK", kind)
	}
	stop()

	svc, err := New(Config{
		PropertiesDir:  propsDir,
		SocketDir:      t.TempDir(),
		PersistLogPath: filepath.Join(propsDir, "persist.log"),
	})
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	defer svc.Close()

	area := svc.areas["default_prop"]
	prop, err := area.Find("persist.sys.tz")
	if err != nil {
		t.Fatalf("Find after replay: %v", err)
	}
	val, _ := area.Read(prop)
	if string(val) != "UTC" {
		t.Fatalf("replayed value = %q, want UTC", val)
	}
}
