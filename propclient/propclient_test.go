package propclient

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/greenfield-labs/propd/internal/proparea"
	"github.com/greenfield-labs/propd/internal/propwire"
)

func setupTestArea(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "property_contexts"), []byte("* default_prop\n"), 0644); err != nil {
		t.Fatalf("write property_contexts: %v", err)
	}

	area, err := proparea.Create(filepath.Join(dir, "default_prop"), 8192, proparea.VersionInline, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := area.Add("debug.enabled", []byte("1")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := area.Add("debug.count", []byte("42")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	area.Close()

	return dir
}

func TestInitIsIdempotent(t *testing.T) {
	resetGlobalsForTest()
	dir := setupTestArea(t)

	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(dir); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestGetTypedAccessors(t *testing.T) {
	resetGlobalsForTest()
	dir := setupTestArea(t)
	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if !GetBool("debug.enabled", false) {
		t.Fatal("GetBool(debug.enabled) = false, want true")
	}
	if GetInt("debug.count", -1) != 42 {
		t.Fatalf("GetInt(debug.count) = %d, want 42", GetInt("debug.count", -1))
	}
	if GetWithDefault("missing.key", "fallback") != "fallback" {
		t.Fatal("GetWithDefault did not fall back")
	}
	if _, err := Get("missing.key"); err != ErrNotFound {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
}

// fakeService accepts one connection, decodes the request with propwire,
// and replies (V2 only) with KindOK -- enough to exercise the client's
// Set path without depending on the real service implementation.
func fakeService(t *testing.T, sockPath string) (stop func()) {
	t.Helper()
	l, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := propwire.ReadRequest(conn)
		if err != nil {
			return
		}
		if req.Version == 2 {
			propwire.WriteV2Reply(conn, propwire.KindOK)
		}
	}()

	return func() { l.Close() }
}

func TestSetRoundTrip(t *testing.T) {
	resetGlobalsForTest()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "property_service")

	stop := fakeService(t, sockPath)
	defer stop()

	SetSocketDir(dir)
	if err := Set("debug.new", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func TestSetRejectsInvalidName(t *testing.T) {
	resetGlobalsForTest()
	if err := Set("", "value"); propwire.KindOf(err) != propwire.KindInvalidName {
		t.Fatalf("err = %v, want KindInvalidName", err)
	}
}

func TestSetRejectsOverlongValueForNonRO(t *testing.T) {
	resetGlobalsForTest()
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	if err := Set("debug.x", string(long)); propwire.KindOf(err) != propwire.KindInvalidValue {
		t.Fatalf("err = %v, want KindInvalidValue", err)
	}
}

func TestSetReportsServiceUnavailableWhenNoListener(t *testing.T) {
	resetGlobalsForTest()
	dir := t.TempDir()
	SetSocketDir(dir) // property_service does not exist here

	err := Set("debug.new", "value")
	if propwire.KindOf(err) != propwire.KindServiceUnavailable {
		t.Fatalf("err = %v, want KindServiceUnavailable", err)
	}
}

func TestChangedSinceReportsUpdatesAfterBaseline(t *testing.T) {
	resetGlobalsForTest()
	dir := setupTestArea(t)
	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}

	baseline, err := Baseline()
	if err != nil {
		t.Fatalf("Baseline: %v", err)
	}

	writer, err := proparea.OpenWriter(filepath.Join(dir, "default_prop"))
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer writer.Close()
	prop, err := writer.Find("debug.count")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if err := writer.Update(prop, "debug.count", []byte("43")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	changes, err := ChangedSince(baseline)
	if err != nil {
		t.Fatalf("ChangedSince: %v", err)
	}
	found := false
	for _, c := range changes {
		if c.Name == "debug.count" && c.Value == "43" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ChangedSince did not report debug.count = 43, got %+v", changes)
	}
}

func TestWaitTimesOutWithNoWriter(t *testing.T) {
	resetGlobalsForTest()
	dir := setupTestArea(t)
	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := Wait("debug.enabled", 50*time.Millisecond); err != ErrTimedOut {
		t.Fatalf("Wait err = %v, want ErrTimedOut", err)
	}
}

func resetGlobalsForTest() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	space = nil
	socketDirOverride = ""
}
