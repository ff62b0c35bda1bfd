/*
 * Copyright 2024 The propd Authors.
 */

// Package propclient is the process-facing client library (C5): get/set/wait
// against the property system. Reads go straight to shared memory via
// internal/propspace; sets are framed requests (internal/propwire) sent to
// the property service over a local stream socket.
package propclient

import (
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/greenfield-labs/propd/internal/propctx"
	"github.com/greenfield-labs/propd/internal/proparea"
	"github.com/greenfield-labs/propd/internal/propspace"
	"github.com/greenfield-labs/propd/internal/propwire"
)

// Defaults mirror spec §6 "Directories".
const (
	DefaultPropertiesDir = "/dev/__properties__"
	DefaultSocketDir     = "/dev/socket"

	connectTimeout = 250 * time.Millisecond
	ioTimeout      = 2 * time.Second
)

var (
	// ErrNotFound is returned by Get when the property does not exist.
	ErrNotFound = errors.New("propclient: property not found")
	// ErrTimedOut is returned by Wait/WaitAny when the timeout elapses.
	ErrTimedOut = errors.New("propclient: wait timed out")
	// ErrNotInitialized is returned when Get, Iterate, Wait, WaitAny,
	// Baseline or ChangedSince are called before Init. Set does not need
	// Init.
	ErrNotInitialized = errors.New("propclient: not initialized")
)

var (
	mu          sync.Mutex
	initialized bool
	space       *propspace.Space
	socketDirOverride string
)

// Init loads the property_contexts index and maps every area under
// propertiesDir. It is idempotent: the first call wins, every subsequent
// call is a no-op returning nil (spec §4.5 "Initialization is idempotent").
func Init(propertiesDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}

	if propertiesDir == "" {
		propertiesDir = DefaultPropertiesDir
	}

	ctx, err := propctx.Load(propertiesDir + "/property_contexts")
	if err != nil {
		return err
	}
	sp, err := propspace.Open(ctx, propertiesDir)
	if err != nil {
		return err
	}

	space = sp
	initialized = true
	return nil
}

// SetSocketDir overrides the socket directory used by Set, beating the
// PROPERTY_SERVICE_SOCKET_DIR environment variable (spec §4.7 "An
// in-process set_socket_dir call, once, beats env vars"). Call it once,
// before the first Set.
func SetSocketDir(dir string) {
	mu.Lock()
	socketDirOverride = dir
	mu.Unlock()
}

// Get returns the current value of name, or ErrNotFound.
func Get(name string) (string, error) {
	mu.Lock()
	sp := space
	mu.Unlock()
	if sp == nil {
		return "", ErrNotInitialized
	}
	val, err := sp.Get(name)
	if err != nil {
		if errors.Is(err, proparea.ErrNotFound) || errors.Is(err, propctx.ErrNoMatch) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(val), nil
}

// Iterate walks every known property across every area, in the deterministic
// order described by spec §3.4 ("area load order, then pre-order trie
// walk"). It backs getprop's no-argument "list everything" mode.
func Iterate(fn func(name, value string)) error {
	mu.Lock()
	sp := space
	mu.Unlock()
	if sp == nil {
		return ErrNotInitialized
	}
	sp.Iterate(func(name string, value []byte) {
		fn(name, string(value))
	})
	return nil
}

// GetWithDefault returns the current value of name, or def if unset.
func GetWithDefault(name, def string) string {
	v, err := Get(name)
	if err != nil {
		return def
	}
	return v
}

// GetBool parses the value as a boolean the way the Android property system
// does: "1", "true", "y", "yes", "on" are true; "0", "false", "n", "no",
// "off" are false. Any other value, or a failed Get, returns def.
func GetBool(name string, def bool) bool {
	v, err := Get(name)
	if err != nil {
		return def
	}
	switch v {
	case "1", "true", "y", "yes", "on":
		return true
	case "0", "false", "n", "no", "off":
		return false
	default:
		return def
	}
}

// GetInt parses the value as a base-10 integer, or returns def.
func GetInt(name string, def int) int {
	v, err := Get(name)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// protocolVersion resolves PROPERTY_SERVICE_VERSION (spec §4.7), default 2.
func protocolVersion() int {
	switch os.Getenv("PROPERTY_SERVICE_VERSION") {
	case "1":
		return 1
	default:
		return 2
	}
}

func socketDir() string {
	mu.Lock()
	override := socketDirOverride
	mu.Unlock()
	if override != "" {
		return override
	}
	if d := os.Getenv("PROPERTY_SERVICE_SOCKET_DIR"); d != "" {
		return d
	}
	return DefaultSocketDir
}

// socketPath resolves the general client socket (spec §4.7 "Sockets").
func socketPath() string {
	if p := os.Getenv("PROPERTY_SERVICE_SOCKET"); p != "" {
		return p
	}
	return socketDir() + "/property_service"
}

// systemSocketPath resolves the privileged-client socket.
func systemSocketPath() string {
	if p := os.Getenv("PROPERTY_SERVICE_FOR_SYSTEM_SOCKET"); p != "" {
		return p
	}
	return socketDir() + "/property_service_for_system"
}

// Set validates name/value, connects to the service, and sends a set
// request (spec §4.5 "Set path").
func Set(name, value string) error {
	return setVia(socketPath(), name, value)
}

// SetPrivileged is Set but dials the privileged system socket instead.
func SetPrivileged(name, value string) error {
	return setVia(systemSocketPath(), name, value)
}

func setVia(path, name, value string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := validateValue(name, value); err != nil {
		return err
	}

	// Connect and I/O failures both mean "couldn't reach the service",
	// which spec §7 names service_unavailable -- distinct from a reply
	// the service actually sent back.
	conn, err := net.DialTimeout("unix", path, connectTimeout)
	if err != nil {
		return propwire.NewError(propwire.KindServiceUnavailable)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	version := protocolVersion()
	var frame []byte
	if version == 1 {
		frame, err = propwire.EncodeV1(name, value)
	} else {
		frame, err = propwire.EncodeV2(name, value)
	}
	if err != nil {
		return err
	}

	if _, err := conn.Write(frame); err != nil {
		return propwire.NewError(propwire.KindServiceUnavailable)
	}

	if version == 1 {
		return nil
	}

	kind, err := propwire.ReadV2Reply(conn)
	if err != nil {
		return propwire.NewError(propwire.KindServiceUnavailable)
	}
	return propwire.NewError(kind)
}

func validateName(name string) error {
	if name == "" || len(name) > 31 {
		return propwire.NewError(propwire.KindInvalidName)
	}
	for _, c := range name {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '.' || c == '_' || c == '-' || c == ':' || c == '@') {
			return propwire.NewError(propwire.KindInvalidName)
		}
	}
	return nil
}

func validateValue(name, value string) error {
	for _, c := range value {
		if c == 0 {
			return propwire.NewError(propwire.KindInvalidValue)
		}
	}
	if len(name) >= 3 && name[:3] == "ro." {
		return nil
	}
	if len(value) > propwire.MaxInlineValueLen {
		return propwire.NewError(propwire.KindInvalidValue)
	}
	return nil
}

// Wait blocks until name's value changes or timeout elapses (spec §4.5
// "wait(name, timeout)").
func Wait(name string, timeout time.Duration) error {
	mu.Lock()
	sp := space
	mu.Unlock()
	if sp == nil {
		return ErrNotInitialized
	}

	err := sp.WaitName(name, timeout)
	if errors.Is(err, proparea.ErrTimedOut) {
		return ErrTimedOut
	}
	return err
}

// WaitAny blocks until any property in any area changes.
func WaitAny(timeout time.Duration) (uint64, error) {
	mu.Lock()
	sp := space
	mu.Unlock()
	if sp == nil {
		return 0, ErrNotInitialized
	}
	serial, err := sp.WaitAny(timeout)
	if err != nil {
		if errors.Is(err, proparea.ErrTimedOut) {
			return 0, ErrTimedOut
		}
		return 0, err
	}
	return serial, nil
}

// Change is one property reported by ChangedSince.
type Change struct {
	Name  string
	Value string
}

// Baseline captures a snapshot suitable for a later ChangedSince call; take
// one before WaitAny so the subsequent diff only visits what could have
// moved (spec §4.1 "foreach_prop_info... used for diff-style waits").
func Baseline() (map[string]uint32, error) {
	mu.Lock()
	sp := space
	mu.Unlock()
	if sp == nil {
		return nil, ErrNotInitialized
	}
	return sp.AreaSerials(), nil
}

// ChangedSince returns every property that changed since baseline (as
// produced by Baseline), without rescanning areas that could not have
// moved. Typical use: call Baseline, WaitAny, then ChangedSince with the
// earlier baseline once WaitAny reports a change.
func ChangedSince(baseline map[string]uint32) ([]Change, error) {
	mu.Lock()
	sp := space
	mu.Unlock()
	if sp == nil {
		return nil, ErrNotInitialized
	}
	changes := sp.ChangedSince(baseline)
	out := make([]Change, len(changes))
	for i, c := range changes {
		out[i] = Change{Name: c.Name, Value: string(c.Value)}
	}
	return out, nil
}
