/*
 * Copyright 2024 The propd Authors.
 */

package propd

// PeerInfo identifies the process on the other end of a client connection,
// as reported by the OS (spec §4.6 "Authorize... receives (peer_uid,
// peer_gid, peer_pid, name, context)").
type PeerInfo struct {
	UID uint32
	GID uint32
	PID int32
	// Privileged is true when the connection arrived on the
	// property_service_for_system socket (spec §4.7 "Sockets").
	Privileged bool
}

// AuthFunc is the pluggable authorization hook. The default hook
// (DefaultAuth) allows everything except ctl.* names from unprivileged
// connections, matching spec §4.6's "default deny" instruction for ctl.*
// and its note that SELinux enforcement itself is out of scope for this
// core.
type AuthFunc func(peer PeerInfo, name, context string) bool

// DefaultAuth allows all non-ctl.* names, and allows ctl.* only from the
// privileged socket.
func DefaultAuth(peer PeerInfo, name, context string) bool {
	if isControl(name) {
		return peer.Privileged
	}
	return true
}
