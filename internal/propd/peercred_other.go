/*
 * Copyright 2024 The propd Authors.
 */

//go:build !linux

package propd

import "net"

// peerCredentials has no portable equivalent of SO_PEERCRED outside
// Linux; callers get zero uid/gid/pid. DefaultAuth does not look at them:
// it decides ctl.* by which socket accepted the connection.
func peerCredentials(conn net.Conn) (uid, gid uint32, pid int32, ok bool) {
	return 0, 0, 0, false
}
