/*
 * Copyright 2024 The propd Authors.
 */

// Package propwire implements the client/service wire protocol described in
// the property-service spec: two framed request shapes (V1 fixed-width, V2
// length-prefixed) over a local stream socket, plus the V2 reply and the
// stable error-kind vocabulary shared by both the service and the client
// library.
package propwire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Field widths for the V1 frame (spec §4.7).
const (
	NameFieldLen  = 32 // NUL-padded name field
	ValueFieldLen = 92 // NUL-padded value field

	// MaxNameLen is the longest *valid* property name (spec §3.1).
	MaxNameLen = 31
	// MaxWireNameLen is the longest name a V2 frame is willing to carry
	// off the wire (spec §4.7: the V2 name field is bounded at 32 bytes,
	// one more than MaxNameLen). A name of exactly 32 bytes is invalid
	// but still a well-formed frame: decoding accepts it so the request
	// reaches validateName and gets back a typed invalid_name reply,
	// instead of the frame itself being rejected and the connection
	// closed with no reply at all.
	MaxWireNameLen = 32
	// MaxInlineValueLen is the longest value accepted for a non-ro.*
	// property; ro.* properties may exceed this in a V2 frame.
	MaxInlineValueLen = 91

	// MaxLongValueLen bounds how large a single ro.* value frame may be,
	// strictly an anti-abuse ceiling on the wire layer -- it is not named
	// by the spec, which only says "unbounded-ish". Values are still
	// subject to whatever an area's long-value heap can hold.
	MaxLongValueLen = 1 << 20
)

// Command words identifying the two request shapes.
const (
	CmdSetProp  uint32 = 1 // PROP_MSG_SETPROP  (V1, fixed width)
	CmdSetProp2 uint32 = 2 // PROP_MSG_SETPROP2 (V2, length-prefixed)
)

// ErrKind is the stable error vocabulary returned in a V2 reply and surfaced
// by the client library (spec §7).
type ErrKind uint32

// Error kinds, in the order given by spec §7.
const (
	KindOK ErrKind = iota
	KindInvalidName
	KindInvalidValue
	KindReadonlyViolation
	KindPermissionDenied
	KindNoContext
	KindAreaFull
	KindNotInitialized
	KindServiceUnavailable
	KindProtocolError
	KindInternal
)

func (k ErrKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindInvalidName:
		return "invalid_name"
	case KindInvalidValue:
		return "invalid_value"
	case KindReadonlyViolation:
		return "readonly_violation"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNoContext:
		return "no_context"
	case KindAreaFull:
		return "area_full"
	case KindNotInitialized:
		return "not_initialized"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindProtocolError:
		return "protocol_error"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("errkind(%d)", uint32(k))
	}
}

// Error adapts an ErrKind to the error interface so it can be returned
// directly by client-facing calls.
type Error struct {
	Kind ErrKind
}

func (e *Error) Error() string {
	return e.Kind.String()
}

// NewError wraps a kind as an error; KindOK wraps to nil.
func NewError(k ErrKind) error {
	if k == KindOK {
		return nil
	}
	return &Error{Kind: k}
}

// KindOf extracts the ErrKind from an error produced by this package,
// returning KindInternal for anything else.
func KindOf(err error) ErrKind {
	if err == nil {
		return KindOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var (
	// ErrShortRead is returned when a frame is truncated mid-read.
	ErrShortRead = errors.New("propwire: short read")
	// ErrUnknownCmd is returned when the leading command word matches
	// neither known frame shape.
	ErrUnknownCmd = errors.New("propwire: unknown command")
	// ErrFieldTooLong is returned by the encoders when a field will not
	// fit the frame being built.
	ErrFieldTooLong = errors.New("propwire: field too long")
)

// Request is a decoded set request, independent of which wire version it
// arrived on.
type Request struct {
	Version int // 1 or 2
	Name    string
	Value   string
}

// EncodeV1 builds a fixed-width V1 PROP_MSG_SETPROP frame. The caller is
// responsible for the field-length checks the service performs again on
// receipt; this only refuses to build a frame that cannot represent the
// input at all.
func EncodeV1(name, value string) ([]byte, error) {
	if len(name) >= NameFieldLen || len(value) >= ValueFieldLen {
		return nil, ErrFieldTooLong
	}

	buf := make([]byte, 4+NameFieldLen+ValueFieldLen)
	binary.LittleEndian.PutUint32(buf[0:4], CmdSetProp)
	copy(buf[4:4+NameFieldLen], name)
	copy(buf[4+NameFieldLen:], value)
	return buf, nil
}

// EncodeV2 builds a length-prefixed V2 PROP_MSG_SETPROP2 frame. Unlike V1,
// value may exceed the inline slot (for ro.* properties); the MaxLongValueLen
// ceiling still applies.
func EncodeV2(name, value string) ([]byte, error) {
	if len(name) > MaxNameLen {
		return nil, ErrFieldTooLong
	}
	if len(value) > MaxLongValueLen {
		return nil, ErrFieldTooLong
	}

	buf := make([]byte, 0, 4+4+len(name)+4+len(value))
	var hdr [4]byte

	binary.LittleEndian.PutUint32(hdr[:], CmdSetProp2)
	buf = append(buf, hdr[:]...)

	binary.LittleEndian.PutUint32(hdr[:], uint32(len(name)))
	buf = append(buf, hdr[:]...)
	buf = append(buf, name...)

	binary.LittleEndian.PutUint32(hdr[:], uint32(len(value)))
	buf = append(buf, hdr[:]...)
	buf = append(buf, value...)

	return buf, nil
}

// ReadRequest reads one request frame from r, auto-detecting the protocol
// version from the leading 4-byte command word, per spec §4.7 and §9 ("the
// server auto-detects by the first 4 bytes"). It reads exactly one frame and
// leaves the reader positioned immediately after it.
func ReadRequest(r io.Reader) (*Request, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, shortOrErr(err)
	}
	cmd := binary.LittleEndian.Uint32(hdr[:])

	switch cmd {
	case CmdSetProp:
		return readV1Body(r)
	case CmdSetProp2:
		return readV2Body(r)
	default:
		return nil, ErrUnknownCmd
	}
}

func readV1Body(r io.Reader) (*Request, error) {
	body := make([]byte, NameFieldLen+ValueFieldLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, shortOrErr(err)
	}

	name := cstring(body[:NameFieldLen])
	value := cstring(body[NameFieldLen:])
	return &Request{Version: 1, Name: name, Value: value}, nil
}

func readV2Body(r io.Reader) (*Request, error) {
	name, err := readLenPrefixed(r, MaxWireNameLen)
	if err != nil {
		return nil, err
	}
	value, err := readLenPrefixed(r, MaxLongValueLen)
	if err != nil {
		return nil, err
	}
	return &Request{Version: 2, Name: string(name), Value: string(value)}, nil
}

func readLenPrefixed(r io.Reader, max int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, shortOrErr(err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > uint32(max) {
		return nil, ErrFieldTooLong
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, shortOrErr(err)
	}
	return buf, nil
}

// cstring returns the bytes up to the first NUL (or the whole slice, if
// none), matching the NUL-padded V1 field convention.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func shortOrErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrShortRead
	}
	return err
}

// WriteV2Reply writes the single u32 V2 reply word.
func WriteV2Reply(w io.Writer, kind ErrKind) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(kind))
	_, err := w.Write(buf[:])
	return err
}

// ReadV2Reply reads the single u32 V2 reply word.
func ReadV2Reply(r io.Reader) (ErrKind, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return KindInternal, shortOrErr(err)
	}
	return ErrKind(binary.LittleEndian.Uint32(buf[:])), nil
}

// NewBufferedReader is a small convenience used by the service so frame
// reads don't each pay for their own syscalls.
func NewBufferedReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 256)
}
