package propwire

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeV1RoundTrip(t *testing.T) {
	frame, err := EncodeV1("debug.a", "hello")
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}
	if len(frame) != 4+NameFieldLen+ValueFieldLen {
		t.Fatalf("frame length = %d, want %d", len(frame), 4+NameFieldLen+ValueFieldLen)
	}

	req, err := ReadRequest(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Version != 1 || req.Name != "debug.a" || req.Value != "hello" {
		t.Fatalf("got %+v", req)
	}
}

func TestEncodeDecodeV2RoundTrip(t *testing.T) {
	frame, err := EncodeV2("persist.sys.tz", "UTC")
	if err != nil {
		t.Fatalf("EncodeV2: %v", err)
	}

	req, err := ReadRequest(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Version != 2 || req.Name != "persist.sys.tz" || req.Value != "UTC" {
		t.Fatalf("got %+v", req)
	}
}

func TestV2LongValue(t *testing.T) {
	long := strings.Repeat("x", 4096)
	frame, err := EncodeV2("ro.build.fingerprint", long)
	if err != nil {
		t.Fatalf("EncodeV2: %v", err)
	}

	req, err := ReadRequest(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Value != long {
		t.Fatalf("value length = %d, want %d", len(req.Value), len(long))
	}
}

func TestNameTooLongRejected(t *testing.T) {
	long := strings.Repeat("a", NameFieldLen)
	if _, err := EncodeV1(long, "v"); err != ErrFieldTooLong {
		t.Fatalf("EncodeV1 err = %v, want ErrFieldTooLong", err)
	}
	if _, err := EncodeV2(long, "v"); err != ErrFieldTooLong {
		t.Fatalf("EncodeV2 err = %v, want ErrFieldTooLong", err)
	}
}

func TestV2WireAcceptsNameAtCapBeyondValidLength(t *testing.T) {
	// 32 bytes is one past MaxNameLen (an invalid name) but still within
	// MaxWireNameLen: decoding must succeed so validation, not framing,
	// is what rejects it.
	name := strings.Repeat("a", MaxWireNameLen)
	var buf bytes.Buffer
	var hdr [4]byte
	binary := func(v uint32) []byte {
		hdr[0] = byte(v)
		hdr[1] = byte(v >> 8)
		hdr[2] = byte(v >> 16)
		hdr[3] = byte(v >> 24)
		return hdr[:]
	}
	buf.Write(binary(CmdSetProp2))
	buf.Write(binary(uint32(len(name))))
	buf.WriteString(name)
	buf.Write(binary(0))

	req, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Name != name {
		t.Fatalf("name = %q, want %q", req.Name, name)
	}
}

func TestUnknownCommand(t *testing.T) {
	buf := []byte{0xff, 0xff, 0xff, 0xff}
	if _, err := ReadRequest(bytes.NewReader(buf)); err != ErrUnknownCmd {
		t.Fatalf("err = %v, want ErrUnknownCmd", err)
	}
}

func TestShortReadIsReported(t *testing.T) {
	buf := []byte{1, 0, 0} // truncated cmd word
	if _, err := ReadRequest(bytes.NewReader(buf)); err != ErrShortRead {
		t.Fatalf("err = %v, want ErrShortRead", err)
	}
}

func TestV1NulPadding(t *testing.T) {
	frame, err := EncodeV1("a", "b")
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}
	// Everything in the name field past the one-byte name should be zero.
	nameField := frame[4 : 4+NameFieldLen]
	for i := 1; i < len(nameField); i++ {
		if nameField[i] != 0 {
			t.Fatalf("name field not NUL-padded at byte %d", i)
		}
	}
}

func TestReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteV2Reply(&buf, KindReadonlyViolation); err != nil {
		t.Fatalf("WriteV2Reply: %v", err)
	}
	kind, err := ReadV2Reply(&buf)
	if err != nil {
		t.Fatalf("ReadV2Reply: %v", err)
	}
	if kind != KindReadonlyViolation {
		t.Fatalf("kind = %v, want KindReadonlyViolation", kind)
	}
}

func TestErrorWrapping(t *testing.T) {
	if NewError(KindOK) != nil {
		t.Fatalf("NewError(KindOK) should be nil")
	}
	err := NewError(KindAreaFull)
	if KindOf(err) != KindAreaFull {
		t.Fatalf("KindOf = %v, want KindAreaFull", KindOf(err))
	}
	if KindOf(nil) != KindOK {
		t.Fatalf("KindOf(nil) should be KindOK")
	}
}
