/*
 * Copyright 2024 The propd Authors.
 */

package propd

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// errCorruptRecord is returned internally by readRecord when a record's
// CRC32 doesn't match; the caller (replay) treats this as "end of valid
// log", truncating everything from here on (spec §4.6 "Recovery: corrupt
// tail truncated to the last complete record").
var errCorruptRecord = errors.New("propd: corrupt persist log record")

// persistLog is an append-only log of (name, value) pairs for persist.*
// properties (spec §4.6 "Persistence", §6 "Persist log"). Each record is
// length-prefixed with a CRC32 trailer.
type persistLog struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
}

func openPersistLog(path string) (*persistLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	return &persistLog{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one (name, value) record and flushes it, so a crash right
// after Append returning never loses the record.
func (p *persistLog) Append(name, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := encodeRecord(name, value)
	if _, err := p.w.Write(rec); err != nil {
		return err
	}
	if err := p.w.Flush(); err != nil {
		return err
	}
	persistLogRecords.Inc()
	return nil
}

func (p *persistLog) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.w.Flush(); err != nil {
		p.f.Close()
		return err
	}
	return p.f.Close()
}

// encodeRecord lays out: u32 name_len, name, u32 value_len, value, u32 crc32
// (over everything preceding the crc field).
func encodeRecord(name, value string) []byte {
	body := encodeRecordBody([]byte(name), []byte(value))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], crc32.ChecksumIEEE(body))
	return append(body, tmp[:]...)
}

// replayPersistLog reads every complete, checksum-valid record from path
// in order, calling apply(name, value) for each, and truncates the file at
// the first corrupt or incomplete record found (spec §4.6 "Recovery").
// It is called once at startup before the service accepts connections.
func replayPersistLog(path string, apply func(name, value string)) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var validBytes int64

	for {
		name, value, n, err := readRecord(r)
		if err != nil {
			break
		}
		apply(name, value)
		validBytes += int64(n)
	}

	return f.Truncate(validBytes)
}

func readRecord(r *bufio.Reader) (name, value string, recordLen int, err error) {
	nameLen, err := readU32(r)
	if err != nil {
		return "", "", 0, err
	}
	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return "", "", 0, errCorruptRecord
	}

	valueLen, err := readU32(r)
	if err != nil {
		return "", "", 0, errCorruptRecord
	}
	valueBuf := make([]byte, valueLen)
	if _, err := io.ReadFull(r, valueBuf); err != nil {
		return "", "", 0, errCorruptRecord
	}

	wantCRC, err := readU32(r)
	if err != nil {
		return "", "", 0, errCorruptRecord
	}

	body := encodeRecordBody(nameBuf, valueBuf)
	if crc32.ChecksumIEEE(body) != wantCRC {
		return "", "", 0, errCorruptRecord
	}

	total := 4 + len(nameBuf) + 4 + len(valueBuf) + 4
	return string(nameBuf), string(valueBuf), total, nil
}

func encodeRecordBody(name, value []byte) []byte {
	buf := make([]byte, 0, 4+len(name)+4+len(value))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(name)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, name...)
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(value)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, value...)
	return buf
}

func readU32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
