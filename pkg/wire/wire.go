package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Magic   uint16 = 0xC461
	Version uint8  = 1

	// HeaderSize is the packed length of Header on the wire.
	HeaderSize = 28

	// MaxDatagram is the largest UDP payload over IPv4.
	MaxDatagram = 65507
)

type Command uint8

const (
	HELLO   Command = 0
	DATA    Command = 1
	ALIVE   Command = 2
	GOODBYE Command = 3
)

func (c Command) String() string {
	switch c {
	case HELLO:
		return "HELLO"
	case DATA:
		return "DATA"
	case ALIVE:
		return "ALIVE"
	case GOODBYE:
		return "GOODBYE"
	default:
		return fmt.Sprintf("CMD(%d)", uint8(c))
	}
}

func (c Command) Valid() bool { return c <= GOODBYE }

var (
	ErrTooShort        = errors.New("wire: datagram shorter than header")
	ErrBadMagic        = errors.New("wire: bad magic or version")
	ErrPayloadTooLarge = errors.New("wire: payload exceeds datagram limit")
)

// Header is the fixed preamble of every UAP datagram.
//
//	| 2B magic | 1B version | 1B command | 4B seq | 4B session | 8B clock | 8B timestamp |
//
// All fields are big-endian. Timestamp is sender-local epoch microseconds.
type Header struct {
	Magic        uint16
	Version      uint8
	Command      Command
	Seq          int32
	SessionID    int32
	LogicalClock int64
	Timestamp    int64
}

// NewHeader fills magic and version for an outbound message.
func NewHeader(cmd Command, seq, session int32, clock, ts int64) Header {
	return Header{
		Magic:        Magic,
		Version:      Version,
		Command:      cmd,
		Seq:          seq,
		SessionID:    session,
		LogicalClock: clock,
		Timestamp:    ts,
	}
}

// Encode serializes h followed by payload. Magic and version are taken from h
// so callers can produce deliberately malformed datagrams in tests.
func Encode(h Header, payload []byte) ([]byte, error) {
	if HeaderSize+len(payload) > MaxDatagram {
		return nil, ErrPayloadTooLarge
	}
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(payload))
	PutU16(&buf, h.Magic)
	buf.WriteByte(h.Version)
	buf.WriteByte(byte(h.Command))
	PutU32(&buf, uint32(h.Seq))
	PutU32(&buf, uint32(h.SessionID))
	PutU64(&buf, uint64(h.LogicalClock))
	PutU64(&buf, uint64(h.Timestamp))
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Decode parses a datagram. The returned payload is a copy and is never nil.
func Decode(b []byte) (Header, []byte, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, ErrTooShort
	}
	h := Header{
		Magic:        binary.BigEndian.Uint16(b[0:2]),
		Version:      b[2],
		Command:      Command(b[3]),
		Seq:          int32(binary.BigEndian.Uint32(b[4:8])),
		SessionID:    int32(binary.BigEndian.Uint32(b[8:12])),
		LogicalClock: int64(binary.BigEndian.Uint64(b[12:20])),
		Timestamp:    int64(binary.BigEndian.Uint64(b[20:28])),
	}
	if h.Magic != Magic || h.Version != Version {
		return Header{}, nil, ErrBadMagic
	}
	payload := make([]byte, len(b)-HeaderSize)
	copy(payload, b[HeaderSize:])
	return h, payload, nil
}

func PutU16(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func PutU32(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func PutU64(b *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}
