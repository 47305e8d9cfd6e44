// Package ledger implements the bounded field-incident ledger that
// bridges the embedded producer and the host-side consumer. The ring
// holds fixed-size integrity-checked records; capacity exhaustion
// evicts the oldest unconsumed record and the loss is counted, never
// silent.
package ledger

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// RecordType identifies the class of field incident.
type RecordType uint16

const (
	TypeUnknown          RecordType = 0
	TypeMemoryCorruption RecordType = 1
	TypeWatchdogReset    RecordType = 2
	TypeSensorFault      RecordType = 3
	TypeAssertionFailure RecordType = 4
	TypeCommTimeout      RecordType = 5
	TypeRangeViolation   RecordType = 6
)

// String returns the wire name of the record type.
func (t RecordType) String() string {
	switch t {
	case TypeMemoryCorruption:
		return "memory_corruption"
	case TypeWatchdogReset:
		return "watchdog_reset"
	case TypeSensorFault:
		return "sensor_fault"
	case TypeAssertionFailure:
		return "assertion_failure"
	case TypeCommTimeout:
		return "comm_timeout"
	case TypeRangeViolation:
		return "range_violation"
	default:
		return "unknown"
	}
}

// Wire layout constants. The frame is
// {magic:u32, sequence:u32, timestamp:u32, type:u16, size:u16,
//  data:[256]byte, crc32:u32}, little endian. The CRC covers the
// header plus data[:size]; size is authoritative for payload length.
const (
	recordMagic = 0x696E6331 // "inc1"

	headerSize = 16
	MaxPayload = 256
	crcOffset  = headerSize + MaxPayload
	RecordSize = crcOffset + 4
)

// Record is one field incident as seen by the consumer.
type Record struct {
	Sequence  uint32
	Timestamp uint32
	Type      RecordType
	Payload   []byte
	CRC       uint32
}

// Time returns the record timestamp as wall-clock time.
func (r Record) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0).UTC()
}

// IntegrityError reports a CRC or framing failure for one record slot.
// The drain skips the record and continues; the loss is counted.
type IntegrityError struct {
	Sequence uint32
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("incident record %d failed integrity check: %s", e.Sequence, e.Reason)
}

// encodeRecord writes the wire frame into dst, which must be at least
// RecordSize bytes. Payload is truncated to MaxPayload.
func encodeRecord(dst []byte, seq, timestamp uint32, typ RecordType, payload []byte) {
	if len(payload) > MaxPayload {
		payload = payload[:MaxPayload]
	}

	binary.LittleEndian.PutUint32(dst[0:4], recordMagic)
	binary.LittleEndian.PutUint32(dst[4:8], seq)
	binary.LittleEndian.PutUint32(dst[8:12], timestamp)
	binary.LittleEndian.PutUint16(dst[12:14], uint16(typ))
	binary.LittleEndian.PutUint16(dst[14:16], uint16(len(payload)))

	copy(dst[headerSize:headerSize+MaxPayload], payload)
	// Zero the slack so a reused slot never leaks a prior payload.
	for i := headerSize + len(payload); i < crcOffset; i++ {
		dst[i] = 0
	}

	crc := crc32.ChecksumIEEE(dst[:headerSize+len(payload)])
	binary.LittleEndian.PutUint32(dst[crcOffset:RecordSize], crc)
}

// decodeRecord parses and verifies one wire frame.
func decodeRecord(src []byte) (Record, error) {
	if len(src) < RecordSize {
		return Record{}, &IntegrityError{Reason: "short frame"}
	}

	magic := binary.LittleEndian.Uint32(src[0:4])
	seq := binary.LittleEndian.Uint32(src[4:8])
	if magic != recordMagic {
		return Record{}, &IntegrityError{Sequence: seq, Reason: "bad magic"}
	}

	size := binary.LittleEndian.Uint16(src[14:16])
	if int(size) > MaxPayload {
		return Record{}, &IntegrityError{Sequence: seq, Reason: "payload size out of range"}
	}

	want := binary.LittleEndian.Uint32(src[crcOffset:RecordSize])
	got := crc32.ChecksumIEEE(src[:headerSize+int(size)])
	if want != got {
		return Record{}, &IntegrityError{Sequence: seq, Reason: "crc mismatch"}
	}

	payload := make([]byte, size)
	copy(payload, src[headerSize:headerSize+int(size)])

	return Record{
		Sequence:  seq,
		Timestamp: binary.LittleEndian.Uint32(src[8:12]),
		Type:      RecordType(binary.LittleEndian.Uint16(src[12:14])),
		Payload:   payload,
		CRC:       want,
	}, nil
}
