package ledger

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Ledger image files carry a ring pulled off a target so the host
// tool can drain it offline. Layout: a 40-byte header followed by
// capacity * RecordSize slot bytes, little endian throughout.
const (
	imageMagic      = 0x696D6731 // "img1"
	imageHeaderSize = 40
)

// WriteImage serializes the ring and its cursors to path.
func (l *Ledger) WriteImage(path string) error {
	buf := make([]byte, imageHeaderSize+len(l.slots))

	binary.LittleEndian.PutUint32(buf[0:4], imageMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(l.capacity))
	binary.LittleEndian.PutUint64(buf[8:16], l.head.Load())
	binary.LittleEndian.PutUint64(buf[16:24], l.tail.Load())
	binary.LittleEndian.PutUint64(buf[24:32], l.evicted.Load())
	binary.LittleEndian.PutUint32(buf[32:36], l.seq.Load())
	binary.LittleEndian.PutUint32(buf[36:40], l.processed.Load())
	copy(buf[imageHeaderSize:], l.slots)

	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write ledger image: %w", err)
	}
	return nil
}

// ReadImage loads a ledger image produced by WriteImage.
func ReadImage(path string) (*Ledger, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger image: %w", err)
	}
	if len(buf) < imageHeaderSize {
		return nil, fmt.Errorf("ledger image truncated: %d bytes", len(buf))
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != imageMagic {
		return nil, fmt.Errorf("not a ledger image: bad magic")
	}

	capacity := binary.LittleEndian.Uint32(buf[4:8])
	l, err := New(int(capacity))
	if err != nil {
		return nil, err
	}
	if len(buf) != imageHeaderSize+len(l.slots) {
		return nil, fmt.Errorf("ledger image size mismatch: got %d bytes, want %d", len(buf), imageHeaderSize+len(l.slots))
	}

	l.head.Store(binary.LittleEndian.Uint64(buf[8:16]))
	l.tail.Store(binary.LittleEndian.Uint64(buf[16:24]))
	l.evicted.Store(binary.LittleEndian.Uint64(buf[24:32]))
	l.seq.Store(binary.LittleEndian.Uint32(buf[32:36]))
	l.processed.Store(binary.LittleEndian.Uint32(buf[36:40]))
	copy(l.slots, buf[imageHeaderSize:])

	return l, nil
}
