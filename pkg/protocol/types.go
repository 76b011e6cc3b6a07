package protocol

import (
	"bytes"
	"encoding/binary"
)

// putUint32 writes a 32-bit unsigned integer in big-endian
func putUint32(buf []byte, v uint32) {
	binary.BigEndian.PutUint32(buf, v)
}

// readUint32 reads a 32-bit unsigned integer in big-endian
func readUint32(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

// putFixedString copies s into a fixed-capacity slot.
// Format: [Data (≤ len(slot)-1 bytes)][NUL padding (≥ 1 byte)]
func putFixedString(slot []byte, s string) {
	s = truncate(s, len(slot)-1)
	n := copy(slot, s)
	for i := n; i < len(slot); i++ {
		slot[i] = 0
	}
}

// readFixedString reads a NUL-terminated string from a fixed-capacity slot.
// A slot with no terminator yields at most len(slot)-1 bytes.
func readFixedString(slot []byte) string {
	if i := bytes.IndexByte(slot, 0); i >= 0 {
		return string(slot[:i])
	}
	return string(slot[:len(slot)-1])
}
